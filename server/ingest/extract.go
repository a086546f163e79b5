package ingest

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	rcerrors "github.com/riverchat/riverchat/server/internal/errors"
)

// maxFileSize bounds what a single source file may weigh before extraction
// refuses it.
const maxFileSize = 1 << 20

// ExtractText converts one source file into plain text for chunking.
// Markdown files are parsed and reduced to their textual content; everything
// else passes through as-is when it is valid UTF-8 text.
func ExtractText(filename string, content []byte) (string, error) {
	if len(content) > maxFileSize {
		return "", rcerrors.Extraction("file too large", nil)
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", rcerrors.Extraction("binary file", nil)
	}
	if !utf8.Valid(content) {
		return "", rcerrors.Extraction("invalid encoding", nil)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return extractMarkdown(content)
	default:
		return string(content), nil
	}
}

// extractMarkdown walks the markdown AST and keeps only textual content,
// dropping link targets, HTML blocks, and formatting markers.
func extractMarkdown(content []byte) (string, error) {
	parser := goldmark.New().Parser()
	root := parser.Parse(text.NewReader(content))

	var b strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, isBlock := n.(*ast.Paragraph); isBlock && b.Len() > 0 {
				b.WriteString("\n\n")
			}
			if _, isHeading := n.(*ast.Heading); isHeading && b.Len() > 0 {
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString(" ")
			}
		case *ast.CodeBlock:
			writeCodeLines(&b, node.Lines(), content)
		case *ast.FencedCodeBlock:
			writeCodeLines(&b, node.Lines(), content)
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", rcerrors.Extraction("failed to parse markdown", err)
	}

	return strings.TrimSpace(b.String()), nil
}

func writeCodeLines(b *strings.Builder, lines *text.Segments, content []byte) {
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(content))
	}
	b.WriteString("\n")
}
