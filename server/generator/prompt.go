package generator

import (
	"fmt"
	"strings"

	"github.com/riverchat/riverchat/store"
)

const systemPromptGeneral = `You are a helpful assistant. Answer the user's questions clearly and concisely. When you are unsure, say so instead of guessing.`

const systemPromptTools = `You are a helpful assistant with access to external tools. Prefer using a tool when it can answer the question more reliably than recall. Answer clearly and concisely, and when you are unsure, say so instead of guessing.`

const ragContextTemplate = `Use the following retrieved reference material to answer the question. If the material does not cover the question, answer from your own knowledge and say the references did not help.

Reference material:
%s`

// noKnowledgeFound is spliced in when retrieval returns nothing so the model
// knows the knowledge base was consulted and came up empty.
const noKnowledgeFound = "no information found"

// maxTitleRunes caps derived chat titles.
const maxTitleRunes = 32

// titleFromMessage derives a chat title from its first user message.
func titleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return title
}

func systemPrompt(useTools bool) string {
	if useTools {
		return systemPromptTools
	}
	return systemPromptGeneral
}

// buildRAGContext formats retrieved chunks into the reference block.
func buildRAGContext(matches []*store.ChunkMatch) string {
	if len(matches) == 0 {
		return fmt.Sprintf(ragContextTemplate, noKnowledgeFound)
	}

	var b strings.Builder
	for i, match := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s", i+1, match.Chunk.Source, match.Chunk.Content)
	}
	return fmt.Sprintf(ragContextTemplate, b.String())
}
