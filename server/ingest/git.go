package ingest

import (
	"bytes"
	"context"
	"net/url"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// ProjectName derives the project directory name from a repository URL: the
// last path segment with any ".git" suffix removed.
func ProjectName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}

// cloneRepository shallow-clones repoURL into dest using the git CLI.
// Credentials, when given, are injected into the clone URL and scrubbed from
// any error before it propagates.
func cloneRepository(ctx context.Context, repoURL, username, token, dest string) error {
	cloneURL := repoURL
	if token != "" {
		parsed, err := url.Parse(repoURL)
		if err != nil {
			return errors.Wrap(err, "invalid repository url")
		}
		if username != "" {
			parsed.User = url.UserPassword(username, token)
		} else {
			parsed.User = url.User(token)
		}
		cloneURL = parsed.String()
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--single-branch", cloneURL, dest)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := scrubSecret(strings.TrimSpace(stderr.String()), token)
		return errors.Wrapf(err, "git clone failed: %s", detail)
	}
	return nil
}

func scrubSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}
