package interaction

import (
	"embed"
	"fmt"
	"strings"

	"parley/pkg/history"
)

//go:embed templates/*.md
var templatesFS embed.FS

const preambleTemplate = "preamble"

// loadPreamble reads the fixed system preamble shipped with the binary.
func loadPreamble() (string, error) {
	content, err := templatesFS.ReadFile("templates/" + preambleTemplate + ".md")
	if err != nil {
		return "", fmt.Errorf("load %s template: %w", preambleTemplate, err)
	}

	preamble := strings.TrimSpace(string(content))
	if preamble == "" {
		return "", fmt.Errorf("template %q is empty", preambleTemplate)
	}
	return preamble, nil
}

// buildPrompt renders the preamble, the windowed transcript and the new
// message as one completion prompt ending on an open assistant turn.
func buildPrompt(preamble string, window history.AssembledContext, message string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")

	for _, turn := range window {
		b.WriteString(speaker(turn.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(turn.Content))
		b.WriteByte('\n')
	}

	b.WriteString("User: ")
	b.WriteString(strings.TrimSpace(message))
	b.WriteString("\nAssistant:")
	return b.String()
}

func speaker(role string) string {
	if role == string(history.RoleAssistant) {
		return "Assistant"
	}
	return "User"
}
