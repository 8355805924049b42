package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Directives that would let configuration-supplied templates call into
// the program or pull in other templates. Prompt templates are plain
// substitution only.
var forbiddenDirectives = []string{"{{call", "{{define", "{{template", "{{block"}

// RenderTemplate renders a prompt template with the given data. Missing
// keys are an error so a typo in a template never produces a prompt with
// a silent gap in it.
func RenderTemplate(tmpl string, data map[string]interface{}) (string, error) {
	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return "", fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New("prompt").
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// TruncateString shortens a string to maxLen runes, appending an
// ellipsis when anything was cut. Rune-based so multi-byte characters
// are never split.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
