package render

import (
	"fmt"
	"strings"

	"github.com/lamim/reportforge/pkg/models"
)

// BuildMarkdown assembles the final report document from the run state.
// Sections appear in TOC order; failed sections are skipped. Each section
// is guaranteed to start with its own level-2 heading even when the model
// forgot to emit one.
func BuildMarkdown(state *models.RunState) string {
	var b strings.Builder

	title := state.TOC.Title
	if title == "" && len(state.Sections) > 0 {
		title = "Report"
	}
	b.WriteString("# " + title + "\n\n")

	b.WriteString("## Table of Contents\n\n")
	n := 0
	for _, sec := range state.Sections {
		if sec.Level != 1 {
			continue
		}
		n++
		b.WriteString(fmt.Sprintf("%d. %s\n", n, sec.Title))
	}
	b.WriteString("\n")

	for _, sec := range state.Sections {
		if !sec.Status.Done() {
			continue
		}
		b.WriteString(ensureHeading(sec) + "\n\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// ensureHeading prefixes the section content with its heading when the
// content does not already begin with one
func ensureHeading(sec models.Section) string {
	content := strings.TrimSpace(sec.Content)
	heading := strings.Repeat("#", sec.Level+1) + " " + sec.Title

	firstLine := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		firstLine = content[:idx]
	}
	if strings.HasPrefix(strings.TrimSpace(firstLine), strings.Repeat("#", sec.Level+1)+" ") {
		return content
	}
	return heading + "\n\n" + content
}
