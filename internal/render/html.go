package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// htmlTemplate wraps the converted report body. It holds exactly one
// substitution point so report content can never clash with formatting
// directives.
const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body {
    font-family: "Noto Sans KR", "Malgun Gothic", "Apple SD Gothic Neo", sans-serif;
    font-size: 11pt;
    line-height: 1.6;
    color: #1a1a1a;
    margin: 0;
  }
  h1 { font-size: 22pt; border-bottom: 3px solid #2c5282; padding-bottom: 8px; }
  h2 { font-size: 16pt; color: #2c5282; border-bottom: 1px solid #cbd5e0; padding-bottom: 4px; margin-top: 28px; }
  h3 { font-size: 13pt; color: #2d3748; margin-top: 20px; }
  h4 { font-size: 11.5pt; color: #4a5568; }
  p { text-align: justify; }
  table { border-collapse: collapse; width: 100%; margin: 14px 0; font-size: 9.5pt; }
  th { background-color: #2c5282; color: #ffffff; padding: 7px 9px; text-align: left; }
  td { border: 1px solid #cbd5e0; padding: 6px 9px; }
  tr:nth-child(even) td { background-color: #f7fafc; }
  ul, ol { padding-left: 22px; }
  li { margin: 3px 0; }
  .section-break { page-break-before: always; }
</style>
</head>
<body>
{content}
</body>
</html>`

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// ToHTML converts the assembled markdown into a standalone HTML document.
// A page-break marker is inserted before every level-2 heading except the
// first so each top-level section starts on a fresh PDF page.
func ToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", &Error{Stage: "html", Err: fmt.Errorf("markdown conversion failed: %w", err)}
	}

	body := insertSectionBreaks(buf.String())
	return strings.Replace(htmlTemplate, "{content}", body, 1), nil
}

func insertSectionBreaks(body string) string {
	first := true
	var b strings.Builder
	for {
		idx := strings.Index(body, "<h2")
		if idx < 0 {
			b.WriteString(body)
			return b.String()
		}
		b.WriteString(body[:idx])
		if first {
			first = false
		} else {
			b.WriteString(`<div class="section-break"></div>` + "\n")
		}
		// Advance past the tag opener so the next search moves forward
		b.WriteString(body[idx : idx+3])
		body = body[idx+3:]
	}
}
