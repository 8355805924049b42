package render

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Error reports a rendering failure with the stage that produced it
type Error struct {
	Stage string // "html" or "pdf"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// pdfTimeout bounds a single document conversion
const pdfTimeout = 5 * time.Minute

// ToPDF converts the HTML file to PDF by shelling out to wkhtmltopdf.
// Callers treat a PDF failure as a warning, the markdown and HTML
// artifacts are already on disk at this point.
func ToPDF(ctx context.Context, tool, htmlPath, pdfPath, orientation string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return &Error{Stage: "pdf", Err: fmt.Errorf("%s not found in PATH: %w", tool, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	args := []string{
		"--page-size", "A4",
		"--orientation", capitalize(orientation),
		"--margin-top", "25mm",
		"--margin-bottom", "25mm",
		"--margin-left", "25mm",
		"--margin-right", "25mm",
		"--encoding", "utf-8",
		"--enable-local-file-access",
		"--quiet",
		htmlPath,
		pdfPath,
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{Stage: "pdf", Err: fmt.Errorf("%s failed: %v: %s", tool, err, strings.TrimSpace(string(out)))}
	}

	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
