package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lamim/reportforge/internal/api"
	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/internal/metrics"
	"github.com/lamim/reportforge/internal/util"
	"github.com/lamim/reportforge/pkg/models"
)

// polishSections runs the editorial pass over every generated section.
// Polish is best effort: a failed or structure-breaking polish keeps the
// original content and records a warning instead of failing the run.
func (o *Orchestrator) polishSections(ctx context.Context) {
	polishModel := o.cfg.PolishModel()

	for i := range o.state.Sections {
		sec := &o.state.Sections[i]
		if sec.Status != models.SectionGenerated {
			continue
		}

		select {
		case <-ctx.Done():
			o.warn("polish pass cut short by cancellation")
			return
		default:
		}

		o.polishSection(ctx, sec, polishModel)

		if err := o.stateStore.Save(o.state); err != nil {
			o.logger.Error("Failed to persist state after polish", "error", err)
			return
		}
	}
}

func (o *Orchestrator) polishSection(ctx context.Context, sec *models.Section, polishModel config.ModelConfig) {
	start := time.Now()

	prompt, err := util.RenderTemplate(o.cfg.PromptTemplates.Polish, map[string]interface{}{
		"Language":  o.cfg.Report.Language,
		"Tone":      o.cfg.Report.WritingStyle.Tone,
		"Formality": o.cfg.Report.WritingStyle.Formality,
		"Content":   sec.Content,
	})
	if err != nil {
		o.warn(fmt.Sprintf("polish skipped for %q: template error: %v", sec.Title, err))
		return
	}

	result, err := o.client.Generate(ctx, polishModel, o.secrets.GetAPIKey(polishModel.BaseURL),
		[]api.Message{{Role: models.RoleUser, Content: prompt}},
		api.CallMeta{RequestID: o.state.RequestID, Section: sec.Title + " (polish)"})
	if err != nil {
		// An interrupted call is the run winding down, not a polish failure
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		o.warn(fmt.Sprintf("polish failed for %q, keeping original content: %v", sec.Title, err))
		return
	}
	o.recordUsage(polishModel, result)

	polished := strings.TrimSpace(result.Text)
	if polished == "" {
		o.warn(fmt.Sprintf("polish returned empty content for %q, keeping original", sec.Title))
		return
	}
	if !headingsPreserved(sec.Content, polished) {
		o.warn(fmt.Sprintf("polish altered headings in %q, keeping original content", sec.Title))
		return
	}

	if err := o.history.Append(models.Turn{
		Role:      models.RoleAssistant,
		Content:   polished,
		SectionID: sec.ID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		o.warn(fmt.Sprintf("polish not persisted for %q, keeping original content: %v", sec.Title, err))
		return
	}

	sec.Content = polished
	sec.Status = models.SectionPolished
	o.state.Stats.PolishedCount++

	metrics.RecordSectionStage("polish", time.Since(start))
	metrics.IncrementSection("polished")

	o.logger.Info("Section polished",
		"section", sec.Title,
		"duration", time.Since(start))
}

// headingsPreserved checks that the polish pass kept every markdown
// heading intact, in order. Anything else means the editor rewrote
// structure it was told not to touch.
func headingsPreserved(original, polished string) bool {
	return strings.Join(extractHeadings(original), "\n") == strings.Join(extractHeadings(polished), "\n")
}

func extractHeadings(md string) []string {
	var headings []string
	inCode := false
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCode = !inCode
			continue
		}
		if !inCode && strings.HasPrefix(trimmed, "#") {
			headings = append(headings, trimmed)
		}
	}
	return headings
}
