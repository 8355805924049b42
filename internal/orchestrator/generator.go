package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lamim/reportforge/internal/api"
	"github.com/lamim/reportforge/internal/metrics"
	"github.com/lamim/reportforge/internal/util"
	"github.com/lamim/reportforge/pkg/models"
)

// generateSection runs the state machine for one section:
// pending -> generating -> generated, or pending -> generating -> failed.
// The assistant turn is appended to history and synced before the section
// flips to generated, so a crash between the two leaves evidence that
// resume can recover from instead of silently losing content.
func (o *Orchestrator) generateSection(ctx context.Context, sec *models.Section) error {
	sec.Status = models.SectionGenerating
	if err := o.stateStore.Save(o.state); err != nil {
		return fmt.Errorf("failed to persist generating state: %w", err)
	}

	start := time.Now()
	mainModel := o.cfg.Models["main"]

	rolling := buildRollingContext(o.state.Sections, contextBudgetBytes(mainModel))

	prompt, err := util.RenderTemplate(o.cfg.PromptTemplates.SectionGeneration, map[string]interface{}{
		"SectionTitle":   sec.Title,
		"RollingContext": rolling,
		"Language":       o.cfg.Report.Language,
		"Tone":           o.cfg.Report.WritingStyle.Tone,
		"Formality":      o.cfg.Report.WritingStyle.Formality,
		"Emphasis":       strings.Join(o.cfg.Report.WritingStyle.Emphasis, ", "),
	})
	if err != nil {
		return o.failSection(sec, fmt.Errorf("failed to render section template: %w", err))
	}

	system, err := o.renderSystemPrompt()
	if err != nil {
		return o.failSection(sec, err)
	}

	result, err := o.client.Generate(ctx, mainModel, o.secrets.GetAPIKey(mainModel.BaseURL),
		[]api.Message{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: prompt},
		},
		api.CallMeta{RequestID: o.state.RequestID, Section: sec.Title})
	if err != nil {
		// An interrupted call is not a generation failure. The section
		// goes back to pending so the section loop records the
		// cancellation and a later resume regenerates it.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			sec.Status = models.SectionPending
			o.logger.Warn("Section interrupted mid-call, will regenerate on resume", "section", sec.Title)
			return nil
		}
		return o.failSection(sec, err)
	}
	o.recordUsage(mainModel, result)

	// Write-ahead: the content must be durable before the status flip
	now := time.Now().UTC()
	if err := o.history.Append(models.Turn{Role: models.RoleUser, Content: prompt, SectionID: sec.ID, Timestamp: now}); err != nil {
		return o.failSection(sec, fmt.Errorf("failed to persist prompt turn: %w", err))
	}
	if err := o.history.Append(models.Turn{Role: models.RoleAssistant, Content: result.Text, SectionID: sec.ID, Timestamp: time.Now().UTC()}); err != nil {
		return o.failSection(sec, fmt.Errorf("failed to persist content turn: %w", err))
	}

	sec.Content = result.Text
	sec.Status = models.SectionGenerated
	sec.Usage = result.Usage
	sec.LastError = ""
	o.state.Stats.GeneratedCount++

	metrics.RecordSectionStage("generate", time.Since(start))
	metrics.IncrementSection("generated")

	o.logger.Info("Section generated",
		"section", sec.Title,
		"output_tokens", result.Usage.OutputTokens,
		"duration", time.Since(start))

	return nil
}

func (o *Orchestrator) failSection(sec *models.Section, cause error) error {
	sec.Status = models.SectionFailed
	sec.LastError = cause.Error()

	var exhausted *api.RetryExhaustedError
	if errors.As(cause, &exhausted) {
		sec.RetryCount = exhausted.Attempts
	}
	o.state.Stats.FailedCount++
	metrics.IncrementSection("failed")

	o.logger.Error("Section failed",
		"section", sec.Title,
		"error", cause)

	return cause
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
