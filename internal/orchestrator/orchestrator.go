package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/lamim/reportforge/internal/api"
	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/internal/history"
	"github.com/lamim/reportforge/internal/render"
	"github.com/lamim/reportforge/internal/session"
	"github.com/lamim/reportforge/pkg/models"
)

// Generator is the generation transport used by the pipeline
type Generator interface {
	Generate(ctx context.Context, modelCfg config.ModelConfig, apiKey string, messages []api.Message, meta api.CallMeta) (*models.GenerationResult, error)
}

// Orchestrator drives one report request through planning, section
// generation, polishing, and rendering
type Orchestrator struct {
	cfg        *config.Config
	secrets    *config.Secrets
	client     Generator
	sessionMgr *session.Manager
	stateStore *session.StateStore
	history    *history.Store
	state      *models.RunState
	logger     *slog.Logger
	resumeMode bool
}

// New creates an orchestrator for a fresh request
func New(
	cfg *config.Config,
	secrets *config.Secrets,
	client Generator,
	sessionMgr *session.Manager,
	logger *slog.Logger,
) (*Orchestrator, error) {
	hist, err := history.Open(sessionMgr.HistoryPath(), logger)
	if err != nil {
		return nil, err
	}

	state := &models.RunState{
		RequestID:  sessionMgr.RequestID(),
		CreatedAt:  time.Now().UTC(),
		Status:     models.RunRunning,
		ConfigHash: session.ComputeConfigHash(cfg),
		Stats:      models.SessionStats{StartTime: time.Now().UTC()},
	}

	return &Orchestrator{
		cfg:        cfg,
		secrets:    secrets,
		client:     client,
		sessionMgr: sessionMgr,
		stateStore: sessionMgr.NewStateStore(),
		history:    hist,
		state:      state,
		logger:     logger,
	}, nil
}

// NewFromState creates an orchestrator continuing an interrupted request.
// The state is reconciled against the persisted history before work
// resumes.
func NewFromState(
	cfg *config.Config,
	secrets *config.Secrets,
	client Generator,
	sessionMgr *session.Manager,
	state *models.RunState,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if err := session.ValidateResume(state, cfg); err != nil {
		return nil, err
	}

	turns, err := history.Load(sessionMgr.HistoryPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("cannot resume: %w", err)
	}
	session.NormalizeForResume(state, turns, logger)

	hist, err := history.Open(sessionMgr.HistoryPath(), logger)
	if err != nil {
		return nil, err
	}

	state.Stats.StartTime = time.Now().UTC()

	return &Orchestrator{
		cfg:        cfg,
		secrets:    secrets,
		client:     client,
		sessionMgr: sessionMgr,
		stateStore: sessionMgr.NewStateStore(),
		history:    hist,
		state:      state,
		logger:     logger,
		resumeMode: true,
	}, nil
}

// State returns the current run state
func (o *Orchestrator) State() *models.RunState {
	return o.state
}

// Run executes the report pipeline to a terminal status. The returned
// error is non-nil only when the run itself failed; individual section
// failures surface through the run state.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		if err := o.history.Close(); err != nil {
			o.logger.Warn("Failed to close history store", "error", err)
		}
	}()

	if o.cfg.Report.RunTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.Report.RunTimeoutSeconds)*time.Second)
		defer cancel()
	}

	o.logger.Info("Starting report pipeline",
		"request_id", o.state.RequestID,
		"primary_entity", o.cfg.Report.PrimaryEntity,
		"sections", len(o.cfg.Report.ReportSections),
		"strict_structure", o.cfg.Report.StrictStructure,
		"resume_mode", o.resumeMode)

	if err := o.stateStore.Save(o.state); err != nil {
		return fmt.Errorf("failed to persist initial state: %w", err)
	}

	// Phase 1: table of contents
	if !o.state.TOCComplete {
		toc, err := o.planTOC(ctx)
		if err != nil {
			return o.fail(fmt.Errorf("failed to plan table of contents: %w", err))
		}
		o.state.TOC = *toc
		o.state.Sections = flattenTOC(toc)
		o.state.TOCComplete = true
		o.state.Stats.TotalSections = len(o.state.Sections)
		if err := o.stateStore.Save(o.state); err != nil {
			return fmt.Errorf("failed to persist planned state: %w", err)
		}
		o.logger.Info("Planned table of contents",
			"title", toc.Title,
			"sections", len(o.state.Sections))
	} else {
		o.logger.Info("Resuming with existing table of contents",
			"sections", len(o.state.Sections))
	}

	// Phase 2: section generation, strictly in TOC order
	if err := o.generateSections(ctx); err != nil {
		return err
	}
	if o.state.Status.Terminal() {
		return nil
	}
	if ctx.Err() != nil {
		o.logger.Warn("Run cancelled after section generation")
		return o.cancelRun()
	}

	// Phase 3: polish pass over generated sections
	if !o.cfg.Report.DisablePolish {
		o.polishSections(ctx)
		if ctx.Err() != nil {
			return o.cancelRun()
		}
	}

	// Phase 4: render artifacts
	o.renderOutputs(ctx)

	return o.finalize()
}

func (o *Orchestrator) generateSections(ctx context.Context) error {
	pending := 0
	for i := range o.state.Sections {
		if o.state.Sections[i].Status == models.SectionPending {
			pending++
		}
	}
	bar := progressbar.Default(int64(pending), "Generating sections")

	for i := range o.state.Sections {
		sec := &o.state.Sections[i]
		if sec.Status != models.SectionPending {
			continue
		}

		// Cancellation is honored only at section boundaries so no
		// half-recorded section is left behind
		select {
		case <-ctx.Done():
			o.logger.Warn("Run cancelled at section boundary", "next_section", sec.Title)
			return o.cancelRun()
		default:
		}

		if err := o.generateSection(ctx, sec); err != nil {
			if o.cfg.Report.RequireFullSuccess {
				return o.fail(fmt.Errorf("section %q failed: %w", sec.Title, err))
			}
		}

		if err := o.stateStore.Save(o.state); err != nil {
			return fmt.Errorf("failed to persist state after section: %w", err)
		}
		_ = bar.Add(1)
	}

	return nil
}

func (o *Orchestrator) renderOutputs(ctx context.Context) {
	md := render.BuildMarkdown(o.state)
	if err := writeFile(o.sessionMgr.MarkdownPath(), md); err != nil {
		o.warn(fmt.Sprintf("failed to write markdown: %v", err))
		return
	}
	o.state.Outputs.MarkdownPath = o.sessionMgr.MarkdownPath()

	htmlDoc, err := render.ToHTML(md)
	if err != nil {
		o.warn(fmt.Sprintf("HTML rendering failed: %v", err))
		return
	}
	if err := writeFile(o.sessionMgr.HTMLPath(), htmlDoc); err != nil {
		o.warn(fmt.Sprintf("failed to write HTML: %v", err))
		return
	}
	o.state.Outputs.HTMLPath = o.sessionMgr.HTMLPath()

	if o.cfg.Output.DisablePDF {
		o.logger.Info("PDF conversion disabled")
		return
	}

	err = render.ToPDF(ctx, o.cfg.Output.PDFTool, o.sessionMgr.HTMLPath(), o.sessionMgr.PDFPath(), o.cfg.Output.Orientation)
	if err != nil {
		// The report is still usable without a PDF
		o.warn(fmt.Sprintf("PDF conversion failed: %v", err))
		return
	}
	o.state.Outputs.PDFPath = o.sessionMgr.PDFPath()
}

func (o *Orchestrator) finalize() error {
	o.state.Stats.EndTime = time.Now().UTC()
	o.state.Stats.TotalDuration = o.state.Stats.EndTime.Sub(o.state.Stats.StartTime)
	if o.state.Stats.TotalCalls > 0 {
		o.state.Stats.AveragePerCall = o.state.Stats.TotalDuration / time.Duration(o.state.Stats.TotalCalls)
	}

	failed := len(o.state.FailedSectionIDs())
	switch {
	case failed == 0:
		o.state.Status = models.RunCompleted
	default:
		o.state.Status = models.RunCompletedWithErrors
	}

	if err := o.stateStore.Save(o.state); err != nil {
		return fmt.Errorf("failed to persist final state: %w", err)
	}

	o.logger.Info("Report pipeline finished",
		"request_id", o.state.RequestID,
		"status", o.state.Status,
		"generated", o.state.Stats.GeneratedCount,
		"polished", o.state.Stats.PolishedCount,
		"failed", failed,
		"total_tokens", o.state.Stats.Usage.TotalTokens,
		"estimated_cost_usd", o.state.Stats.TotalCost,
		"duration", o.state.Stats.TotalDuration)

	return nil
}

// cancelRun marks the run cancelled and persists it. Cancellation is a
// clean stop, not a failure, so no error is returned.
func (o *Orchestrator) cancelRun() error {
	o.state.Status = models.RunCancelled
	o.state.Stats.EndTime = time.Now().UTC()
	if err := o.stateStore.Save(o.state); err != nil {
		o.logger.Error("Failed to persist cancelled state", "error", err)
	}
	return nil
}

func (o *Orchestrator) fail(cause error) error {
	o.state.Status = models.RunFailed
	o.state.Stats.EndTime = time.Now().UTC()
	if err := o.stateStore.Save(o.state); err != nil {
		o.logger.Error("Failed to persist failed state", "error", err)
	}
	return cause
}

func (o *Orchestrator) warn(msg string) {
	o.logger.Warn(msg)
	o.state.Warnings = append(o.state.Warnings, msg)
}

func (o *Orchestrator) recordUsage(modelCfg config.ModelConfig, result *models.GenerationResult) {
	o.state.Stats.TotalCalls++
	o.state.Stats.Usage.Add(result.Usage)
	o.state.Stats.TotalCost += api.EstimateCost(modelCfg, result.Usage.InputTokens, result.Usage.OutputTokens)
}
