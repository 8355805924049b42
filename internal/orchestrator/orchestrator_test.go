package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/lamim/reportforge/internal/api"
	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/internal/history"
	"github.com/lamim/reportforge/internal/session"
	"github.com/lamim/reportforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	doc := `
[report]
language = "Korean"
primary_entity = "Kookmin Bank"
comparison_entities = ["Hana", "Woori"]
report_type = "Premium Credit Cards"
report_sections = ["Executive Summary", "Market Outlook", "Competitive Landscape"]
strict_structure = true
disable_polish = true

[models.main]
base_url = "https://api.example.com/v1"
model_name = "test-model"
max_output_tokens = 1024
context_size = 8192

[output]
disable_pdf = true
` + extra

	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

type fakeCall struct {
	meta     api.CallMeta
	messages []api.Message
}

// fakeClient scripts generation responses per section label
type fakeClient struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(meta api.CallMeta, messages []api.Message) (*models.GenerationResult, error)
}

func (f *fakeClient) Generate(_ context.Context, _ config.ModelConfig, _ string, messages []api.Message, meta api.CallMeta) (*models.GenerationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{meta: meta, messages: messages})
	f.mu.Unlock()
	return f.respond(meta, messages)
}

func (f *fakeClient) sectionCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c.meta.Section)
	}
	return names
}

func echoClient() *fakeClient {
	return &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		return &models.GenerationResult{
			Text:  fmt.Sprintf("## %s\n\nContent for %s.", meta.Section, meta.Section),
			Usage: models.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
		}, nil
	}}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, client Generator) (*Orchestrator, *session.Manager) {
	t.Helper()
	mgr, err := session.NewManager(t.TempDir(), session.NewRequestID(), testLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	o, err := New(cfg, &config.Secrets{APIKeys: map[string]string{}}, client, mgr, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o, mgr
}

func TestRun_StrictStructureSkipsPlanningCall(t *testing.T) {
	client := echoClient()
	o, _ := newTestOrchestrator(t, testConfig(t, ""), client)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, name := range client.sectionCalls() {
		if name == "toc_planning" {
			t.Error("Strict structure must not issue a planning call")
		}
	}

	state := o.State()
	if state.Status != models.RunCompleted {
		t.Errorf("Expected completed, got %s", state.Status)
	}
	wantOrder := []string{"Executive Summary", "Market Outlook", "Competitive Landscape"}
	got := client.sectionCalls()
	if len(got) != len(wantOrder) {
		t.Fatalf("Expected %d generation calls, got %v", len(wantOrder), got)
	}
	for i, want := range wantOrder {
		if got[i] != want {
			t.Errorf("Call %d: expected %q, got %q", i, want, got[i])
		}
	}
}

func TestRun_WritesMarkdownAndHTML(t *testing.T) {
	o, mgr := newTestOrchestrator(t, testConfig(t, ""), echoClient())

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	md, err := os.ReadFile(mgr.MarkdownPath())
	if err != nil {
		t.Fatalf("Expected markdown artifact: %v", err)
	}
	if !strings.Contains(string(md), "## Market Outlook") {
		t.Errorf("Markdown missing section:\n%s", md)
	}

	if _, err := os.Stat(mgr.HTMLPath()); err != nil {
		t.Errorf("Expected HTML artifact: %v", err)
	}
	// PDF disabled in the test config, so it may not exist but the run
	// still completes
	if o.State().Outputs.MarkdownPath != mgr.MarkdownPath() {
		t.Errorf("Outputs not recorded: %+v", o.State().Outputs)
	}
	if o.State().Outputs.PDFPath != "" {
		t.Errorf("PDF path must be empty when conversion is disabled")
	}
}

func TestRun_SectionFailureContinuesWithoutFullSuccess(t *testing.T) {
	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		if meta.Section == "Market Outlook" {
			return nil, &api.RetryExhaustedError{Attempts: 3, LastErr: &api.APIError{Message: "boom", StatusCode: 500, Retryable: true}}
		}
		return &models.GenerationResult{Text: "## " + meta.Section + "\n\nok"}, nil
	}}
	o, _ := newTestOrchestrator(t, testConfig(t, ""), client)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run must tolerate a section failure: %v", err)
	}

	state := o.State()
	if state.Status != models.RunCompletedWithErrors {
		t.Errorf("Expected completed_with_errors, got %s", state.Status)
	}
	failed := state.FailedSectionIDs()
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed section, got %v", failed)
	}
	for _, sec := range state.Sections {
		if sec.ID == failed[0] {
			if sec.RetryCount != 3 {
				t.Errorf("Expected retry count 3 on failed section, got %d", sec.RetryCount)
			}
			if sec.LastError == "" {
				t.Error("Expected last error recorded")
			}
		}
	}
	// Later sections still ran
	calls := client.sectionCalls()
	if calls[len(calls)-1] != "Competitive Landscape" {
		t.Errorf("Expected generation to continue past the failure: %v", calls)
	}
}

func TestRun_RequireFullSuccessAborts(t *testing.T) {
	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		if meta.Section == "Market Outlook" {
			return nil, &api.APIError{Message: "quota exceeded", StatusCode: 403}
		}
		return &models.GenerationResult{Text: "## " + meta.Section + "\n\nok"}, nil
	}}
	cfg := testConfig(t, "")
	cfg.Report.RequireFullSuccess = true
	o, _ := newTestOrchestrator(t, cfg, client)

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("Expected run to abort on section failure")
	}
	if o.State().Status != models.RunFailed {
		t.Errorf("Expected failed, got %s", o.State().Status)
	}
	calls := client.sectionCalls()
	if len(calls) != 2 {
		t.Errorf("Expected abort after the failing section, got calls %v", calls)
	}
}

func TestRun_CancellationAtSectionBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		// Cancel while the first section is in flight
		cancel()
		return &models.GenerationResult{Text: "## " + meta.Section + "\n\nok"}, nil
	}}
	o, mgr := newTestOrchestrator(t, testConfig(t, ""), client)

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Cancelled run must not error: %v", err)
	}

	state := o.State()
	if state.Status != models.RunCancelled {
		t.Errorf("Expected cancelled, got %s", state.Status)
	}
	// The in-flight section completed, later ones never started
	if len(client.sectionCalls()) != 1 {
		t.Errorf("Expected exactly 1 call before the boundary check: %v", client.sectionCalls())
	}
	if state.Sections[0].Status != models.SectionGenerated {
		t.Errorf("In-flight section must finish cleanly: %+v", state.Sections[0])
	}

	// State on disk matches
	persisted, err := session.LoadState(mgr.Dir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if persisted.Status != models.RunCancelled {
		t.Errorf("Persisted status mismatch: %s", persisted.Status)
	}
}

func TestRun_CancellationMidCallLeavesSectionPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{respond: func(api.CallMeta, []api.Message) (*models.GenerationResult, error) {
		// The run context is cancelled while the call is in flight and
		// the client surfaces the cancellation, as api.Client does
		cancel()
		return nil, context.Canceled
	}}
	o, mgr := newTestOrchestrator(t, testConfig(t, ""), client)

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Cancelled run must not error: %v", err)
	}

	state := o.State()
	if state.Status != models.RunCancelled {
		t.Errorf("Expected cancelled, got %s", state.Status)
	}
	if state.Sections[0].Status != models.SectionPending {
		t.Errorf("Interrupted section must return to pending: %+v", state.Sections[0])
	}
	if state.Sections[0].LastError != "" {
		t.Errorf("Interruption must not record a section error: %q", state.Sections[0].LastError)
	}
	if state.Stats.FailedCount != 0 {
		t.Errorf("Interruption must not count as a failure, got %d", state.Stats.FailedCount)
	}
	if calls := client.sectionCalls(); len(calls) != 1 {
		t.Errorf("Expected no calls after the interruption: %v", calls)
	}

	persisted, err := session.LoadState(mgr.Dir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if persisted.Status != models.RunCancelled || persisted.Sections[0].Status != models.SectionPending {
		t.Errorf("Persisted state mismatch: status=%s section=%s", persisted.Status, persisted.Sections[0].Status)
	}
}

func TestRun_CancellationMidCallWithRequireFullSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{respond: func(api.CallMeta, []api.Message) (*models.GenerationResult, error) {
		cancel()
		return nil, context.Canceled
	}}
	cfg := testConfig(t, "")
	cfg.Report.RequireFullSuccess = true
	o, _ := newTestOrchestrator(t, cfg, client)

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Cancelled run must not error: %v", err)
	}
	// An interruption is a clean stop even when failures abort the run
	if o.State().Status != models.RunCancelled {
		t.Errorf("Expected cancelled, got %s", o.State().Status)
	}
}

func TestRun_CancellationDuringPolishEndsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		if strings.HasSuffix(meta.Section, "(polish)") {
			cancel()
			return nil, context.Canceled
		}
		return &models.GenerationResult{Text: "## " + meta.Section + "\n\nok"}, nil
	}}
	cfg := testConfig(t, "")
	cfg.Report.DisablePolish = false
	o, _ := newTestOrchestrator(t, cfg, client)

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Cancelled run must not error: %v", err)
	}

	state := o.State()
	if state.Status != models.RunCancelled {
		t.Errorf("Expected cancelled even after generation finished, got %s", state.Status)
	}
	if state.Outputs.MarkdownPath != "" {
		t.Error("Cancelled run must not render outputs")
	}
	// Generated content survives the interrupted polish
	for _, sec := range state.Sections {
		if sec.Status != models.SectionGenerated {
			t.Errorf("Section %q must keep generated content, got %s", sec.Title, sec.Status)
		}
	}
}

func TestRun_HistoryWrittenBeforeStatusFlip(t *testing.T) {
	o, mgr := newTestOrchestrator(t, testConfig(t, ""), echoClient())

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	turns, err := history.Load(mgr.HistoryPath(), testLogger())
	if err != nil {
		t.Fatalf("Load history failed: %v", err)
	}

	ids := history.SectionIDs(turns)
	for _, sec := range o.State().Sections {
		if sec.Status.Done() && !ids[sec.ID] {
			t.Errorf("Generated section %s has no persisted assistant turn", sec.ID)
		}
	}
	// Each section contributes a user and an assistant turn
	if len(turns) != 2*len(o.State().Sections) {
		t.Errorf("Expected %d turns, got %d", 2*len(o.State().Sections), len(turns))
	}
}

func TestRun_PolishPassReplacesContent(t *testing.T) {
	client := &fakeClient{respond: func(meta api.CallMeta, messages []api.Message) (*models.GenerationResult, error) {
		if strings.HasSuffix(meta.Section, "(polish)") {
			// Echo the content back with the same headings, improved prose
			content := messages[len(messages)-1].Content
			start := strings.Index(content, "## ")
			return &models.GenerationResult{Text: content[start:] + " Improved."}, nil
		}
		return &models.GenerationResult{Text: fmt.Sprintf("## %s\n\nDraft prose.", meta.Section)}, nil
	}}
	cfg := testConfig(t, "")
	cfg.Report.DisablePolish = false
	o, _ := newTestOrchestrator(t, cfg, client)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	state := o.State()
	for _, sec := range state.Sections {
		if sec.Status != models.SectionPolished {
			t.Errorf("Expected section %q polished, got %s", sec.Title, sec.Status)
		}
		if !strings.HasSuffix(sec.Content, "Improved.") {
			t.Errorf("Expected polished content in %q", sec.Title)
		}
	}
	if state.Stats.PolishedCount != len(state.Sections) {
		t.Errorf("Expected %d polished, got %d", len(state.Sections), state.Stats.PolishedCount)
	}
}

func TestRun_PolishKeepsOriginalWhenHeadingsChange(t *testing.T) {
	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		if strings.HasSuffix(meta.Section, "(polish)") {
			return &models.GenerationResult{Text: "## Renamed Heading\n\nRewritten."}, nil
		}
		return &models.GenerationResult{Text: fmt.Sprintf("## %s\n\nDraft.", meta.Section)}, nil
	}}
	cfg := testConfig(t, "")
	cfg.Report.DisablePolish = false
	o, _ := newTestOrchestrator(t, cfg, client)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	state := o.State()
	for _, sec := range state.Sections {
		if sec.Status != models.SectionGenerated {
			t.Errorf("Section %q must keep generated status, got %s", sec.Title, sec.Status)
		}
		if !strings.Contains(sec.Content, "Draft.") {
			t.Errorf("Original content must survive a bad polish: %q", sec.Content)
		}
	}
	if len(state.Warnings) == 0 {
		t.Error("Expected warnings about discarded polish output")
	}
	if state.Status != models.RunCompleted {
		t.Errorf("Discarded polish must not degrade run status, got %s", state.Status)
	}
}

func TestRun_RollingContextFlowsIntoLaterSections(t *testing.T) {
	marker := "UNIQUE-CONTINUITY-MARKER"
	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		if meta.Section == "Executive Summary" {
			return &models.GenerationResult{Text: "## Executive Summary\n\n" + marker}, nil
		}
		return &models.GenerationResult{Text: "## " + meta.Section + "\n\nok"}, nil
	}}
	o, _ := newTestOrchestrator(t, testConfig(t, ""), client)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	found := false
	for _, call := range client.calls {
		if call.meta.Section != "Market Outlook" {
			continue
		}
		for _, msg := range call.messages {
			if strings.Contains(msg.Content, marker) {
				found = true
			}
		}
	}
	if !found {
		t.Error("Expected earlier section content in the later section's prompt")
	}
}

func TestResume_SkipsCompletedAndRetriesFailed(t *testing.T) {
	cfg := testConfig(t, "")

	// First run: middle section fails
	firstClient := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		if meta.Section == "Market Outlook" {
			return nil, &api.RetryExhaustedError{Attempts: 3, LastErr: &api.APIError{Message: "boom", StatusCode: 500}}
		}
		return &models.GenerationResult{Text: "## " + meta.Section + "\n\nFirst run."}, nil
	}}
	o, mgr := newTestOrchestrator(t, cfg, firstClient)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if o.State().Status != models.RunCompletedWithErrors {
		t.Fatalf("Expected completed_with_errors, got %s", o.State().Status)
	}

	// Resume: only the failed section may be regenerated
	state, err := session.LoadState(mgr.Dir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	secondClient := echoClient()
	o2, err := NewFromState(cfg, &config.Secrets{APIKeys: map[string]string{}}, secondClient, mgr, state, testLogger())
	if err != nil {
		t.Fatalf("NewFromState failed: %v", err)
	}
	if err := o2.Run(context.Background()); err != nil {
		t.Fatalf("Resume run failed: %v", err)
	}

	calls := secondClient.sectionCalls()
	if len(calls) != 1 || calls[0] != "Market Outlook" {
		t.Errorf("Resume must only regenerate the failed section, got %v", calls)
	}
	if o2.State().Status != models.RunCompleted {
		t.Errorf("Expected completed after resume, got %s", o2.State().Status)
	}
	for _, sec := range o2.State().Sections {
		if sec.Title != "Market Outlook" && !strings.Contains(sec.Content, "First run.") {
			t.Errorf("Completed section %q must keep first-run content", sec.Title)
		}
	}
}

func TestResume_CompletedRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t, "")
	o, mgr := newTestOrchestrator(t, cfg, echoClient())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	firstMD, err := os.ReadFile(mgr.MarkdownPath())
	if err != nil {
		t.Fatalf("Reading first markdown failed: %v", err)
	}

	state, err := session.LoadState(mgr.Dir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	secondClient := echoClient()
	o2, err := NewFromState(cfg, &config.Secrets{APIKeys: map[string]string{}}, secondClient, mgr, state, testLogger())
	if err != nil {
		t.Fatalf("Resuming a completed run must be allowed: %v", err)
	}
	if err := o2.Run(context.Background()); err != nil {
		t.Fatalf("Resume run failed: %v", err)
	}

	if calls := secondClient.sectionCalls(); len(calls) != 0 {
		t.Errorf("Resuming a completed run must not regenerate anything: %v", calls)
	}
	if o2.State().Status != models.RunCompleted {
		t.Errorf("Expected completed, got %s", o2.State().Status)
	}
	secondMD, err := os.ReadFile(mgr.MarkdownPath())
	if err != nil {
		t.Fatalf("Reading second markdown failed: %v", err)
	}
	if string(firstMD) != string(secondMD) {
		t.Error("Resumed output must be identical to the original run")
	}
}

func TestResume_RejectsChangedConfig(t *testing.T) {
	cfg := testConfig(t, "")
	o, mgr := newTestOrchestrator(t, cfg, echoClient())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	state, err := session.LoadState(mgr.Dir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	changed := testConfig(t, "")
	changed.Report.ReportSections = []string{"Executive Summary"}

	if _, err := NewFromState(changed, &config.Secrets{}, echoClient(), mgr, state, testLogger()); err == nil {
		t.Error("Expected resume rejection for changed report definition")
	}
}

func TestPlanTOC_NonStrictReconcilesProposal(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Report.StrictStructure = false
	cfg.Report.MaxSubsectionsPerSection = 2

	client := &fakeClient{respond: func(meta api.CallMeta, _ []api.Message) (*models.GenerationResult, error) {
		return &models.GenerationResult{Text: `{
			"title": "Premium Card Strategy 2026",
			"sections": [
				{"title": "Market Outlook", "subsections": ["Growth Drivers", "References", "Regulation", "Extra Beyond Cap"]},
				{"title": "Renamed Nonsense", "subsections": ["Ignored"]}
			]
		}`}, nil
	}}
	o, _ := newTestOrchestrator(t, cfg, client)

	toc, err := o.planTOC(context.Background())
	if err != nil {
		t.Fatalf("planTOC failed: %v", err)
	}

	if toc.Title != "Premium Card Strategy 2026" {
		t.Errorf("Expected proposed title adopted, got %q", toc.Title)
	}
	if got := toc.TopLevelTitles(); len(got) != 3 ||
		got[0] != "Executive Summary" || got[1] != "Market Outlook" || got[2] != "Competitive Landscape" {
		t.Errorf("Top-level sections must match configuration: %v", got)
	}

	var subs []string
	for _, sec := range toc.Sections {
		if sec.Level == 2 {
			subs = append(subs, sec.Title)
		}
	}
	if len(subs) != 2 || subs[0] != "Growth Drivers" || subs[1] != "Regulation" {
		t.Errorf("Expected References dropped and cap applied, got %v", subs)
	}
}

func TestPlanTOC_NonStrictFallsBackOnBadJSON(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Report.StrictStructure = false

	client := &fakeClient{respond: func(api.CallMeta, []api.Message) (*models.GenerationResult, error) {
		return &models.GenerationResult{Text: "I would love to help you plan this report!"}, nil
	}}
	o, _ := newTestOrchestrator(t, cfg, client)

	toc, err := o.planTOC(context.Background())
	if err != nil {
		t.Fatalf("planTOC failed: %v", err)
	}
	if got := toc.TopLevelTitles(); len(got) != 3 {
		t.Errorf("Expected configured outline fallback, got %v", got)
	}
	if len(o.State().Warnings) == 0 {
		t.Error("Expected a warning about the unparseable plan")
	}
}

func TestBuildRollingContext_TailWindow(t *testing.T) {
	sections := []models.Section{
		{Status: models.SectionGenerated, Content: strings.Repeat("a", 100)},
		{Status: models.SectionGenerated, Content: strings.Repeat("b", 100)},
		{Status: models.SectionPending, Content: ""},
	}

	// Everything fits
	full := buildRollingContext(sections, 400)
	if !strings.Contains(full, strings.Repeat("a", 100)) || !strings.Contains(full, strings.Repeat("b", 100)) {
		t.Error("Expected both sections in context when budget allows")
	}
	if strings.Index(full, "a") > strings.Index(full, "b") {
		t.Error("Context must keep document order")
	}

	// Only the newest section plus the tail of the older one fits
	partial := buildRollingContext(sections, 150)
	if !strings.Contains(partial, strings.Repeat("b", 100)) {
		t.Error("Newest section must survive trimming")
	}
	if strings.Count(partial, "a") != 50 {
		t.Errorf("Expected 50-byte tail of older section, got %d", strings.Count(partial, "a"))
	}

	// Budget smaller than the newest section keeps its tail
	tiny := buildRollingContext(sections, 30)
	if strings.Count(tiny, "b") != 30 || strings.Contains(tiny, "a") {
		t.Errorf("Expected only the newest tail, got %q", tiny)
	}
}

func TestBuildRollingContext_RuneBoundary(t *testing.T) {
	sections := []models.Section{
		{Status: models.SectionGenerated, Content: strings.Repeat("한", 50)},
	}

	out := buildRollingContext(sections, 10)
	if !utf8ValidString(out) {
		t.Errorf("Trimmed context must remain valid UTF-8: %q", out)
	}
	if len(out) == 0 || len(out) > 10 {
		t.Errorf("Unexpected trim size %d", len(out))
	}
}

func utf8ValidString(s string) bool {
	return strings.ToValidUTF8(s, "") == s
}

func TestContextBudgetBytes_FloorAndHeadroom(t *testing.T) {
	wide := config.ModelConfig{ContextSize: 32768, MaxOutputTokens: 4096}
	if got := contextBudgetBytes(wide); got != (32768-4096-2048)*4 {
		t.Errorf("Unexpected budget for wide model: %d", got)
	}

	narrow := config.ModelConfig{ContextSize: 4096, MaxOutputTokens: 4000}
	if got := contextBudgetBytes(narrow); got != 1024*4 {
		t.Errorf("Expected floor budget, got %d", got)
	}
}

func TestStatusAndOutputs(t *testing.T) {
	cfg := testConfig(t, "")
	o, mgr := newTestOrchestrator(t, cfg, echoClient())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	outputDir := strings.TrimSuffix(mgr.Dir(), "/"+mgr.RequestID())

	state, err := Status(outputDir, mgr.RequestID())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if state.Status != models.RunCompleted {
		t.Errorf("Unexpected status: %s", state.Status)
	}

	outputs, err := Outputs(outputDir, mgr.RequestID())
	if err != nil {
		t.Fatalf("Outputs failed: %v", err)
	}
	if outputs.MarkdownPath == "" || outputs.HTMLPath == "" {
		t.Errorf("Expected artifact paths, got %+v", outputs)
	}

	if _, err := Status(outputDir, "../escape"); err == nil {
		t.Error("Expected traversal request id to be rejected")
	}
}
