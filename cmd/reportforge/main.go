package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lamim/reportforge/internal/api"
	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/internal/metrics"
	"github.com/lamim/reportforge/internal/orchestrator"
	"github.com/lamim/reportforge/internal/session"
	"github.com/lamim/reportforge/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	outputDir  string
	verbose    bool
	force      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reportforge",
		Short: "ReportForge - LLM-driven business report generator",
		Long: `ReportForge generates executive business reports section by section
using OpenAI-compatible LLM endpoints, then renders them to markdown,
HTML, and PDF. Interrupted runs can be resumed without losing work.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a new report",
		Long: `Run the complete report pipeline:
1. Plan the table of contents
2. Generate each section in order with rolling context
3. Polish generated sections
4. Render markdown, HTML, and PDF artifacts`,
		RunE: runReport,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	resumeCmd := &cobra.Command{
		Use:   "resume <request-id>",
		Short: "Resume an interrupted report",
		Long:  "Continue a report run from its persisted state, regenerating only unfinished sections",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeReport,
	}
	resumeCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	resumeCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	resumeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	resumeCmd.Flags().BoolVar(&force, "force", false, "Clear a stale run lock left behind by a crash")

	statusCmd := &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show the state of a report run",
		Args:  cobra.ExactArgs(1),
		RunE:  showStatus,
	}
	statusCmd.Flags().StringVar(&outputDir, "output-dir", "output", "Report output directory")

	outputsCmd := &cobra.Command{
		Use:   "outputs <request-id>",
		Short: "Show the artifact paths of a report run",
		Args:  cobra.ExactArgs(1),
		RunE:  showOutputs,
	}
	outputsCmd.Flags().StringVar(&outputDir, "output-dir", "output", "Report output directory")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List report runs",
		RunE:  listRuns,
	}
	listCmd.Flags().StringVar(&outputDir, "output-dir", "output", "Report output directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	requestID := session.NewRequestID()
	sessionMgr, err := session.NewManager(cfg.Output.Dir, requestID, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create request directory: %w", err)
	}

	logger, logFile, err := sessionMgr.SetupLogger(logLevel())
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer closeLogFile(logFile)

	logger.Info("ReportForge starting",
		"version", Version,
		"request_id", requestID,
		"config", configPath)

	if err := sessionMgr.BackupConfig(configPath); err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	lock, err := sessionMgr.AcquireLock()
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release run lock", "error", err)
		}
	}()

	orch, cleanup, err := buildPipeline(cfg, secrets, sessionMgr, logger, false, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	return runPipeline(orch, sessionMgr, logger)
}

func resumeReport(cmd *cobra.Command, args []string) error {
	requestID := args[0]
	if !session.ValidRequestID(requestID) {
		return fmt.Errorf("invalid request id: %q", requestID)
	}

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	sessionMgr, err := session.OpenManager(cfg.Output.Dir, requestID, slog.Default())
	if err != nil {
		return err
	}

	logger, logFile, err := sessionMgr.SetupLogger(logLevel())
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer closeLogFile(logFile)

	state, err := session.LoadState(sessionMgr.Dir())
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}

	logger.Info("ReportForge resuming",
		"version", Version,
		"request_id", requestID,
		"previous_status", state.Status)

	if force {
		if err := sessionMgr.ClearStaleLock(); err != nil {
			return err
		}
		logger.Warn("Cleared stale run lock")
	}

	lock, err := sessionMgr.AcquireLock()
	if err != nil {
		var conflict *session.ConflictError
		if errors.As(err, &conflict) {
			return fmt.Errorf("%w (use --force if the previous run crashed)", conflict)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release run lock", "error", err)
		}
	}()

	orch, cleanup, err := buildPipeline(cfg, secrets, sessionMgr, logger, true, state)
	if err != nil {
		return err
	}
	defer cleanup()

	return runPipeline(orch, sessionMgr, logger)
}

// buildPipeline wires the API client, metrics sink, and orchestrator
func buildPipeline(
	cfg *config.Config,
	secrets *config.Secrets,
	sessionMgr *session.Manager,
	logger *slog.Logger,
	resume bool,
	state *models.RunState,
) (*orchestrator.Orchestrator, func(), error) {
	client := api.NewClient(logger, cfg.Retry)

	recorder, err := metrics.NewCSVRecorder(cfg.Output.MetricsCSV, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metrics log: %w", err)
	}
	client.SetRecorder(recorder)

	cleanup := func() {
		if err := recorder.Close(); err != nil {
			logger.Warn("Failed to close metrics log", "error", err)
		}
	}

	var orch *orchestrator.Orchestrator
	if resume {
		orch, err = orchestrator.NewFromState(cfg, secrets, client, sessionMgr, state, logger)
	} else {
		orch, err = orchestrator.New(cfg, secrets, client, sessionMgr, logger)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

func runPipeline(orch *orchestrator.Orchestrator, sessionMgr *session.Manager, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}

	state := orch.State()
	logger.Info("Report run finished",
		"request_id", state.RequestID,
		"status", state.Status,
		"generated", state.Stats.GeneratedCount,
		"failed", state.Stats.FailedCount,
		"total_tokens", state.Stats.Usage.TotalTokens,
		"estimated_cost_usd", state.Stats.TotalCost)

	switch state.Status {
	case models.RunCancelled:
		fmt.Printf("Run interrupted. Resume with: reportforge resume %s\n", state.RequestID)
	default:
		printOutputs(&state.Outputs)
		if len(state.Warnings) > 0 {
			fmt.Println("Warnings:")
			for _, w := range state.Warnings {
				fmt.Printf("  - %s\n", w)
			}
		}
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	state, err := orchestrator.Status(outputDir, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Request:      %s\n", state.RequestID)
	fmt.Printf("Status:       %s\n", state.Status)
	fmt.Printf("Created:      %s\n", state.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last saved:   %s\n", state.LastSavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Config hash:  %s\n", state.ConfigHash)
	fmt.Println()

	fmt.Printf("%-40s %-12s %s\n", "SECTION", "STATUS", "ERROR")
	fmt.Println(strings.Repeat("-", 80))
	for _, sec := range state.Sections {
		indent := strings.Repeat("  ", sec.Level-1)
		fmt.Printf("%-40s %-12s %s\n", indent+sec.Title, sec.Status, sec.LastError)
	}
	fmt.Println()

	fmt.Printf("Sections:     %d generated, %d polished, %d failed of %d\n",
		state.Stats.GeneratedCount, state.Stats.PolishedCount, state.Stats.FailedCount, state.Stats.TotalSections)
	fmt.Printf("Tokens:       %d in / %d out\n", state.Stats.Usage.InputTokens, state.Stats.Usage.OutputTokens)
	fmt.Printf("Est. cost:    $%.4f\n", state.Stats.TotalCost)

	if !state.Status.Terminal() || state.Status == models.RunCancelled || len(state.FailedSectionIDs()) > 0 {
		fmt.Printf("\nResume with:  reportforge resume %s\n", state.RequestID)
	}
	return nil
}

func showOutputs(cmd *cobra.Command, args []string) error {
	outputs, err := orchestrator.Outputs(outputDir, args[0])
	if err != nil {
		return err
	}
	printOutputs(outputs)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	ids, err := session.ListRequestIDs(outputDir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No report runs found.")
		return nil
	}

	fmt.Printf("%-22s %-24s %-10s %s\n", "REQUEST", "STATUS", "SECTIONS", "CREATED")
	fmt.Println(strings.Repeat("-", 80))
	for _, id := range ids {
		state, err := orchestrator.Status(outputDir, id)
		if err != nil {
			fmt.Printf("%-22s %-24s\n", id, "unreadable")
			continue
		}
		fmt.Printf("%-22s %-24s %-10d %s\n",
			state.RequestID, state.Status, state.Stats.TotalSections,
			state.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func loadConfig() (*config.Config, *config.Secrets, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, secrets, nil
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func closeLogFile(f *os.File) {
	if f != nil {
		_ = f.Sync()
		_ = f.Close()
	}
}

func printOutputs(outputs *models.Outputs) {
	fmt.Println("Artifacts:")
	fmt.Printf("  markdown: %s\n", outputs.MarkdownPath)
	if outputs.HTMLPath != "" {
		fmt.Printf("  html:     %s\n", outputs.HTMLPath)
	}
	if outputs.PDFPath != "" {
		fmt.Printf("  pdf:      %s\n", outputs.PDFPath)
	}
}
