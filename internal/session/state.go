package session

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/pkg/models"
)

// StateStore persists the run state with atomic replace semantics. Every
// Save writes a temp file and renames it over state.json, so a reader
// never observes a half-written state.
type StateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStateStore creates a store writing to the manager's state path
func (m *Manager) NewStateStore() *StateStore {
	return &StateStore{
		path:   m.StatePath(),
		logger: m.logger,
	}
}

// Save writes the state to disk atomically
func (s *StateStore) Save(state *models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.LastSavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	s.logger.Debug("Run state saved", "path", s.path, "status", state.Status)
	return nil
}

// LoadState reads the persisted run state from a request directory
func LoadState(requestDir string) (*models.RunState, error) {
	data, err := os.ReadFile(filepath.Join(requestDir, StateFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state models.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &state, nil
}

// ComputeConfigHash fingerprints the config fields that shape generation.
// Formatting or comment changes in the TOML file do not invalidate a
// resume, changing the report definition or models does.
func ComputeConfigHash(cfg *config.Config) string {
	parts := []string{
		cfg.Report.Language,
		cfg.Report.PrimaryEntity,
		strings.Join(cfg.Report.ComparisonEntities, "|"),
		cfg.Report.ReportType,
		strings.Join(cfg.Report.ReportSections, "|"),
		fmt.Sprintf("%t:%d", cfg.Report.StrictStructure, cfg.Report.MaxSubsectionsPerSection),
	}
	for _, name := range []string{"main", "polish"} {
		if mc, ok := cfg.Models[name]; ok {
			parts = append(parts, name+"="+mc.BaseURL+":"+mc.ModelName)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return fmt.Sprintf("%x", hash[:8])
}

// ValidateResume checks that a persisted state can be continued under the
// current configuration. Resuming a run with no remaining work is allowed:
// the pipeline skips every finished section and re-renders the same
// outputs, so the operation is idempotent.
func ValidateResume(state *models.RunState, cfg *config.Config) error {
	if expected := ComputeConfigHash(cfg); state.ConfigHash != expected {
		return fmt.Errorf("run state config mismatch: state was created with a different report definition (hash %s vs %s)", state.ConfigHash, expected)
	}
	return nil
}

// NormalizeForResume reconciles the run state with what the history file
// proves actually happened. A section stuck in "generating" whose output
// made it into history is promoted to generated with that content; one
// without a persisted turn goes back to pending. Failed sections also go
// back to pending so the resume can retry them.
func NormalizeForResume(state *models.RunState, turns []models.Turn, logger *slog.Logger) {
	contentByID := make(map[string]string)
	for _, turn := range turns {
		if turn.Role == models.RoleAssistant && turn.SectionID != "" {
			contentByID[turn.SectionID] = turn.Content
		}
	}

	for i := range state.Sections {
		sec := &state.Sections[i]
		switch sec.Status {
		case models.SectionGenerating:
			if content, ok := contentByID[sec.ID]; ok {
				sec.Content = content
				sec.Status = models.SectionGenerated
				logger.Info("Recovered section from history", "section", sec.Title)
			} else {
				sec.Content = ""
				sec.Status = models.SectionPending
				logger.Info("Section was cut off mid-generation, will regenerate", "section", sec.Title)
			}
		case models.SectionFailed:
			sec.Status = models.SectionPending
			sec.LastError = ""
			logger.Info("Retrying previously failed section", "section", sec.Title)
		}
	}

	state.Status = models.RunRunning
}
