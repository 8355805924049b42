package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StateFilename   = "state.json"
	HistoryFilename = "history.jsonl"
	LockFilename    = "run.lock"
)

// NewRequestID produces a sortable request identifier of the form
// YYYYMMDD_xxxxxxxx where the suffix is the first 8 hex chars of a UUID.
func NewRequestID() string {
	return time.Now().Format("20060102") + "_" + uuid.New().String()[:8]
}

// Manager owns the per-request directory and its well-known file paths
type Manager struct {
	requestID  string
	requestDir string
	logger     *slog.Logger
}

// NewManager creates the directory for a fresh request
func NewManager(outputDir, requestID string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	requestDir := filepath.Join(outputDir, requestID)
	if err := os.MkdirAll(requestDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create request directory: %w", err)
	}

	logger.Info("Created request directory", "path", requestDir)

	return &Manager{
		requestID:  requestID,
		requestDir: requestDir,
		logger:     logger,
	}, nil
}

// OpenManager attaches to the directory of an existing request
func OpenManager(outputDir, requestID string, logger *slog.Logger) (*Manager, error) {
	requestDir := filepath.Join(outputDir, requestID)
	if _, err := os.Stat(requestDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("request directory not found: %s", requestDir)
	}

	logger.Info("Opened existing request directory", "path", requestDir)

	return &Manager{
		requestID:  requestID,
		requestDir: requestDir,
		logger:     logger,
	}, nil
}

// RequestID returns the request identifier
func (m *Manager) RequestID() string {
	return m.requestID
}

// Dir returns the request directory path
func (m *Manager) Dir() string {
	return m.requestDir
}

// StatePath returns the full path to the persisted run state
func (m *Manager) StatePath() string {
	return filepath.Join(m.requestDir, StateFilename)
}

// HistoryPath returns the full path to the conversation history file
func (m *Manager) HistoryPath() string {
	return filepath.Join(m.requestDir, HistoryFilename)
}

// LockPath returns the full path to the run lock file
func (m *Manager) LockPath() string {
	return filepath.Join(m.requestDir, LockFilename)
}

// LogPath returns the full path to the request log file
func (m *Manager) LogPath() string {
	return filepath.Join(m.requestDir, "request.log")
}

// MarkdownPath returns the full path to the assembled markdown report
func (m *Manager) MarkdownPath() string {
	return filepath.Join(m.requestDir, "report.md")
}

// HTMLPath returns the full path to the rendered HTML report
func (m *Manager) HTMLPath() string {
	return filepath.Join(m.requestDir, "report.html")
}

// PDFPath returns the full path to the converted PDF report
func (m *Manager) PDFPath() string {
	return filepath.Join(m.requestDir, "report.pdf")
}

// ConfigBackupPath returns the full path to the config backup
func (m *Manager) ConfigBackupPath() string {
	return filepath.Join(m.requestDir, "config.toml.bak")
}

// BackupConfig copies the config file into the request directory so a
// run can always be reproduced from its own artifacts
func (m *Manager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := m.ConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	m.logger.Info("Backed up config file", "path", backupPath)
	return nil
}

// ListRequestIDs returns the request ids present under the output
// directory, newest first by name.
func ListRequestIDs(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(outputDir, entry.Name(), StateFilename)); err == nil {
			ids = append(ids, entry.Name())
		}
	}

	// Directory names sort lexically; reverse for newest first
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

// ValidRequestID reports whether an id is safe to join onto the output
// directory. It rejects path separators and traversal.
func ValidRequestID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
