package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/reportforge/pkg/models"
)

// CorruptionError reports an unreadable turn in the middle of a history
// file. A torn final line without a trailing newline is not corruption,
// that is the expected shape of a crash during an append.
type CorruptionError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("history file %s corrupted at line %d: %v", e.Path, e.Line, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Store persists conversation turns as append-only JSONL. Each Append is
// synced to disk before it returns, so a turn that has been acknowledged
// survives a crash and can be replayed on resume.
type Store struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens the history file for appending, creating it if needed
func Open(path string, logger *slog.Logger) (*Store, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}

	return &Store{
		path:   path,
		file:   file,
		logger: logger,
	}, nil
}

// Path returns the history file path
func (s *Store) Path() string {
	return s.path
}

// Append writes one turn and syncs it to disk
func (s *Store) Append(turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync history file: %w", err)
	}

	return nil
}

// Close closes the underlying file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}
	return nil
}

// Load reads every persisted turn from a history file. A partial final
// line with no trailing newline is dropped with a warning; an unparseable
// line anywhere else returns a CorruptionError.
func Load(path string, logger *slog.Logger) ([]models.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	torn := data[len(data)-1] != '\n'
	lines := bytes.Split(data, []byte{'\n'})

	var turns []models.Turn
	for i, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var turn models.Turn
		if err := json.Unmarshal(line, &turn); err != nil {
			if torn && i == len(lines)-1 {
				logger.Warn("Dropping torn final history line",
					"path", path,
					"line", i+1)
				break
			}
			return nil, &CorruptionError{Path: path, Line: i + 1, Err: err}
		}
		turns = append(turns, turn)
	}

	return turns, nil
}

// SectionIDs returns the set of section ids that have a persisted
// assistant turn. Resume uses this to tell completed work from work that
// was cut off mid-flight.
func SectionIDs(turns []models.Turn) map[string]bool {
	ids := make(map[string]bool)
	for _, turn := range turns {
		if turn.Role == models.RoleAssistant && turn.SectionID != "" {
			ids[turn.SectionID] = true
		}
	}
	return ids
}
