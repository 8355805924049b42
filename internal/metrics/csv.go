package metrics

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/lamim/reportforge/pkg/models"
)

var csvHeader = []string{
	"timestamp", "request_id", "section", "model", "attempt", "success",
	"input_tokens", "output_tokens", "total_tokens", "cost_estimate_usd", "latency_ms",
}

// CSVRecorder appends one row per generation attempt to a shared CSV log
// and mirrors the counters into prometheus. Rows are flushed per call so
// the log is useful even after a crash.
type CSVRecorder struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
	logger *slog.Logger
}

// NewCSVRecorder opens the CSV log for appending, writing the header if
// the file is new
func NewCSVRecorder(path string, logger *slog.Logger) (*CSVRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat metrics log: %w", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write metrics header: %w", err)
		}
		writer.Flush()
	}

	return &CSVRecorder{
		file:   file,
		writer: writer,
		logger: logger,
	}, nil
}

// RecordCall appends one attempt row and updates the prometheus counters
func (r *CSVRecorder) RecordCall(m models.CallMetric) {
	RecordAPIRequest(m.Model, m.Latency, m.Success)
	if m.Attempt > 1 {
		RecordRetry(m.Model)
	}
	if m.Success {
		RecordTokens(m.Model, m.InputTokens, m.OutputTokens)
		RecordCost(m.Model, m.CostEstimate)
	}

	row := []string{
		m.Timestamp.UTC().Format(time.RFC3339),
		m.RequestID,
		m.Section,
		m.Model,
		strconv.Itoa(m.Attempt),
		strconv.FormatBool(m.Success),
		strconv.Itoa(m.InputTokens),
		strconv.Itoa(m.OutputTokens),
		strconv.Itoa(m.TotalTokens),
		strconv.FormatFloat(m.CostEstimate, 'f', 6, 64),
		strconv.FormatInt(m.Latency.Milliseconds(), 10),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writer.Write(row); err != nil {
		r.logger.Warn("Failed to write metrics row", "error", err)
		return
	}
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		r.logger.Warn("Failed to flush metrics log", "error", err)
	}
}

// Close flushes and closes the CSV log
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		r.logger.Warn("Failed to flush metrics log on close", "error", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close metrics log: %w", err)
	}
	return nil
}
