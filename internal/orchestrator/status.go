package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/lamim/reportforge/internal/session"
	"github.com/lamim/reportforge/pkg/models"
)

// Status loads the persisted run state of a request without touching it
func Status(outputDir, requestID string) (*models.RunState, error) {
	if !session.ValidRequestID(requestID) {
		return nil, fmt.Errorf("invalid request id: %q", requestID)
	}
	return session.LoadState(filepath.Join(outputDir, requestID))
}

// Outputs returns the artifact paths of a request. An error is returned
// when the run has not produced artifacts yet.
func Outputs(outputDir, requestID string) (*models.Outputs, error) {
	state, err := Status(outputDir, requestID)
	if err != nil {
		return nil, err
	}
	if state.Outputs.MarkdownPath == "" {
		return nil, fmt.Errorf("request %s has no rendered outputs (status %s)", requestID, state.Status)
	}
	return &state.Outputs, nil
}
