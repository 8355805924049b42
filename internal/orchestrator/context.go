package orchestrator

import (
	"strings"

	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/pkg/models"
)

const (
	// bytesPerToken is the rough conversion used for context budgeting
	bytesPerToken = 4
	// contextReserveTokens is headroom kept for the prompt scaffolding
	contextReserveTokens = 2048
	// minContextTokens is the floor below which the budget never drops
	minContextTokens = 1024
)

// contextBudgetBytes computes how many bytes of prior content may ride
// along with a generation request without crowding out the output
func contextBudgetBytes(modelCfg config.ModelConfig) int {
	budget := modelCfg.ContextSize - modelCfg.MaxOutputTokens - contextReserveTokens
	if budget < minContextTokens {
		budget = minContextTokens
	}
	return budget * bytesPerToken
}

// buildRollingContext assembles the continuity context for the next
// section: completed sections in document order, trimmed to the byte
// budget by dropping the oldest content first. When even a single
// section overflows the budget only its tail is kept, so the most recent
// prose always survives.
func buildRollingContext(sections []models.Section, budgetBytes int) string {
	var done []string
	for _, sec := range sections {
		if sec.Status.Done() && strings.TrimSpace(sec.Content) != "" {
			done = append(done, strings.TrimSpace(sec.Content))
		}
	}
	if len(done) == 0 {
		return ""
	}

	// Walk newest first, keeping whole sections while they fit and the
	// tail of the first one that does not
	remaining := budgetBytes
	var kept []string
	for i := len(done) - 1; i >= 0 && remaining > 0; i-- {
		content := done[i]
		if len(content) <= remaining {
			kept = append(kept, content)
			remaining -= len(content)
			continue
		}
		kept = append(kept, tailOnRuneBoundary(content, remaining))
		remaining = 0
	}

	// Restore document order
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n\n")
}

// tailOnRuneBoundary takes up to n trailing bytes without splitting a
// multi-byte character
func tailOnRuneBoundary(s string, n int) string {
	if n >= len(s) {
		return s
	}
	start := len(s) - n
	for start < len(s) && !isRuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
