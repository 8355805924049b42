package models

import "time"

// SectionStatus represents the lifecycle state of a single report section
type SectionStatus string

const (
	// SectionPending means the section has not started generating yet
	SectionPending SectionStatus = "pending"
	// SectionGenerating means a generation call for the section is in flight
	SectionGenerating SectionStatus = "generating"
	// SectionGenerated means content was produced and durably recorded
	SectionGenerated SectionStatus = "generated"
	// SectionFailed means generation failed after exhausting retries
	SectionFailed SectionStatus = "failed"
	// SectionPolished means the generated content passed the polish stage
	SectionPolished SectionStatus = "polished"
)

// Done reports whether the section needs no further generation work.
func (s SectionStatus) Done() bool {
	return s == SectionGenerated || s == SectionPolished
}

// Section is a titled content unit of the report
type Section struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Level      int           `json:"level"`
	Parent     string        `json:"parent,omitempty"`
	Content    string        `json:"content,omitempty"`
	Status     SectionStatus `json:"status"`
	RetryCount int           `json:"retry_count,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Usage      TokenUsage    `json:"usage,omitempty"`
}

// TableOfContents is the ordered outline the section loop walks
type TableOfContents struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// TopLevelTitles returns the titles of all level-1 entries in order.
func (t *TableOfContents) TopLevelTitles() []string {
	var titles []string
	for _, s := range t.Sections {
		if s.Level == 1 {
			titles = append(titles, s.Title)
		}
	}
	return titles
}

// TokenUsage holds token counts for one or more generation calls
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Turn is one entry of the append-only conversation history
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SectionID string    `json:"section_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationResult is the outcome of a single generation call
type GenerationResult struct {
	Text    string
	Usage   TokenUsage
	Model   string
	Latency time.Duration
}

// CallMetric records one generation attempt, successful or not
type CallMetric struct {
	RequestID    string
	Timestamp    time.Time
	Section      string
	Model        string
	Attempt      int
	Success      bool
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostEstimate float64
	Latency      time.Duration
}

// SessionStats tracks aggregate counters for a report run
type SessionStats struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time,omitempty"`
	TotalSections  int           `json:"total_sections"`
	GeneratedCount int           `json:"generated_count"`
	PolishedCount  int           `json:"polished_count"`
	FailedCount    int           `json:"failed_count"`
	TotalCalls     int           `json:"total_calls"`
	Usage          TokenUsage    `json:"usage"`
	TotalCost      float64       `json:"total_cost"`
	TotalDuration  time.Duration `json:"total_duration,omitempty"`
	AveragePerCall time.Duration `json:"average_per_call,omitempty"`
}

// Outputs holds the rendered artifacts of a completed run.
// PDFPath is empty when document conversion failed or was skipped.
type Outputs struct {
	MarkdownPath string `json:"markdown_path"`
	HTMLPath     string `json:"html_path"`
	PDFPath      string `json:"pdf_path,omitempty"`
}
