package config

import (
	"fmt"
	"os"
	"strings"
)

// ConfigError reports invalid or missing configuration. It is fatal before
// any run starts; nothing downstream sees a half-validated config.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config represents the complete application configuration
type Config struct {
	Report          ReportConfig           `toml:"report"`
	Models          map[string]ModelConfig `toml:"models"`
	Retry           RetryConfig            `toml:"retry"`
	Output          OutputConfig           `toml:"output"`
	PromptTemplates PromptTemplates        `toml:"prompt_templates"`
}

// ReportConfig holds the business parameters of one report. Immutable once a
// run starts; the session manager snapshots a hash of it for resume checks.
type ReportConfig struct {
	Language           string       `toml:"language"`
	PrimaryEntity      string       `toml:"primary_entity"`
	ComparisonEntities []string     `toml:"comparison_entities"`
	ReportType         string       `toml:"report_type"`
	AnalysisFocus      []string     `toml:"analysis_focus"`
	PerformanceMetrics []string     `toml:"performance_metrics"`
	MarketSegments     []string     `toml:"market_segments"`
	ReportSections     []string     `toml:"report_sections"`
	StrictStructure    bool         `toml:"strict_structure"`
	WritingStyle       WritingStyle `toml:"writing_style"`

	// MaxSubsectionsPerSection bounds how many nested titles the TOC
	// planning call may add under each configured section (caps token cost)
	MaxSubsectionsPerSection int `toml:"max_subsections_per_section"`

	// RequireFullSuccess makes any failed section fail the whole run
	// instead of completing with errors
	RequireFullSuccess bool `toml:"require_full_success"`

	// DisablePolish skips the refinement pass over generated sections
	DisablePolish bool `toml:"disable_polish"`

	// RunTimeoutSeconds stops new sections from starting once elapsed;
	// the in-flight call is allowed to finish. 0 = no overall timeout.
	RunTimeoutSeconds int `toml:"run_timeout_seconds"`
}

// WritingStyle shapes the tone of generated and polished prose
type WritingStyle struct {
	Tone      string   `toml:"tone"`
	Formality string   `toml:"formality"`
	Emphasis  []string `toml:"emphasis"`
}

// RetryConfig governs the generation client's backoff behaviour
type RetryConfig struct {
	MaxRetries          int  `toml:"max_retries"`           // total attempts per call (default 3)
	InitialDelaySeconds int  `toml:"initial_delay_seconds"` // first backoff delay (default 1)
	MaxDelaySeconds     int  `toml:"max_delay_seconds"`     // backoff cap (default 10)
	Jitter              bool `toml:"jitter"`                // add up to +10%, never past the cap
}

// ModelConfig represents configuration for a single model endpoint
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	ContextSize        int     `toml:"context_size"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // per-call service timeout (default 120)
	CostPer1MInput     float64 `toml:"cost_per_1m_input"`    // USD per 1M input tokens
	CostPer1MOutput    float64 `toml:"cost_per_1m_output"`   // USD per 1M output tokens
}

// OutputConfig holds file output and document conversion settings
type OutputConfig struct {
	Dir         string `toml:"dir"`         // session root (default "output")
	Orientation string `toml:"orientation"` // "landscape" or "portrait"
	PDFTool     string `toml:"pdf_tool"`    // external converter binary (default "wkhtmltopdf")
	DisablePDF  bool   `toml:"disable_pdf"` // skip document conversion entirely
	MetricsCSV  string `toml:"metrics_csv"` // per-call metrics log (default "<dir>/logging.csv")
}

// PromptTemplates holds all customizable prompt templates
type PromptTemplates struct {
	System            string `toml:"system"`
	TOCPlanning       string `toml:"toc_planning"`
	SectionGeneration string `toml:"section_generation"`
	Polish            string `toml:"polish"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

const (
	// MaxReportSections is the maximum allowed configured top-level sections
	MaxReportSections = 100
	// MaxSubsectionsCap is the hard upper bound on planner subsections
	MaxSubsectionsCap = 20
	// MaxRetriesCap is the hard upper bound on retry attempts per call
	MaxRetriesCap = 10
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Report.Language == "" {
		return configErrorf("report.language", "is required")
	}
	if c.Report.PrimaryEntity == "" {
		return configErrorf("report.primary_entity", "is required")
	}
	if len(c.Report.ReportSections) == 0 {
		return configErrorf("report.report_sections", "must list at least one section")
	}
	if len(c.Report.ReportSections) > MaxReportSections {
		return configErrorf("report.report_sections", "must not exceed %d entries (got %d)", MaxReportSections, len(c.Report.ReportSections))
	}
	seen := make(map[string]bool, len(c.Report.ReportSections))
	for i, title := range c.Report.ReportSections {
		if strings.TrimSpace(title) == "" {
			return configErrorf("report.report_sections", "entry %d is empty", i)
		}
		if seen[title] {
			return configErrorf("report.report_sections", "duplicate title %q", title)
		}
		seen[title] = true
	}
	if c.Report.MaxSubsectionsPerSection < 0 || c.Report.MaxSubsectionsPerSection > MaxSubsectionsCap {
		return configErrorf("report.max_subsections_per_section", "must be between 0 and %d (got %d)", MaxSubsectionsCap, c.Report.MaxSubsectionsPerSection)
	}
	if c.Report.RunTimeoutSeconds < 0 {
		return configErrorf("report.run_timeout_seconds", "must not be negative")
	}

	if c.Retry.MaxRetries < 1 || c.Retry.MaxRetries > MaxRetriesCap {
		return configErrorf("retry.max_retries", "must be between 1 and %d (got %d)", MaxRetriesCap, c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelaySeconds < 1 {
		return configErrorf("retry.initial_delay_seconds", "must be at least 1")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.InitialDelaySeconds {
		return configErrorf("retry.max_delay_seconds", "must not be below initial_delay_seconds")
	}

	switch c.Output.Orientation {
	case "landscape", "portrait":
	default:
		return configErrorf("output.orientation", "must be \"landscape\" or \"portrait\" (got %q)", c.Output.Orientation)
	}

	// Validate main model exists
	mainModel, ok := c.Models["main"]
	if !ok {
		return configErrorf("models.main", "is required")
	}
	if err := validateModelConfig("main", mainModel); err != nil {
		return err
	}

	// Polish model is optional; the polisher falls back to main
	if polishModel, ok := c.Models["polish"]; ok {
		if err := validateModelConfig("polish", polishModel); err != nil {
			return err
		}
	}

	if c.PromptTemplates.SectionGeneration == "" {
		return configErrorf("prompt_templates.section_generation", "is required")
	}
	if c.PromptTemplates.TOCPlanning == "" && !c.Report.StrictStructure {
		return configErrorf("prompt_templates.toc_planning", "is required when strict_structure is false")
	}
	if c.PromptTemplates.Polish == "" && !c.Report.DisablePolish {
		return configErrorf("prompt_templates.polish", "is required unless polish is disabled")
	}

	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	field := func(f string) string { return "models." + name + "." + f }
	if mc.BaseURL == "" {
		return configErrorf(field("base_url"), "is required")
	}
	if mc.ModelName == "" {
		return configErrorf(field("model_name"), "is required")
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return configErrorf(field("temperature"), "must be between 0 and 2")
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return configErrorf(field("top_p"), "must be between 0 and 1")
	}
	if mc.MaxOutputTokens < 1 {
		return configErrorf(field("max_output_tokens"), "must be at least 1")
	}
	if mc.ContextSize < 1 {
		return configErrorf(field("context_size"), "must be at least 1")
	}
	if mc.MaxOutputTokens > mc.ContextSize {
		return configErrorf(field("max_output_tokens"), "(%d) must not exceed context_size (%d)", mc.MaxOutputTokens, mc.ContextSize)
	}
	if mc.RateLimitPerMinute < 1 {
		return configErrorf(field("rate_limit_per_minute"), "must be at least 1")
	}
	if mc.CostPer1MInput < 0 || mc.CostPer1MOutput < 0 {
		return configErrorf(field("cost_per_1m_input"), "costs must not be negative")
	}
	return nil
}

// PolishModel returns the model used for the polish pass, falling back to
// the main model when no dedicated one is configured.
func (c *Config) PolishModel() ModelConfig {
	if mc, ok := c.Models["polish"]; ok {
		return mc
	}
	return c.Models["main"]
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Generic key works for any OpenAI-compatible provider
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Provider-specific keys override the generic one
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		secrets.APIKeys["gemini"] = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		secrets.APIKeys["anthropic"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "googleapis.com") {
		if key := s.APIKeys["gemini"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "anthropic.com") {
		if key := s.APIKeys["anthropic"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}

	// Fall back to generic API_KEY; empty means a local server without auth
	return s.APIKeys["generic"]
}
