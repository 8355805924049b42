package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes, defaults, and validates a TOML configuration document.
// Unknown keys are rejected eagerly rather than silently ignored.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, &ConfigError{Reason: "unknown keys: " + strict.String()}
		}
		return nil, &ConfigError{Reason: "failed to parse config file: " + err.Error()}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Report.MaxSubsectionsPerSection == 0 {
		cfg.Report.MaxSubsectionsPerSection = 5
	}

	// Retry defaults: 3 attempts, 1s initial delay doubling to a 10s cap
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialDelaySeconds == 0 {
		cfg.Retry.InitialDelaySeconds = 1
	}
	if cfg.Retry.MaxDelaySeconds == 0 {
		cfg.Retry.MaxDelaySeconds = 10
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}
	if cfg.Output.Orientation == "" {
		cfg.Output.Orientation = "landscape"
	}
	if cfg.Output.PDFTool == "" {
		cfg.Output.PDFTool = "wkhtmltopdf"
	}
	if cfg.Output.MetricsCSV == "" {
		cfg.Output.MetricsCSV = cfg.Output.Dir + "/logging.csv"
	}

	for name, model := range cfg.Models {
		if model.Temperature == 0 {
			model.Temperature = 0.7
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 4096
		}
		if model.ContextSize == 0 {
			model.ContextSize = 32768
		}
		if model.RateLimitPerMinute == 0 {
			model.RateLimitPerMinute = 60
		}
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 120
		}
		cfg.Models[name] = model
	}

	if cfg.PromptTemplates.System == "" {
		cfg.PromptTemplates.System = DefaultSystemTemplate()
	}
	if cfg.PromptTemplates.TOCPlanning == "" {
		cfg.PromptTemplates.TOCPlanning = DefaultTOCTemplate()
	}
	if cfg.PromptTemplates.SectionGeneration == "" {
		cfg.PromptTemplates.SectionGeneration = DefaultSectionTemplate()
	}
	if cfg.PromptTemplates.Polish == "" {
		cfg.PromptTemplates.Polish = DefaultPolishTemplate()
	}
}
