package config

import (
	"errors"
	"strings"
	"testing"
)

func validTOML() string {
	return `
[report]
language = "Korean"
primary_entity = "Kookmin Bank"
comparison_entities = ["Hana", "Woori"]
report_type = "Premium Credit Cards"
report_sections = ["Executive Summary", "Market Performance Analysis"]
strict_structure = true

[models.main]
base_url = "https://api.example.com/v1"
model_name = "test-model"
max_output_tokens = 1024
context_size = 8192
`
}

func TestParse_ValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validTOML()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Report.Language != "Korean" {
		t.Errorf("Expected language Korean, got %s", cfg.Report.Language)
	}
	if len(cfg.Report.ReportSections) != 2 {
		t.Fatalf("Expected 2 report sections, got %d", len(cfg.Report.ReportSections))
	}
	if !cfg.Report.StrictStructure {
		t.Error("Expected strict_structure to be true")
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validTOML()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Expected default max_retries 3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialDelaySeconds != 1 {
		t.Errorf("Expected default initial_delay_seconds 1, got %d", cfg.Retry.InitialDelaySeconds)
	}
	if cfg.Retry.MaxDelaySeconds != 10 {
		t.Errorf("Expected default max_delay_seconds 10, got %d", cfg.Retry.MaxDelaySeconds)
	}
	if cfg.Output.Orientation != "landscape" {
		t.Errorf("Expected default orientation landscape, got %s", cfg.Output.Orientation)
	}
	if cfg.Output.PDFTool != "wkhtmltopdf" {
		t.Errorf("Expected default pdf_tool wkhtmltopdf, got %s", cfg.Output.PDFTool)
	}
	if cfg.PromptTemplates.SectionGeneration == "" {
		t.Error("Expected default section_generation template")
	}
	if cfg.Models["main"].HTTPTimeoutSeconds != 120 {
		t.Errorf("Expected default http_timeout_seconds 120, got %d", cfg.Models["main"].HTTPTimeoutSeconds)
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	doc := validTOML() + "\nunknown_key = true\n"

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("Expected error for unknown key")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigError, got %T: %v", err, err)
	}
	if !strings.Contains(cfgErr.Reason, "unknown keys") {
		t.Errorf("Expected unknown-keys reason, got %q", cfgErr.Reason)
	}
}

func TestValidate_EmptyReportSections(t *testing.T) {
	doc := strings.Replace(validTOML(),
		`report_sections = ["Executive Summary", "Market Performance Analysis"]`,
		`report_sections = []`, 1)

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("Expected error for empty report_sections")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.Field != "report.report_sections" {
		t.Errorf("Expected field report.report_sections, got %s", cfgErr.Field)
	}
}

func TestValidate_DuplicateSectionTitles(t *testing.T) {
	doc := strings.Replace(validTOML(),
		`report_sections = ["Executive Summary", "Market Performance Analysis"]`,
		`report_sections = ["Executive Summary", "Executive Summary"]`, 1)

	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("Expected error for duplicate section titles")
	}
}

func TestValidate_MissingMainModel(t *testing.T) {
	doc := strings.Replace(validTOML(), "[models.main]", "[models.other]", 1)

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("Expected error for missing main model")
	}
	if !strings.Contains(err.Error(), "models.main") {
		t.Errorf("Expected models.main in error, got: %v", err)
	}
}

func TestValidate_OutputTokensExceedContext(t *testing.T) {
	doc := strings.Replace(validTOML(), "context_size = 8192", "context_size = 512", 1)

	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("Expected error when max_output_tokens exceeds context_size")
	}
}

func TestValidate_BadOrientation(t *testing.T) {
	doc := validTOML() + "\n[output]\norientation = \"diagonal\"\n"

	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("Expected error for invalid orientation")
	}
}

func TestValidateInputs_BadBaseURL(t *testing.T) {
	doc := strings.Replace(validTOML(),
		`base_url = "https://api.example.com/v1"`,
		`base_url = "ftp://api.example.com/v1"`, 1)

	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("Expected error for non-http base_url")
	}
}

func TestPolishModel_FallsBackToMain(t *testing.T) {
	cfg, err := Parse([]byte(validTOML()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := cfg.PolishModel().ModelName; got != "test-model" {
		t.Errorf("Expected fallback to main model, got %s", got)
	}
}

func TestGetAPIKey_ProviderMatching(t *testing.T) {
	secrets := &Secrets{APIKeys: map[string]string{
		"generic": "generic-key",
		"openai":  "openai-key",
	}}

	if key := secrets.GetAPIKey("https://api.openai.com/v1"); key != "openai-key" {
		t.Errorf("Expected openai-key, got %s", key)
	}
	if key := secrets.GetAPIKey("http://localhost:8080/v1"); key != "generic-key" {
		t.Errorf("Expected generic-key fallback, got %s", key)
	}
}
