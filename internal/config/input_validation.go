package config

import (
	"net/url"
	"unicode"
)

const (
	// MaxEntityNameLength is the maximum allowed length for entity names
	MaxEntityNameLength = 200

	// MaxSectionTitleLength is the maximum allowed length for a configured
	// section title
	MaxSectionTitleLength = 300

	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB
)

// ValidateInputs performs additional security validation on
// user-controllable fields before any of them reach a prompt or a filename.
func (c *Config) ValidateInputs() error {
	if err := validateFreeText("report.primary_entity", c.Report.PrimaryEntity, MaxEntityNameLength); err != nil {
		return err
	}
	for _, entity := range c.Report.ComparisonEntities {
		if err := validateFreeText("report.comparison_entities", entity, MaxEntityNameLength); err != nil {
			return err
		}
	}
	for _, title := range c.Report.ReportSections {
		if err := validateFreeText("report.report_sections", title, MaxSectionTitleLength); err != nil {
			return err
		}
	}

	for name, mc := range c.Models {
		if len(mc.ModelName) > MaxModelNameLength {
			return configErrorf("models."+name+".model_name", "exceeds maximum length of %d (got %d)", MaxModelNameLength, len(mc.ModelName))
		}
		if containsControlChars(mc.ModelName) {
			return configErrorf("models."+name+".model_name", "contains invalid control characters")
		}
		if err := validateBaseURL(name, mc.BaseURL); err != nil {
			return err
		}
	}

	return c.validateTemplateSizes()
}

func validateFreeText(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return configErrorf(field, "exceeds maximum length of %d characters (got %d)", maxLen, len(value))
	}
	if containsControlChars(value) {
		return configErrorf(field, "contains invalid control characters")
	}
	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(name, baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return configErrorf("models."+name+".base_url", "invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return configErrorf("models."+name+".base_url", "must use http or https scheme (got %s)", u.Scheme)
	}
	if u.Host == "" {
		return configErrorf("models."+name+".base_url", "must have a host")
	}
	return nil
}

// validateTemplateSizes checks that templates are within reasonable size limits
func (c *Config) validateTemplateSizes() error {
	templates := []struct {
		name  string
		value string
	}{
		{"system", c.PromptTemplates.System},
		{"toc_planning", c.PromptTemplates.TOCPlanning},
		{"section_generation", c.PromptTemplates.SectionGeneration},
		{"polish", c.PromptTemplates.Polish},
	}

	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return configErrorf("prompt_templates."+tmpl.name, "exceeds maximum size of %d bytes (got %d)", MaxTemplateSize, len(tmpl.value))
		}
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
