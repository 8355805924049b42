package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lamim/reportforge/internal/api"
	"github.com/lamim/reportforge/internal/util"
	"github.com/lamim/reportforge/pkg/models"
)

// plannedTOC is the JSON shape the planning call must return
type plannedTOC struct {
	Title    string `json:"title"`
	Sections []struct {
		Title       string   `json:"title"`
		Subsections []string `json:"subsections"`
	} `json:"sections"`
}

// planTOC produces the table of contents. With strict_structure the
// configured section list is authoritative and no model call is made.
// Otherwise one planning call proposes a report title and subsections,
// and the result is forced back onto the configured top-level skeleton
// so a creative model can never rename, drop, or reorder sections.
func (o *Orchestrator) planTOC(ctx context.Context) (*models.TableOfContents, error) {
	if o.cfg.Report.StrictStructure {
		return o.deterministicTOC(), nil
	}

	prompt, err := util.RenderTemplate(o.cfg.PromptTemplates.TOCPlanning, map[string]interface{}{
		"Language":       o.cfg.Report.Language,
		"ReportType":     o.cfg.Report.ReportType,
		"ReportSections": "- " + strings.Join(o.cfg.Report.ReportSections, "\n- "),
		"MaxSubsections": o.cfg.Report.MaxSubsectionsPerSection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render planning template: %w", err)
	}

	system, err := o.renderSystemPrompt()
	if err != nil {
		return nil, err
	}

	mainModel := o.cfg.Models["main"]
	result, err := o.client.Generate(ctx, mainModel, o.secrets.GetAPIKey(mainModel.BaseURL),
		[]api.Message{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: prompt},
		},
		api.CallMeta{RequestID: o.state.RequestID, Section: "toc_planning"})
	if err != nil {
		return nil, err
	}
	o.recordUsage(mainModel, result)

	var planned plannedTOC
	raw := util.RepairJSON(util.ExtractJSON(result.Text))
	if err := json.Unmarshal([]byte(raw), &planned); err != nil {
		o.warn(fmt.Sprintf("planning response was not valid JSON, using configured outline: %v", err))
		o.logger.Debug("Unparseable planning response", "response", util.TruncateString(result.Text, 500))
		return o.deterministicTOC(), nil
	}

	return o.reconcileTOC(&planned), nil
}

// deterministicTOC builds the outline straight from configuration
func (o *Orchestrator) deterministicTOC() *models.TableOfContents {
	toc := &models.TableOfContents{
		Title: fmt.Sprintf("%s %s Report", o.cfg.Report.PrimaryEntity, o.cfg.Report.ReportType),
	}
	for i, title := range o.cfg.Report.ReportSections {
		toc.Sections = append(toc.Sections, models.Section{
			ID:     fmt.Sprintf("sec-%d", i+1),
			Title:  title,
			Level:  1,
			Status: models.SectionPending,
		})
	}
	return toc
}

// reconcileTOC maps the model's proposal onto the configured skeleton.
// Top-level titles and order come from configuration; the proposal only
// contributes the report title and subsection ideas.
func (o *Orchestrator) reconcileTOC(planned *plannedTOC) *models.TableOfContents {
	subsByTitle := make(map[string][]string)
	for _, ps := range planned.Sections {
		subsByTitle[normalizeTitle(ps.Title)] = ps.Subsections
	}

	toc := o.deterministicTOC()
	if title := strings.TrimSpace(planned.Title); title != "" {
		toc.Title = title
	}

	var sections []models.Section
	for i, top := range toc.Sections {
		sections = append(sections, top)

		subs := subsByTitle[normalizeTitle(top.Title)]
		count := 0
		for _, sub := range subs {
			sub = strings.TrimSpace(sub)
			if sub == "" || isExcludedSection(sub) {
				continue
			}
			if count >= o.cfg.Report.MaxSubsectionsPerSection {
				break
			}
			count++
			sections = append(sections, models.Section{
				ID:     fmt.Sprintf("sec-%d-%d", i+1, count),
				Title:  sub,
				Level:  2,
				Parent: top.ID,
				Status: models.SectionPending,
			})
		}
	}

	toc.Sections = sections
	return toc
}

// flattenTOC returns the section slice the generation loop walks
func flattenTOC(toc *models.TableOfContents) []models.Section {
	sections := make([]models.Section, len(toc.Sections))
	copy(sections, toc.Sections)
	return sections
}

// isExcludedSection rejects reference-style sections the report must not
// contain regardless of what the planner proposed
func isExcludedSection(title string) bool {
	t := strings.ToLower(normalizeTitle(title))
	for _, banned := range []string{"references", "appendices", "appendix", "bibliography"} {
		if strings.Contains(t, banned) {
			return true
		}
	}
	return false
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (o *Orchestrator) renderSystemPrompt() (string, error) {
	system, err := util.RenderTemplate(o.cfg.PromptTemplates.System, map[string]interface{}{
		"Language":           o.cfg.Report.Language,
		"PrimaryEntity":      o.cfg.Report.PrimaryEntity,
		"ComparisonEntities": strings.Join(o.cfg.Report.ComparisonEntities, ", "),
		"ReportType":         o.cfg.Report.ReportType,
		"AnalysisFocus":      strings.Join(o.cfg.Report.AnalysisFocus, ", "),
		"PerformanceMetrics": strings.Join(o.cfg.Report.PerformanceMetrics, ", "),
		"MarketSegments":     strings.Join(o.cfg.Report.MarketSegments, ", "),
		"Tone":               o.cfg.Report.WritingStyle.Tone,
		"Formality":          o.cfg.Report.WritingStyle.Formality,
		"Emphasis":           strings.Join(o.cfg.Report.WritingStyle.Emphasis, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render system template: %w", err)
	}
	return system, nil
}
