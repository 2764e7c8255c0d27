package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
)

// RegenerateSection re-runs the pipeline for a single section of a completed
// report, leaving every other section untouched. Earlier sections feed the
// template context the same way they do during a full run.
func RegenerateSection(ctx context.Context, deps PipelineDeps, reportId int, sectionIndex int) (*models.ReportSection, error) {
	report, err := deps.Store.GetReport(ctx, reportId)
	if err != nil {
		return nil, err
	}
	if report.Status != models.ReportStatusComplete {
		return nil, fmt.Errorf("report %d sections can only be regenerated once the report is complete (status=%s)", reportId, report.Status)
	}
	if sectionIndex < 0 || sectionIndex >= len(report.TableOfContents.Sections) {
		return nil, fmt.Errorf("report %d has no section at index %d", reportId, sectionIndex)
	}
	entry := report.TableOfContents.Sections[sectionIndex]

	section, err := deps.Store.GetSection(ctx, reportId, sectionIndex)
	if err != nil {
		return nil, err
	}

	gc, err := deps.Context.LoadGenerationContext(ctx, report)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":             models.SectionStatusComplete,
		"generated_at":       &now,
		"regeneration_count": section.RegenerationCount + 1,
	}

	if entry.IsTransmittal() {
		updates["content"] = RenderTransmittalListing(gc.Transmittal)
	} else {
		generated, err := precedingSections(ctx, deps, reportId, sectionIndex, report.TableOfContents.Sections)
		if err != nil {
			return nil, err
		}
		res := generateSection(ctx, deps, report, entry, gc, generated)
		if res.failed {
			updates["content"] = RenderErrorMarker(entry.Title, res.message)
			updates["source_chunk_ids"] = models.StringList{}
			updates["source_relevance"] = models.RelevanceMap{}
		} else {
			updates["content"] = res.content
			updates["source_chunk_ids"] = models.StringList(utils.UniqueSlice(res.sourceChunkIds))
			updates["source_relevance"] = models.RelevanceMap(res.sourceRelevance)
		}
	}

	if err := deps.Store.UpdateSection(ctx, reportId, sectionIndex, updates); err != nil {
		return nil, err
	}
	return deps.Store.GetSection(ctx, reportId, sectionIndex)
}

// precedingSections rebuilds the generated-so-far context a full run would
// have had when it reached sectionIndex.
func precedingSections(ctx context.Context, deps PipelineDeps, reportId int, sectionIndex int, entries []models.TocSection) ([]GeneratedSection, error) {
	rows, err := deps.Store.ListSections(ctx, reportId)
	if err != nil {
		return nil, err
	}
	var generated []GeneratedSection
	for _, row := range rows {
		if row.SectionIndex >= sectionIndex {
			break
		}
		content := utils.DereferencePtr(row.Content)
		if content == "" || IsErrorMarkerContent(content) {
			continue
		}
		if row.SectionIndex < len(entries) && entries[row.SectionIndex].IsTransmittal() {
			continue
		}
		generated = append(generated, GeneratedSection{
			Index:   row.SectionIndex,
			Title:   row.Title,
			Content: content,
		})
	}
	return generated, nil
}
