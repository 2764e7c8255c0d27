package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/planfox/reports_backend/config"
	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	"github.com/sirupsen/logrus"
)

// PipelineDeps wires the generation pipeline together. Everything is
// injected; the flows never reach for process-wide state besides what the
// deps carry.
type PipelineDeps struct {
	Store     ReportStore
	Context   ContextProvider
	Retriever Retriever
	Composer  Composer
	Progress  *ProgressRegistry
	Memory    MemoryCapturer
	Logger    *logrus.Logger
}

const generationErrorMarker = "[GENERATION ERROR]"

// RenderErrorMarker formats the inline error content a failed section is
// completed with. The section still ends in complete status; the marker keeps
// the failure visible to the reader.
func RenderErrorMarker(title string, message string) string {
	return fmt.Sprintf("%s %s\n\nThis section could not be generated automatically.\nReason: %s\n\nRegenerate the section to retry.",
		generationErrorMarker, title, message)
}

func IsErrorMarkerContent(content string) bool {
	return len(content) >= len(generationErrorMarker) && content[:len(generationErrorMarker)] == generationErrorMarker
}

type sectionResult struct {
	content         string
	sourceChunkIds  []string
	sourceRelevance map[string]float64
	failed          bool
	message         string
}

// RunGeneration executes the full section loop for an approved report. It is
// launched as a detached background task: its only communication back to the
// system is through the report store and the progress emitter.
//
// Sections are generated strictly sequentially; later sections may depend on
// earlier sections' resolved content. A single section's failure never aborts
// the run (the section completes with an inline error marker). Failures
// outside the per-section boundary flip the report to failed.
func RunGeneration(ctx context.Context, deps PipelineDeps, reportId int, emitter *Emitter) {
	logger := deps.Logger

	report, err := deps.Store.GetReport(ctx, reportId)
	if err != nil {
		markReportFailed(ctx, deps, reportId, emitter, err)
		return
	}

	gc, err := deps.Context.LoadGenerationContext(ctx, report)
	if err != nil {
		markReportFailed(ctx, deps, reportId, emitter, err)
		return
	}

	toc := report.TableOfContents
	var generated []GeneratedSection

	for i, entry := range toc.Sections {
		if ctx.Err() != nil {
			// Reset cancelled the run; it owns the report state now.
			return
		}
		if entry.IsTransmittal() {
			// Produced after the loop from the document register.
			continue
		}

		if err := deps.Store.UpdateSection(ctx, reportId, i, map[string]interface{}{
			"status": models.SectionStatusGenerating,
		}); err != nil {
			markReportFailed(ctx, deps, reportId, emitter, err)
			return
		}

		res := generateSection(ctx, deps, report, entry, gc, generated)
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":       models.SectionStatusComplete,
			"generated_at": &now,
		}
		if res.failed {
			updates["content"] = RenderErrorMarker(entry.Title, res.message)
			updates["source_chunk_ids"] = models.StringList{}
			updates["source_relevance"] = models.RelevanceMap{}
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":         "RunGeneration",
					"report_id":     reportId,
					"section_index": i,
				}).Warn("section generation failed; completed with error marker: " + res.message)
			}
		} else {
			updates["content"] = res.content
			updates["source_chunk_ids"] = models.StringList(utils.UniqueSlice(res.sourceChunkIds))
			updates["source_relevance"] = models.RelevanceMap(res.sourceRelevance)
			generated = append(generated, GeneratedSection{Index: i, Title: entry.Title, Content: res.content})
		}
		if err := deps.Store.UpdateSection(ctx, reportId, i, updates); err != nil {
			markReportFailed(ctx, deps, reportId, emitter, err)
			return
		}
		if err := deps.Store.UpdateReport(ctx, reportId, map[string]interface{}{
			"current_section_index": i + 1,
		}); err != nil {
			markReportFailed(ctx, deps, reportId, emitter, err)
			return
		}
		emitter.Emit(ProgressEvent{Kind: ProgressEventSectionComplete, SectionIndex: i, Title: entry.Title})
	}

	if ctx.Err() != nil {
		return
	}

	totalSections, err := resolveTransmittalAppendix(ctx, deps, reportId, &toc, gc, emitter)
	if err != nil {
		markReportFailed(ctx, deps, reportId, emitter, err)
		return
	}

	if ctx.Err() != nil {
		return
	}

	if err := deps.Store.UpdateReport(ctx, reportId, map[string]interface{}{
		"status":                models.ReportStatusComplete,
		"current_section_index": totalSections,
	}); err != nil {
		markReportFailed(ctx, deps, reportId, emitter, err)
		return
	}

	// Memory capture is best-effort: log and swallow, never flip status.
	if deps.Memory != nil {
		report.TableOfContents = toc
		if err := deps.Memory.CaptureOutline(ctx, report, gc.Facts); err != nil && logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "RunGeneration",
				"report_id": reportId,
			}).Warn("outline memory capture failed: " + err.Error())
		}
	}

	emitter.Emit(ProgressEvent{Kind: ProgressEventComplete, TotalSections: totalSections})
	emitter.Close()
}

// generateSection routes one section through the report's generation mode.
// Any failure (including a panic in a collaborator) is caught here, at the
// per-section boundary.
func generateSection(ctx context.Context, deps PipelineDeps, report *models.Report, entry models.TocSection, gc *GenerationContext, generated []GeneratedSection) (res sectionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = sectionResult{failed: true, message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	// The template baseline is always rendered first, in both modes.
	baseline := RenderSectionBaseline(entry, gc, report.ContentLength, generated)

	mode := report.GenerationMode
	if mode == models.GenerationModeAIAssisted && config.AIAssistDisabled() {
		mode = models.GenerationModeDataOnly
	}
	if mode != models.GenerationModeAIAssisted {
		return sectionResult{content: baseline}
	}

	// ai_assisted: baseline, then retrieval, then composition — always
	// sequential, and retrieval is never skipped.
	if deps.Retriever == nil {
		return sectionResult{failed: true, message: "retrieval engine is not configured"}
	}
	chunks, err := deps.Retriever.RetrieveChunks(ctx, sectionRetrievalQuery(entry, gc), defaultRetrievalLimit)
	if err != nil {
		return sectionResult{failed: true, message: "retrieval failed: " + err.Error()}
	}

	if deps.Composer == nil {
		return sectionResult{failed: true, message: "ai composer is not configured"}
	}
	out, err := deps.Composer.ComposeSection(ctx, ComposeInput{
		SectionTitle: entry.Title,
		Baseline:     baseline,
		Chunks:       chunks,
		Facts:        gc.Facts,
		Length:       report.ContentLength,
	})
	if err != nil {
		return sectionResult{failed: true, message: "composition failed: " + err.Error()}
	}

	return sectionResult{
		content:         out.Content,
		sourceChunkIds:  out.SourceChunkIds,
		sourceRelevance: out.SourceRelevance,
	}
}

func sectionRetrievalQuery(entry models.TocSection, gc *GenerationContext) string {
	query := entry.Title
	if name := gc.Facts.TradeName(); name != "" {
		query += " " + name
	} else if name := gc.Facts.DisciplineName(); name != "" {
		query += " " + name
	}
	return query
}

// resolveTransmittalAppendix fills the transmittal slot after the main loop.
// The appendix is the one deliberate exception to "outline is fixed at
// approval time": transmittal availability is only known once the execution
// context is reconstructed, so when no slot exists, exactly one section is
// appended and the persisted outline is mutated to match.
func resolveTransmittalAppendix(ctx context.Context, deps PipelineDeps, reportId int, toc *models.TableOfContents, gc *GenerationContext, emitter *Emitter) (int, error) {
	totalSections := len(toc.Sections)
	now := time.Now().UTC()

	slot := -1
	for i, entry := range toc.Sections {
		if entry.IsTransmittal() {
			slot = i
			break
		}
	}

	if gc.Transmittal == nil || len(gc.Transmittal.Documents) == 0 || config.TransmittalAppendixDisabled() {
		// No append without documents, but an outline slot the loop skipped
		// must still be completed: a complete report never keeps pending rows.
		if slot >= 0 {
			if err := deps.Store.UpdateSection(ctx, reportId, slot, map[string]interface{}{
				"content":      RenderTransmittalListing(nil),
				"status":       models.SectionStatusComplete,
				"generated_at": &now,
			}); err != nil {
				return totalSections, err
			}
			emitter.Emit(ProgressEvent{Kind: ProgressEventSectionComplete, SectionIndex: slot, Title: toc.Sections[slot].Title})
		}
		return totalSections, nil
	}

	listing := RenderTransmittalListing(gc.Transmittal)

	if slot >= 0 {
		if err := deps.Store.UpdateSection(ctx, reportId, slot, map[string]interface{}{
			"content":      listing,
			"status":       models.SectionStatusComplete,
			"generated_at": &now,
		}); err != nil {
			return totalSections, err
		}
		emitter.Emit(ProgressEvent{Kind: ProgressEventSectionComplete, SectionIndex: slot, Title: toc.Sections[slot].Title})
		return totalSections, nil
	}

	newIndex := len(toc.Sections)
	section := &models.ReportSection{
		ReportId:     reportId,
		SectionIndex: newIndex,
		Title:        "Transmittal",
		Content:      utils.NewString(listing),
		Status:       models.SectionStatusComplete,
		GeneratedAt:  &now,
	}
	if err := deps.Store.CreateSections(ctx, []*models.ReportSection{section}); err != nil {
		return totalSections, err
	}

	toc.Sections = append(toc.Sections, models.TocSection{
		Id:    models.TransmittalSectionId,
		Title: "Transmittal",
		Level: 0,
	})
	if err := deps.Store.UpdateReport(ctx, reportId, map[string]interface{}{
		"table_of_contents": *toc,
	}); err != nil {
		return totalSections, err
	}
	emitter.Emit(ProgressEvent{Kind: ProgressEventSectionComplete, SectionIndex: newIndex, Title: "Transmittal"})
	return newIndex + 1, nil
}

func markReportFailed(ctx context.Context, deps PipelineDeps, reportId int, emitter *Emitter, cause error) {
	// A cancelled run owns nothing: Reset already rewrote the report state,
	// and a failed write here would clobber it. Store errors caused by the
	// cancellation itself land here too.
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		return
	}
	logger := deps.Logger
	if logger != nil {
		config.LogError(logger, "generationWorkflow.go", "RunGeneration", "pipeline-level failure", reportId, cause)
	}
	if err := deps.Store.UpdateReport(context.Background(), reportId, map[string]interface{}{
		"status": models.ReportStatusFailed,
	}); err != nil && logger != nil {
		config.LogError(logger, "generationWorkflow.go", "markReportFailed", "update report status", reportId, err)
	}
	emitter.Emit(ProgressEvent{Kind: ProgressEventError, Message: cause.Error()})
	emitter.Close()
}
