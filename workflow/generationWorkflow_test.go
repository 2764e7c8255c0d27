package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/planfox/reports_backend/models"
)

func outlineEntries(titles ...string) []models.TocSection {
	entries := make([]models.TocSection, 0, len(titles))
	for _, title := range titles {
		entries = append(entries, models.TocSection{
			Id:    strings.ToLower(strings.ReplaceAll(title, " ", "-")),
			Title: title,
			Level: 0,
		})
	}
	return entries
}

func newGeneratingReport(id int, mode models.GenerationMode, entries []models.TocSection) *models.Report {
	return &models.Report{
		ID:              id,
		ProjectId:       1,
		Title:           "Planning Report",
		Status:          models.ReportStatusGenerating,
		GenerationMode:  mode,
		ContentLength:   models.ContentLengthConcise,
		TableOfContents: models.TableOfContents{Version: 1, Sections: entries},
	}
}

func seedPendingSections(t *testing.T, store *fakeStore, report *models.Report) {
	t.Helper()
	sections := make([]*models.ReportSection, 0, len(report.TableOfContents.Sections))
	for i, entry := range report.TableOfContents.Sections {
		sections = append(sections, &models.ReportSection{
			ReportId:     report.ID,
			SectionIndex: i,
			Title:        entry.Title,
			Status:       models.SectionStatusPending,
		})
	}
	if err := store.CreateSections(context.Background(), sections); err != nil {
		t.Fatalf("seed sections: %v", err)
	}
}

func TestRunGenerationDataOnly(t *testing.T) {
	report := newGeneratingReport(10, models.GenerationModeDataOnly, outlineEntries("Scope", "Schedule"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, retriever, composer, memory := newTestDeps(store, &GenerationContext{Facts: testFacts()})

	events, unsubscribe := deps.Progress.Subscribe(report.ID)
	defer unsubscribe()
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Fatalf("status = %s, want complete", got.Status)
	}
	if got.CurrentSectionIndex != 2 {
		t.Errorf("current section index = %d, want 2", got.CurrentSectionIndex)
	}
	for i, title := range []string{"Scope", "Schedule"} {
		section := store.section(t, report.ID, i)
		if section.Status != models.SectionStatusComplete {
			t.Errorf("section %d status = %s, want complete", i, section.Status)
		}
		if section.Content == nil || !strings.Contains(*section.Content, title) {
			t.Errorf("section %d content missing title %q", i, title)
		}
		if section.GeneratedAt == nil {
			t.Errorf("section %d missing generated_at", i)
		}
	}

	if len(retriever.calls) != 0 {
		t.Errorf("retriever called %d times in data_only mode", len(retriever.calls))
	}
	if len(composer.calls) != 0 {
		t.Errorf("composer called %d times in data_only mode", len(composer.calls))
	}
	if memory.callCount() != 1 {
		t.Errorf("memory capture calls = %d, want 1", memory.callCount())
	}

	var kinds []ProgressEventKind
	for evt := range events {
		kinds = append(kinds, evt.Kind)
	}
	want := []ProgressEventKind{ProgressEventSectionComplete, ProgressEventSectionComplete, ProgressEventComplete}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestRunGenerationAIAssistedPipelineOrder(t *testing.T) {
	report := newGeneratingReport(11, models.GenerationModeAIAssisted, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	gc := &GenerationContext{Facts: testFacts()}
	deps, retriever, composer, _ := newTestDeps(store, gc)
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	if len(retriever.calls) != 1 {
		t.Fatalf("retriever calls = %d, want 1", len(retriever.calls))
	}
	if len(composer.calls) != 1 {
		t.Fatalf("composer calls = %d, want 1", len(composer.calls))
	}
	// The composer must receive the deterministic baseline and the retrieved
	// chunks of the same section.
	input := composer.calls[0]
	wantBaseline := RenderSectionBaseline(report.TableOfContents.Sections[0], gc, report.ContentLength, nil)
	if input.Baseline != wantBaseline {
		t.Errorf("composer baseline mismatch:\ngot:  %q\nwant: %q", input.Baseline, wantBaseline)
	}
	if len(input.Chunks) != 1 || input.Chunks[0].Id != "chunk-1" {
		t.Errorf("composer chunks = %+v", input.Chunks)
	}

	section := store.section(t, report.ID, 0)
	if section.Content == nil || *section.Content != "composed: Scope" {
		t.Errorf("section content = %v", section.Content)
	}
	if len(section.SourceChunkIds) != 1 || section.SourceChunkIds[0] != "chunk-1" {
		t.Errorf("source chunk ids = %v", section.SourceChunkIds)
	}
	if section.SourceRelevance["chunk-1"] != 0.9 {
		t.Errorf("source relevance = %v", section.SourceRelevance)
	}
}

func TestRunGenerationSectionFailureIsolated(t *testing.T) {
	report := newGeneratingReport(12, models.GenerationModeAIAssisted, outlineEntries("Scope", "Schedule", "Budget"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, retriever, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	retriever.fn = func(query string) ([]Chunk, error) {
		if strings.HasPrefix(query, "Schedule") {
			return nil, errors.New("retrieval backend down")
		}
		return []Chunk{{Id: "chunk-1", Text: "passage", Relevance: 0.9}}, nil
	}
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Fatalf("status = %s, want complete (single section failure must not abort the run)", got.Status)
	}
	failed := store.section(t, report.ID, 1)
	if failed.Status != models.SectionStatusComplete {
		t.Errorf("failed section status = %s, want complete", failed.Status)
	}
	if failed.Content == nil || !IsErrorMarkerContent(*failed.Content) {
		t.Errorf("failed section content = %v, want error marker", failed.Content)
	}
	if failed.Content != nil && !strings.Contains(*failed.Content, "retrieval backend down") {
		t.Errorf("failed section content does not carry the cause: %q", *failed.Content)
	}
	for _, i := range []int{0, 2} {
		section := store.section(t, report.ID, i)
		if section.Content == nil || IsErrorMarkerContent(*section.Content) {
			t.Errorf("section %d should have generated normally, content = %v", i, section.Content)
		}
	}
}

func TestRunGenerationAIAssistKillSwitch(t *testing.T) {
	t.Setenv("DISABLE_AI_ASSIST", "true")

	report := newGeneratingReport(13, models.GenerationModeAIAssisted, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, retriever, composer, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	if len(retriever.calls) != 0 || len(composer.calls) != 0 {
		t.Errorf("kill switch active but retriever=%d composer=%d calls", len(retriever.calls), len(composer.calls))
	}
	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Fatalf("status = %s, want complete", got.Status)
	}
	section := store.section(t, report.ID, 0)
	if section.Content == nil || !strings.Contains(*section.Content, "Scope") {
		t.Errorf("expected template baseline content, got %v", section.Content)
	}
}

func TestRunGenerationContextFailureMarksReportFailed(t *testing.T) {
	report := newGeneratingReport(14, models.GenerationModeDataOnly, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, _, _, memory := newTestDeps(store, nil)
	deps.Context = &fakeContextProvider{err: errors.New("planning db unreachable")}

	events, unsubscribe := deps.Progress.Subscribe(report.ID)
	defer unsubscribe()
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	section := store.section(t, report.ID, 0)
	if section.Status != models.SectionStatusPending {
		t.Errorf("section status = %s, want untouched pending", section.Status)
	}
	if memory.callCount() != 0 {
		t.Errorf("memory captured a failed run")
	}

	var last ProgressEvent
	for evt := range events {
		last = evt
	}
	if last.Kind != ProgressEventError {
		t.Errorf("last event = %s, want error", last.Kind)
	}
	if !strings.Contains(last.Message, "planning db unreachable") {
		t.Errorf("error event message = %q", last.Message)
	}
}

func TestRunGenerationTransmittalAppended(t *testing.T) {
	report := newGeneratingReport(15, models.GenerationModeDataOnly, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	gc := &GenerationContext{
		Facts: testFacts(),
		Transmittal: &Transmittal{Documents: []models.TransmittalDocument{
			{ID: 1, FileName: "drawings.pdf"},
			{ID: 2, FileName: "datasheet.pdf"},
		}},
	}
	deps, _, _, _ := newTestDeps(store, gc)
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Fatalf("status = %s, want complete", got.Status)
	}
	// Exactly one appended entry, persisted in the outline.
	if len(got.TableOfContents.Sections) != 2 {
		t.Fatalf("outline length = %d, want 2 after transmittal append", len(got.TableOfContents.Sections))
	}
	appended := got.TableOfContents.Sections[1]
	if appended.Id != models.TransmittalSectionId || !appended.IsTransmittal() {
		t.Errorf("appended entry = %+v", appended)
	}
	if got.CurrentSectionIndex != 2 {
		t.Errorf("current section index = %d, want 2", got.CurrentSectionIndex)
	}
	section := store.section(t, report.ID, 1)
	if section.Content == nil || !strings.Contains(*section.Content, "drawings.pdf") {
		t.Errorf("transmittal content = %v", section.Content)
	}
	if store.sectionCount(report.ID) != 2 {
		t.Errorf("section rows = %d, want 2", store.sectionCount(report.ID))
	}
}

func TestRunGenerationTransmittalFillsExistingSlot(t *testing.T) {
	entries := append(outlineEntries("Scope"), models.TocSection{Id: models.TransmittalSectionId, Title: "Transmittal", Level: 0})
	report := newGeneratingReport(16, models.GenerationModeDataOnly, entries)
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	gc := &GenerationContext{
		Facts:       testFacts(),
		Transmittal: &Transmittal{Documents: []models.TransmittalDocument{{ID: 1, FileName: "drawings.pdf"}}},
	}
	deps, _, _, _ := newTestDeps(store, gc)
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if len(got.TableOfContents.Sections) != 2 {
		t.Fatalf("outline length = %d, want unchanged 2", len(got.TableOfContents.Sections))
	}
	if store.sectionCount(report.ID) != 2 {
		t.Fatalf("section rows = %d, want 2 (slot reused, not appended)", store.sectionCount(report.ID))
	}
	section := store.section(t, report.ID, 1)
	if section.Status != models.SectionStatusComplete {
		t.Errorf("transmittal slot status = %s", section.Status)
	}
	if section.Content == nil || !strings.Contains(*section.Content, "drawings.pdf") {
		t.Errorf("transmittal slot content = %v", section.Content)
	}
}

func TestRunGenerationTransmittalSkippedWithoutDocuments(t *testing.T) {
	report := newGeneratingReport(17, models.GenerationModeDataOnly, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, _, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if len(got.TableOfContents.Sections) != 1 {
		t.Errorf("outline length = %d, want 1 (no transmittal without documents)", len(got.TableOfContents.Sections))
	}
	if store.sectionCount(report.ID) != 1 {
		t.Errorf("section rows = %d, want 1", store.sectionCount(report.ID))
	}
}

func TestRunGenerationMemoryFailureSwallowed(t *testing.T) {
	report := newGeneratingReport(18, models.GenerationModeDataOnly, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, _, _, memory := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	memory.err = errors.New("memory table missing")
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Fatalf("status = %s, want complete despite memory failure", got.Status)
	}
	if memory.callCount() != 1 {
		t.Errorf("memory capture calls = %d, want 1", memory.callCount())
	}
}

// resetRacingStore cancels the run's ctx during a write and then honours the
// cancellation the way gorm does mid-query, returning ctx.Err().
type resetRacingStore struct {
	*fakeStore
	once      sync.Once
	interrupt func()
}

func (s *resetRacingStore) UpdateSection(ctx context.Context, reportId int, sectionIndex int, updates map[string]interface{}) error {
	s.once.Do(s.interrupt)
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeStore.UpdateSection(ctx, reportId, sectionIndex, updates)
}

func TestRunGenerationResetRaceDoesNotClobberResetState(t *testing.T) {
	report := newGeneratingReport(50, models.GenerationModeDataOnly, outlineEntries("Scope"))
	base := newFakeStore(report)
	seedPendingSections(t, base, report)

	runCtx, cancel := context.WithCancel(context.Background())
	store := &resetRacingStore{fakeStore: base}
	store.interrupt = func() {
		// What Reset does while the run still has a store call in flight.
		cancel()
		if err := base.DeleteSections(context.Background(), report.ID); err != nil {
			t.Errorf("reset delete: %v", err)
		}
		if err := base.UpdateReport(context.Background(), report.ID, map[string]interface{}{
			"status":                models.ReportStatusTocPending,
			"current_section_index": 0,
			"has_edited_content":    false,
		}); err != nil {
			t.Errorf("reset update: %v", err)
		}
	}

	deps, _, _, _ := newTestDeps(base, &GenerationContext{Facts: testFacts()})
	deps.Store = store
	emitter := deps.Progress.Register(report.ID, cancel)

	RunGeneration(runCtx, deps, report.ID, emitter)

	got := base.report(t, report.ID)
	if got.Status != models.ReportStatusTocPending {
		t.Fatalf("status = %s; a run unwinding from cancellation must not overwrite the reset state", got.Status)
	}
	if base.sectionCount(report.ID) != 0 {
		t.Errorf("section rows = %d, want 0 (reset purged them)", base.sectionCount(report.ID))
	}
}

func TestRunGenerationDeduplicatesSourceChunkIds(t *testing.T) {
	report := newGeneratingReport(51, models.GenerationModeAIAssisted, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, retriever, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	retriever.fn = func(string) ([]Chunk, error) {
		return []Chunk{
			{Id: "chunk-1", Text: "first", Relevance: 0.9},
			{Id: "chunk-1", Text: "repeat", Relevance: 0.8},
			{Id: "chunk-2", Text: "second", Relevance: 0.7},
		}, nil
	}
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	section := store.section(t, report.ID, 0)
	if len(section.SourceChunkIds) != 2 {
		t.Fatalf("source chunk ids = %v, want deduplicated [chunk-1 chunk-2]", section.SourceChunkIds)
	}
	if section.SourceChunkIds[0] != "chunk-1" || section.SourceChunkIds[1] != "chunk-2" {
		t.Errorf("source chunk ids = %v", section.SourceChunkIds)
	}
}

func TestRunGenerationTransmittalSlotCompletedWithoutDocuments(t *testing.T) {
	entries := append(outlineEntries("Scope"), models.TocSection{Id: models.TransmittalSectionId, Title: "Transmittal", Level: 0})
	report := newGeneratingReport(52, models.GenerationModeDataOnly, entries)
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, _, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	emitter := deps.Progress.Register(report.ID, func() {})

	RunGeneration(context.Background(), deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Fatalf("status = %s, want complete", got.Status)
	}
	if len(got.TableOfContents.Sections) != 2 {
		t.Errorf("outline length = %d, want unchanged 2", len(got.TableOfContents.Sections))
	}
	// The empty register must not leave the slot pending in a complete report.
	section := store.section(t, report.ID, 1)
	if section.Status != models.SectionStatusComplete {
		t.Errorf("transmittal slot status = %s, want complete", section.Status)
	}
	if section.Content == nil || !strings.Contains(*section.Content, "No documents are transmitted") {
		t.Errorf("transmittal slot content = %v", section.Content)
	}
}

func TestRunGenerationCancelledRunWritesNoTerminalState(t *testing.T) {
	report := newGeneratingReport(19, models.GenerationModeDataOnly, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, _, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})

	ctx, cancel := context.WithCancel(context.Background())
	emitter := deps.Progress.Register(report.ID, cancel)
	deps.Progress.CancelRun(report.ID)

	RunGeneration(ctx, deps, report.ID, emitter)

	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusGenerating {
		t.Fatalf("status = %s; a cancelled run must not write a terminal status", got.Status)
	}
	section := store.section(t, report.ID, 0)
	if section.Status != models.SectionStatusPending {
		t.Errorf("section status = %s, want pending", section.Status)
	}
}
