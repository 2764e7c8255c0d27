package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
)

func newCompleteReport(t *testing.T, store *fakeStore, id int, mode models.GenerationMode, titles ...string) *models.Report {
	t.Helper()
	report := newGeneratingReport(id, mode, outlineEntries(titles...))
	report.Status = models.ReportStatusComplete
	report.CurrentSectionIndex = len(titles)
	cp := *report
	store.mu.Lock()
	store.reports[id] = &cp
	store.mu.Unlock()

	now := time.Now().UTC()
	sections := make([]*models.ReportSection, 0, len(titles))
	for i, title := range titles {
		sections = append(sections, &models.ReportSection{
			ReportId:     id,
			SectionIndex: i,
			Title:        title,
			Content:      utils.NewString("original: " + title),
			Status:       models.SectionStatusComplete,
			GeneratedAt:  &now,
		})
	}
	if err := store.CreateSections(context.Background(), sections); err != nil {
		t.Fatalf("seed sections: %v", err)
	}
	return report
}

func TestRegenerateSingleSection(t *testing.T) {
	store := newFakeStore()
	report := newCompleteReport(t, store, 40, models.GenerationModeDataOnly, "Scope", "Schedule", "Budget")
	deps, _, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})

	section, err := RegenerateSection(context.Background(), deps, report.ID, 1)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if section.Content == nil || !strings.Contains(*section.Content, "Schedule") {
		t.Errorf("content = %v", section.Content)
	}
	if section.RegenerationCount != 1 {
		t.Errorf("regeneration count = %d, want 1", section.RegenerationCount)
	}
	if section.Status != models.SectionStatusComplete {
		t.Errorf("status = %s, want complete", section.Status)
	}

	// Neighbours stay untouched.
	for _, i := range []int{0, 2} {
		other := store.section(t, report.ID, i)
		if other.Content == nil || !strings.HasPrefix(*other.Content, "original:") {
			t.Errorf("section %d was modified: %v", i, other.Content)
		}
		if other.RegenerationCount != 0 {
			t.Errorf("section %d regeneration count = %d", i, other.RegenerationCount)
		}
	}
	got := store.report(t, report.ID)
	if got.Status != models.ReportStatusComplete {
		t.Errorf("report status = %s, want still complete", got.Status)
	}
}

func TestRegenerateFailureWritesErrorMarker(t *testing.T) {
	store := newFakeStore()
	report := newCompleteReport(t, store, 41, models.GenerationModeAIAssisted, "Scope")
	deps, retriever, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})
	retriever.fn = func(string) ([]Chunk, error) {
		return nil, errors.New("retrieval backend down")
	}

	section, err := RegenerateSection(context.Background(), deps, report.ID, 0)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if section.Content == nil || !IsErrorMarkerContent(*section.Content) {
		t.Errorf("content = %v, want error marker", section.Content)
	}
	if section.Status != models.SectionStatusComplete {
		t.Errorf("status = %s, want complete", section.Status)
	}
	if section.RegenerationCount != 1 {
		t.Errorf("regeneration count = %d, want 1", section.RegenerationCount)
	}
}

func TestRegenerateTransmittalSlot(t *testing.T) {
	store := newFakeStore()
	report := newCompleteReport(t, store, 42, models.GenerationModeDataOnly, "Scope", "Transmittal")
	gc := &GenerationContext{
		Facts:       testFacts(),
		Transmittal: &Transmittal{Documents: []models.TransmittalDocument{{ID: 1, FileName: "drawings.pdf"}}},
	}
	deps, _, _, _ := newTestDeps(store, gc)

	section, err := RegenerateSection(context.Background(), deps, report.ID, 1)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if section.Content == nil || !strings.Contains(*section.Content, "drawings.pdf") {
		t.Errorf("content = %v", section.Content)
	}
}

func TestRegenerateRequiresCompleteReport(t *testing.T) {
	report := newGeneratingReport(43, models.GenerationModeDataOnly, outlineEntries("Scope"))
	store := newFakeStore(report)
	seedPendingSections(t, store, report)
	deps, _, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})

	if _, err := RegenerateSection(context.Background(), deps, report.ID, 0); err == nil {
		t.Fatal("expected error regenerating a section of a generating report")
	}
}

func TestRegenerateRejectsBadIndex(t *testing.T) {
	store := newFakeStore()
	report := newCompleteReport(t, store, 44, models.GenerationModeDataOnly, "Scope")
	deps, _, _, _ := newTestDeps(store, &GenerationContext{Facts: testFacts()})

	if _, err := RegenerateSection(context.Background(), deps, report.ID, 5); err == nil {
		t.Fatal("expected error for out-of-range section index")
	}
	if _, err := RegenerateSection(context.Background(), deps, report.ID, -1); err == nil {
		t.Fatal("expected error for negative section index")
	}
}
