package workflow

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	"github.com/sirupsen/logrus"
)

// fakeStore is the in-memory ReportStore used across workflow tests. It
// applies the same column-name update maps the gorm store receives, so the
// flows are exercised with their real write payloads.
type fakeStore struct {
	mu       sync.Mutex
	reports  map[int]*models.Report
	sections map[int]map[int]*models.ReportSection

	updateReportErr  error
	updateSectionErr error
}

func newFakeStore(reports ...*models.Report) *fakeStore {
	s := &fakeStore{
		reports:  make(map[int]*models.Report),
		sections: make(map[int]map[int]*models.ReportSection),
	}
	for _, r := range reports {
		cp := *r
		s.reports[r.ID] = &cp
	}
	return s
}

func (s *fakeStore) GetReport(ctx context.Context, reportId int) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) UpdateReport(ctx context.Context, reportId int, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateReportErr != nil {
		return s.updateReportErr
	}
	r, ok := s.reports[reportId]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			r.Status = v.(models.ReportStatus)
		case "table_of_contents":
			r.TableOfContents = v.(models.TableOfContents)
		case "current_section_index":
			r.CurrentSectionIndex = v.(int)
		case "generation_mode":
			r.GenerationMode = v.(models.GenerationMode)
		case "content_length":
			r.ContentLength = v.(models.ContentLength)
		case "has_edited_content":
			r.HasEditedContent = v.(bool)
		case "discipline_id":
			r.DisciplineId = v.(*int)
		case "trade_id":
			r.TradeId = v.(*int)
		case "locked_by":
			r.LockedBy = v.(string)
		case "locked_by_name":
			r.LockedByName = v.(string)
		case "locked_at":
			r.LockedAt = v.(*time.Time)
		}
	}
	return nil
}

func (s *fakeStore) CreateSections(ctx context.Context, sections []*models.ReportSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, section := range sections {
		rows, ok := s.sections[section.ReportId]
		if !ok {
			rows = make(map[int]*models.ReportSection)
			s.sections[section.ReportId] = rows
		}
		if _, exists := rows[section.SectionIndex]; exists {
			return errors.New("duplicate section index")
		}
		cp := *section
		rows[section.SectionIndex] = &cp
	}
	return nil
}

func (s *fakeStore) GetSection(ctx context.Context, reportId int, sectionIndex int) (*models.ReportSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, ok := s.sections[reportId][sectionIndex]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *section
	return &cp, nil
}

func (s *fakeStore) ListSections(ctx context.Context, reportId int) ([]*models.ReportSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sections[reportId]
	indexes := make([]int, 0, len(rows))
	for i := range rows {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]*models.ReportSection, 0, len(rows))
	for _, i := range indexes {
		cp := *rows[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) UpdateSection(ctx context.Context, reportId int, sectionIndex int, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateSectionErr != nil {
		return s.updateSectionErr
	}
	section, ok := s.sections[reportId][sectionIndex]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			section.Status = v.(models.SectionStatus)
		case "content":
			content := v.(string)
			section.Content = &content
		case "source_chunk_ids":
			section.SourceChunkIds = v.(models.StringList)
		case "source_relevance":
			section.SourceRelevance = v.(models.RelevanceMap)
		case "generated_at":
			section.GeneratedAt = v.(*time.Time)
		case "regeneration_count":
			section.RegenerationCount = v.(int)
		}
	}
	return nil
}

func (s *fakeStore) DeleteSections(ctx context.Context, reportId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sections, reportId)
	return nil
}

func (s *fakeStore) report(t *testing.T, reportId int) *models.Report {
	t.Helper()
	r, err := s.GetReport(context.Background(), reportId)
	if err != nil {
		t.Fatalf("report %d: %v", reportId, err)
	}
	return r
}

func (s *fakeStore) section(t *testing.T, reportId int, sectionIndex int) *models.ReportSection {
	t.Helper()
	section, err := s.GetSection(context.Background(), reportId, sectionIndex)
	if err != nil {
		t.Fatalf("section %d/%d: %v", reportId, sectionIndex, err)
	}
	return section
}

func (s *fakeStore) sectionCount(reportId int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sections[reportId])
}

type fakeContextProvider struct {
	mu          sync.Mutex
	gc          *GenerationContext
	err         error
	invalidated []int
}

func (p *fakeContextProvider) LoadGenerationContext(ctx context.Context, report *models.Report) (*GenerationContext, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.gc, nil
}

func (p *fakeContextProvider) InvalidateCache(reportId int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = append(p.invalidated, reportId)
}

type fakeRetriever struct {
	fn    func(query string) ([]Chunk, error)
	mu    sync.Mutex
	calls []string
}

func (r *fakeRetriever) RetrieveChunks(ctx context.Context, query string, limit int) ([]Chunk, error) {
	r.mu.Lock()
	r.calls = append(r.calls, query)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(query)
	}
	return []Chunk{{Id: "chunk-1", Text: "passage", Relevance: 0.9}}, nil
}

type fakeComposer struct {
	fn    func(input ComposeInput) (ComposeResult, error)
	mu    sync.Mutex
	calls []ComposeInput
}

func (c *fakeComposer) ComposeSection(ctx context.Context, input ComposeInput) (ComposeResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, input)
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(input)
	}
	return ComposeResult{
		Content:         "composed: " + input.SectionTitle,
		SourceChunkIds:  chunkIds(input.Chunks),
		SourceRelevance: chunkRelevance(input.Chunks),
	}, nil
}

type fakeMemory struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *fakeMemory) CaptureOutline(ctx context.Context, report *models.Report, facts PlanningFacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *fakeMemory) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testFacts() PlanningFacts {
	return PlanningFacts{
		Project: models.Project{ID: 1, Name: "Harbour Extension", ClientName: "Port Authority"},
	}
}

func newTestDeps(store *fakeStore, gc *GenerationContext) (PipelineDeps, *fakeRetriever, *fakeComposer, *fakeMemory) {
	retriever := &fakeRetriever{}
	composer := &fakeComposer{}
	memory := &fakeMemory{}
	deps := PipelineDeps{
		Store:     store,
		Context:   &fakeContextProvider{gc: gc},
		Retriever: retriever,
		Composer:  composer,
		Progress:  NewProgressRegistry(),
		Memory:    memory,
		Logger:    quietLogger(),
	}
	return deps, retriever, composer, memory
}

func waitForStatus(t *testing.T, store *fakeStore, reportId int, want models.ReportStatus) *models.Report {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r := store.report(t, reportId)
		if r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("report %d never reached status %s (last=%s)", reportId, want, store.report(t, reportId).Status)
	return nil
}
