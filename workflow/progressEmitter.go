package workflow

import (
	"context"
	"sync"
)

type ProgressEventKind string

const (
	ProgressEventSectionComplete ProgressEventKind = "section_complete"
	ProgressEventComplete        ProgressEventKind = "complete"
	ProgressEventError           ProgressEventKind = "error"
)

type ProgressEvent struct {
	Kind          ProgressEventKind `json:"kind"`
	SectionIndex  int               `json:"sectionIndex"`
	Title         string            `json:"title,omitempty"`
	TotalSections int               `json:"totalSections,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// ProgressRegistry is the one piece of process-wide mutable state in the
// pipeline: a per-report broadcast channel for generation progress. It is
// injected into the flows rather than accessed as ambient state.
//
// One live emitter per report id; registering a new one replaces the prior
// (single-flight per report). Delivery is best-effort in emission order; a
// consumer that connects after generation starts may miss earlier events —
// final state is always recoverable from the report store.
type ProgressRegistry struct {
	mu      sync.Mutex
	entries map[int]*progressEntry
}

type progressEntry struct {
	generation int
	subs       map[int]chan ProgressEvent
	nextSubId  int
	cancelRun  context.CancelFunc
	active     bool
}

// Emitter is the producer handle for a single generation run. Emitting from
// a replaced handle is a no-op.
type Emitter struct {
	registry   *ProgressRegistry
	reportId   int
	generation int
}

func NewProgressRegistry() *ProgressRegistry {
	return &ProgressRegistry{entries: make(map[int]*progressEntry)}
}

func (r *ProgressRegistry) entry(reportId int) *progressEntry {
	e, ok := r.entries[reportId]
	if !ok {
		e = &progressEntry{subs: make(map[int]chan ProgressEvent)}
		r.entries[reportId] = e
	}
	return e
}

// Register starts a new emitter generation for the report and records the
// cancel func of the run it belongs to. Subscribers survive re-registration;
// events from the replaced run are dropped.
func (r *ProgressRegistry) Register(reportId int, cancelRun context.CancelFunc) *Emitter {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(reportId)
	e.generation++
	e.cancelRun = cancelRun
	e.active = true
	return &Emitter{registry: r, reportId: reportId, generation: e.generation}
}

// RunActive reports whether a registered emitter generation has not yet been
// closed or cancelled for the report.
func (r *ProgressRegistry) RunActive(reportId int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[reportId]
	return ok && e.active
}

// maybeDrop removes an entry nothing references anymore. Caller holds r.mu.
func (r *ProgressRegistry) maybeDrop(reportId int) {
	if e, ok := r.entries[reportId]; ok && len(e.subs) == 0 && !e.active && e.cancelRun == nil {
		delete(r.entries, reportId)
	}
}

func (em *Emitter) Emit(evt ProgressEvent) {
	if em == nil || em.registry == nil {
		return
	}
	r := em.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[em.reportId]
	if !ok || e.generation != em.generation {
		return
	}
	for _, ch := range e.subs {
		select {
		case ch <- evt:
		default:
			// Slow consumer: drop instead of blocking the generation loop.
		}
	}
}

// Close tears the emitter down at terminal report status. All current
// subscriber channels are closed so progress streams end.
func (em *Emitter) Close() {
	if em == nil || em.registry == nil {
		return
	}
	r := em.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[em.reportId]
	if !ok || e.generation != em.generation {
		return
	}
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.cancelRun = nil
	e.active = false
	r.maybeDrop(em.reportId)
}

// Subscribe attaches a consumer to the report's progress channel. The
// returned func unsubscribes; the channel is closed on unsubscribe or when
// the run ends.
func (r *ProgressRegistry) Subscribe(reportId int) (<-chan ProgressEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(reportId)
	id := e.nextSubId
	e.nextSubId++
	ch := make(chan ProgressEvent, 16)
	e.subs[id] = ch

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.entries[reportId]; ok {
			if c, ok := cur.subs[id]; ok {
				close(c)
				delete(cur.subs, id)
			}
		}
		r.maybeDrop(reportId)
	}
	return ch, unsubscribe
}

// CancelRun cancels the in-flight generation run for the report, if any.
// Used by Reset; a run is never cancelled by a later lock change.
func (r *ProgressRegistry) CancelRun(reportId int) {
	r.mu.Lock()
	cancel := context.CancelFunc(nil)
	if e, ok := r.entries[reportId]; ok {
		if e.cancelRun != nil {
			cancel = e.cancelRun
			e.cancelRun = nil
		}
		e.active = false
	}
	r.maybeDrop(reportId)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
