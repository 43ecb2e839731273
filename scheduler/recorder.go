package scheduler

import "sync"

// Recorder is a thread-safe in-memory Sink, grounded on kb.KnowledgeBase's
// mutex-guarded store plus Subscribe pattern: it accumulates Records in
// insertion order and lets interested parties be notified as they arrive,
// without feeding anything back into the scheduler.
type Recorder struct {
	mu      sync.RWMutex
	records []Record
	subs    []func(Record)
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Observe implements Sink.
func (r *Recorder) Observe(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	subs := append([]func(Record){}, r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub(rec)
		}
	}
}

// Records returns a snapshot copy of all recorded samples in insertion order.
func (r *Recorder) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len reports the number of recorded samples.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Subscribe registers a callback invoked with every new Record. It returns
// an unsubscribe function.
func (r *Recorder) Subscribe(fn func(Record)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	idx := len(r.subs) - 1

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < 0 || idx >= len(r.subs) {
			return
		}
		r.subs[idx] = nil
		idx = -1
	}
}
