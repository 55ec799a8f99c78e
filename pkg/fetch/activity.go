package fetch

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// OutstandingImport is one row of the activity buffer: the merged view
// of the QUEUE, START and FINISH events sharing a unique id.
type OutstandingImport struct {
	Unique        uint64        `json:"unique"`
	Kind          Kind          `json:"kind"`
	Rev           string        `json:"rev"`
	Path          string        `json:"path"`
	PriorityClass PriorityClass `json:"priority"`
	Cause         Cause         `json:"cause"`
	Pid           int           `json:"pid,omitempty"`
	FetchType     FetchType     `json:"fetchType"`
	Source        Source        `json:"source,omitempty"`
	QueuedAt      time.Time     `json:"queuedAt"`
	StartedAt     time.Time     `json:"startedAt,omitempty"`
	FinishedAt    time.Time     `json:"finishedAt,omitempty"`
}

// Active tells whether the import has not finished yet
func (o OutstandingImport) Active() bool {
	return o.FinishedAt.IsZero()
}

// ActivityBuffer is the single trace-bus subscriber. It merges events
// into a bounded table of imports keyed by unique id; when full, the
// oldest row is evicted. The buffer is observability only.
type ActivityBuffer struct {
	mu       sync.Mutex
	capacity int
	order    []uint64
	rows     map[uint64]*OutstandingImport
	dropped  uint64
}

// NewActivityBuffer creates a buffer holding up to capacity rows
func NewActivityBuffer(capacity int) *ActivityBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ActivityBuffer{
		capacity: capacity,
		rows:     make(map[uint64]*OutstandingImport, capacity),
	}
}

// ProcessEvent folds one trace event into the table. Events for unknown
// phases panic: that is a programming error, not data corruption.
func (b *ActivityBuffer) ProcessEvent(ev TraceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Phase {
	case PhaseQueue:
		if len(b.order) >= b.capacity {
			oldest := b.order[0]
			b.order = b.order[1:]
			delete(b.rows, oldest)
			b.dropped++
		}
		b.order = append(b.order, ev.Unique)
		b.rows[ev.Unique] = &OutstandingImport{
			Unique:        ev.Unique,
			Kind:          ev.Kind,
			Rev:           ev.Rev.String(),
			Path:          ev.Path,
			PriorityClass: ev.PriorityClass,
			Cause:         ev.Cause,
			Pid:           ev.Pid,
			FetchType:     ev.FetchType,
			QueuedAt:      time.Now(),
		}
	case PhaseStart:
		if row, ok := b.rows[ev.Unique]; ok {
			row.StartedAt = time.Now()
		}
	case PhaseFinish:
		if row, ok := b.rows[ev.Unique]; ok {
			row.FinishedAt = time.Now()
			row.Source = ev.Source
		}
	default:
		panic("unknown trace phase")
	}
}

// Snapshot copies the current table in queue order
func (b *ActivityBuffer) Snapshot() []OutstandingImport {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OutstandingImport, 0, len(b.order))
	for _, unique := range b.order {
		if row, ok := b.rows[unique]; ok {
			out = append(out, *row)
		}
	}
	return out
}

// NumOutstanding counts imports that queued but did not finish yet
func (b *ActivityBuffer) NumOutstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, row := range b.rows {
		if row.Active() {
			n++
		}
	}
	return n
}

// Dropped counts rows evicted due to capacity
func (b *ActivityBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// MarshalJSON serializes a snapshot of the table
func (b *ActivityBuffer) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(b.Snapshot())
}
