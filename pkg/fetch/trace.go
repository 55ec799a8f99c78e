package fetch

import (
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/arborfs/arbor/pkg/model"
)

// TracePhase is the lifecycle step a trace event reports
type TracePhase uint8

const (
	// PhaseQueue is published when a request enters the queue
	PhaseQueue TracePhase = iota

	// PhaseStart is published when a worker picks the request up
	PhaseStart

	// PhaseFinish is published when the caller's sink resolved
	PhaseFinish
)

func (p TracePhase) String() string {
	switch p {
	case PhaseQueue:
		return "queue"
	case PhaseStart:
		return "start"
	case PhaseFinish:
		return "finish"
	default:
		panic("unknown trace phase")
	}
}

// TraceEvent describes one lifecycle step of one import request. Events
// are observability only: losing them never affects correctness.
type TraceEvent struct {
	Unique        uint64          `json:"unique"`
	Phase         TracePhase      `json:"phase"`
	Kind          Kind            `json:"kind"`
	Rev           model.Hash20    `json:"rev"`
	Path          string          `json:"path"`
	PriorityClass PriorityClass   `json:"priority"`
	Cause         Cause           `json:"cause"`
	Pid           int             `json:"pid,omitempty"`
	Source        Source          `json:"source,omitempty"`
	FetchType     FetchType       `json:"fetchType"`
}

func queueEvent(r *Request) TraceEvent {
	return traceEvent(r, PhaseQueue, SourceNone)
}

func startEvent(r *Request) TraceEvent {
	return traceEvent(r, PhaseStart, SourceNone)
}

func finishEvent(r *Request, source Source) TraceEvent {
	return traceEvent(r, PhaseFinish, source)
}

func traceEvent(r *Request, phase TracePhase, source Source) TraceEvent {
	return TraceEvent{
		Unique:        r.unique,
		Phase:         phase,
		Kind:          r.Kind,
		Rev:           r.Proxy.Rev,
		Path:          r.Proxy.Path,
		PriorityClass: r.Priority.Class,
		Cause:         r.Cause,
		Pid:           r.Pid,
		Source:        source,
		FetchType:     r.FetchType,
	}
}

// TraceBus publishes trace events to subscribers from a single
// dispatcher goroutine. Publication never blocks the producer: when the
// buffer is full the oldest event is dropped.
type TraceBus struct {
	events chan TraceEvent
	done   chan struct{}
	wg     sync.WaitGroup

	mu          sync.RWMutex
	subscribers map[string]func(TraceEvent)
}

// Subscription unregisters its subscriber on Close
type Subscription struct {
	bus *TraceBus
	id  string
}

// Close detaches the subscriber from the bus
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.id)
	s.bus.mu.Unlock()
}

// NewTraceBus creates a bus with the given buffer capacity and starts
// its dispatcher
func NewTraceBus(capacity int) *TraceBus {
	if capacity < 1 {
		capacity = 1
	}
	b := &TraceBus{
		events:      make(chan TraceEvent, capacity),
		done:        make(chan struct{}),
		subscribers: make(map[string]func(TraceEvent)),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a callback invoked from the dispatcher goroutine
func (b *TraceBus) Subscribe(fn func(TraceEvent)) *Subscription {
	id := ksuid.New().String()
	b.mu.Lock()
	b.subscribers[id] = fn
	b.mu.Unlock()
	return &Subscription{bus: b, id: id}
}

// Publish enqueues an event, dropping the oldest buffered event when
// the bus is saturated
func (b *TraceBus) Publish(ev TraceEvent) {
	for {
		select {
		case b.events <- ev:
			return
		default:
		}
		select {
		case <-b.events:
		default:
		}
	}
}

// Close stops the dispatcher after draining buffered events
func (b *TraceBus) Close() {
	close(b.done)
	b.wg.Wait()
}

func (b *TraceBus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.events:
			b.deliver(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.events:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *TraceBus) deliver(ev TraceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.subscribers {
		fn(ev)
	}
}
