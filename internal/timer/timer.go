// Package timer implements the server's Timer Manager: a single-threaded
// one-shot timer wheel driven by the main loop (spec.md §4.5). Timers never
// fire after cancellation and never fire on any goroutine other than the
// manager's own dispatch loop, so callbacks may safely touch main-thread
// state (policy lists, the device list, the BT registry) without locking.
//
// The implementation trades the teacher's ticker-based DeviceMonitor loop
// (device_monitor.go) for a heap-ordered wait: CreateTimer/CancelTimer may
// be called from any goroutine, but the callback always runs on the single
// loop goroutine started by Start.
package timer

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/shaban/audiosrvd/internal/logging"
)

// Callback receives the opaque argument passed at creation time.
type Callback func(arg any)

// Handle identifies a scheduled timer. The zero Handle is never issued.
type Handle uint64

type entry struct {
	id        Handle
	deadline  time.Time
	seq       uint64
	cb        Callback
	arg       any
	cancelled bool
	index     int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Manager is the process-wide Timer Manager. Zero value is not usable; use
// New. Exactly one Manager is expected per process (spec.md §9 "Global
// policy lists and singleton Timer Manager"), but nothing here enforces
// that — tests construct their own.
type Manager struct {
	mu      sync.Mutex
	pending entryHeap
	byID    map[Handle]*entry
	nextID  Handle
	nextSeq uint64

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	running bool

	log *slog.Logger
}

// New creates a Manager. Call Start before any timer can fire.
func New() *Manager {
	return &Manager{
		byID: make(map[Handle]*entry),
		wake: make(chan struct{}, 1),
		log:  logging.For("tm"),
	}
}

// Start begins the dispatch loop. Calling Start twice is a no-op — it
// matches the teacher's dispatcher.Start idempotence (dispatcher.go).
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop()
}

// Stop halts the dispatch loop and cancels every pending timer. Calling
// Stop without a prior Start, or calling it twice, is a safe no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	<-m.done

	m.mu.Lock()
	for _, e := range m.byID {
		e.cancelled = true
	}
	m.pending = nil
	m.byID = make(map[Handle]*entry)
	m.mu.Unlock()
}

// CreateTimer schedules cb to run after ms milliseconds, on the dispatch
// loop goroutine. Safe to call from any goroutine, including from within a
// firing callback (the manager tolerates a callback scheduling a new timer
// for the same device, per spec.md §4.5).
func (m *Manager) CreateTimer(ms int, cb Callback, arg any) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.nextSeq++
	e := &entry{
		id:       m.nextID,
		deadline: time.Now().Add(time.Duration(ms) * time.Millisecond),
		seq:      m.nextSeq,
		cb:       cb,
		arg:      arg,
	}
	m.byID[e.id] = e
	heap.Push(&m.pending, e)
	m.signalWake()
	return e.id
}

// CancelTimer is always safe, including after the timer has already fired
// (in which case it is a no-op). Timers never fire after cancellation.
func (m *Manager) CancelTimer(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[h]
	if !ok {
		return
	}
	e.cancelled = true
	delete(m.byID, h)
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// nextDeadline returns the earliest non-cancelled entry's deadline,
// discarding cancelled entries it encounters at the top of the heap.
func (m *Manager) nextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.pending.Len() > 0 {
		top := m.pending[0]
		if top.cancelled {
			heap.Pop(&m.pending)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// fireDue pops and runs every entry whose deadline has passed, in deadline
// order with registration order as the tie-break (spec.md §5 "Ordering").
func (m *Manager) fireDue() {
	for {
		m.mu.Lock()
		if m.pending.Len() == 0 {
			m.mu.Unlock()
			return
		}
		top := m.pending[0]
		if top.cancelled {
			heap.Pop(&m.pending)
			m.mu.Unlock()
			continue
		}
		if top.deadline.After(time.Now()) {
			m.mu.Unlock()
			return
		}
		heap.Pop(&m.pending)
		delete(m.byID, top.id)
		m.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("timer callback panicked", "recover", r)
				}
			}()
			top.cb(top.arg)
		}()
	}
}

func (m *Manager) loop() {
	defer close(m.done)

	for {
		deadline, has := m.nextDeadline()

		var wait <-chan time.Time
		var t *time.Timer
		if has {
			d := time.Until(deadline)
			if d < 0 {
				d = 0
			}
			t = time.NewTimer(d)
			wait = t.C
		}

		select {
		case <-m.stop:
			if t != nil {
				t.Stop()
			}
			return
		case <-wait:
			m.fireDue()
		case <-m.wake:
			if t != nil {
				t.Stop()
			}
			// Re-evaluate next deadline immediately; a new, earlier timer
			// may have been created.
		}
	}
}
