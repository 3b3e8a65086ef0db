package streamutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// IdleWatcher detects stalled upstream streams. All live streams share one
// ticker goroutine; registering a stream costs a map entry, not a watchdog
// goroutine. The loop starts lazily on first Watch.
type IdleWatcher struct {
	tick time.Duration

	mu      sync.Mutex
	entries map[uint64]*idleEntry
	nextID  uint64
	started bool

	stop     chan struct{}
	loopDone chan struct{}
}

type idleEntry struct {
	limit    time.Duration
	lastSeen atomic.Int64
	onIdle   func()
	fired    atomic.Bool
}

func (e *idleEntry) expire() {
	if e.fired.CompareAndSwap(false, true) && e.onIdle != nil {
		e.onIdle()
	}
}

// NewIdleWatcher creates a watcher that sweeps registered streams every tick.
// Idle detection granularity is one tick; timeouts shorter than the tick are
// effectively rounded up to it.
func NewIdleWatcher(tick time.Duration) *IdleWatcher {
	if tick <= 0 {
		tick = 10 * time.Second
	}
	return &IdleWatcher{
		tick:     tick,
		entries:  make(map[uint64]*idleEntry),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Watch registers a stream. touch must be called whenever the stream shows
// activity; done unregisters it and must be called exactly once the stream
// ends, however it ends. onIdle fires at most once, off the sweep goroutine.
func (w *IdleWatcher) Watch(limit time.Duration, onIdle func()) (touch func(), done func()) {
	e := &idleEntry{limit: limit, onIdle: onIdle}
	e.lastSeen.Store(time.Now().UnixNano())

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.entries[id] = e
	if !w.started {
		w.started = true
		go w.sweep()
	}
	w.mu.Unlock()

	touch = func() { e.lastSeen.Store(time.Now().UnixNano()) }
	done = func() {
		e.fired.Store(true) // suppress a late onIdle
		w.mu.Lock()
		delete(w.entries, id)
		w.mu.Unlock()
	}
	return touch, done
}

func (w *IdleWatcher) sweep() {
	defer close(w.loopDone)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			for _, e := range w.snapshot() {
				if e.limit > 0 && now.UnixNano()-e.lastSeen.Load() > int64(e.limit) {
					e.expire()
				}
			}
		}
	}
}

// snapshot copies the live entries so expire callbacks run without the lock.
func (w *IdleWatcher) snapshot() []*idleEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*idleEntry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e)
	}
	return out
}

// Watching reports how many streams are currently registered.
func (w *IdleWatcher) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Stop ends the sweep loop. Registered streams are left untouched; their
// owners still call done as usual.
func (w *IdleWatcher) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	close(w.stop)
	if started {
		<-w.loopDone
	}
}

var defaultWatcher = sync.OnceValue(func() *IdleWatcher {
	return NewIdleWatcher(10 * time.Second)
})

// DefaultIdleWatcher is the process-wide watcher shared by upstream streams.
func DefaultIdleWatcher() *IdleWatcher {
	return defaultWatcher()
}
