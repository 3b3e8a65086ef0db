// Package respstore keeps aggregated Responses objects and the per-response
// conversation threads used to simulate previous_response_id locally. The
// backend's stored-response API is not available through this endpoint, so
// the gateway records what it would have returned.
package respstore

import (
	"context"
	"errors"
	"sync"

	"github.com/yaananth/chatmock/internal/json"
)

// ErrNotFound reports an unknown response id. It is a client-visible
// not-found, not a server error.
var ErrNotFound = errors.New("response not found")

const (
	// DefaultMaxResponses bounds the in-memory FIFO.
	DefaultMaxResponses = 200
	// DefaultThreadDepth bounds one thread's item list; older turns fall off.
	DefaultThreadDepth = 40
)

// Options configures a Store.
type Options struct {
	// MaxResponses caps the in-memory FIFO; 0 means DefaultMaxResponses.
	MaxResponses int
	// ThreadDepth caps items kept per thread; 0 means DefaultThreadDepth.
	ThreadDepth int
	// Mirror, when set, persists responses and serves memory misses.
	Mirror *Mirror
}

// Store is a bounded FIFO of response objects plus a thread map. Threads are
// recorded for every response, stored or not, so they carry their own FIFO.
// Concurrent use is safe.
type Store struct {
	mu          sync.Mutex
	max         int
	depth       int
	objects     map[string]json.RawMessage
	order       []string
	threads     map[string][]any
	threadOrder []string
	mirror      *Mirror
}

// New builds a Store with the given bounds.
func New(opts Options) *Store {
	if opts.MaxResponses <= 0 {
		opts.MaxResponses = DefaultMaxResponses
	}
	if opts.ThreadDepth <= 0 {
		opts.ThreadDepth = DefaultThreadDepth
	}
	return &Store{
		max:     opts.MaxResponses,
		depth:   opts.ThreadDepth,
		objects: make(map[string]json.RawMessage),
		threads: make(map[string][]any),
		mirror:  opts.Mirror,
	}
}

// Put records a response object under id. Re-putting an id refreshes its
// FIFO position. The oldest entries are evicted beyond the cap; their
// threads go with them.
func (s *Store) Put(id string, obj json.RawMessage) {
	if id == "" || len(obj) == 0 {
		return
	}
	s.mu.Lock()
	if _, ok := s.objects[id]; ok {
		s.removeFromOrder(id)
	}
	s.objects[id] = obj
	s.order = append(s.order, id)
	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.objects, oldest)
		if _, ok := s.threads[oldest]; ok {
			delete(s.threads, oldest)
			s.threadOrder = remove(s.threadOrder, oldest)
		}
	}
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Put(id, obj)
	}
}

func (s *Store) removeFromOrder(id string) {
	s.order = remove(s.order, id)
}

func remove(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Get returns the stored object for id, consulting the mirror on a memory
// miss. Unknown ids return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (json.RawMessage, error) {
	s.mu.Lock()
	obj, ok := s.objects[id]
	s.mu.Unlock()
	if ok {
		return obj, nil
	}
	if s.mirror != nil {
		return s.mirror.Get(ctx, id)
	}
	return nil, ErrNotFound
}

// SetThread records the conversation items to prepend when a follow-up
// request names id as previous_response_id. Only the newest depth items are
// kept.
func (s *Store) SetThread(id string, items []any) {
	if id == "" || items == nil {
		return
	}
	if len(items) > s.depth {
		items = items[len(items)-s.depth:]
	}
	trimmed := make([]any, len(items))
	copy(trimmed, items)

	s.mu.Lock()
	if _, ok := s.threads[id]; ok {
		s.threadOrder = remove(s.threadOrder, id)
	}
	s.threads[id] = trimmed
	s.threadOrder = append(s.threadOrder, id)
	for len(s.threadOrder) > s.max {
		oldest := s.threadOrder[0]
		s.threadOrder = s.threadOrder[1:]
		delete(s.threads, oldest)
	}
	s.mu.Unlock()
}

// Thread returns a copy of the stored thread items for id.
func (s *Store) Thread(id string) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.threads[id]
	if !ok {
		return nil, false
	}
	out := make([]any, len(items))
	copy(out, items)
	return out, true
}

// Len reports the number of responses currently held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
