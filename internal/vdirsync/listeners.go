package vdirsync

import (
	"fmt"
	"sync"

	appLog "vdircal/internal/log"
)

// listenerSet holds callbacks of one payload type. Callbacks run
// synchronously in registration order; a panicking callback is logged and
// does not stop the others.
type listenerSet[T any] struct {
	kind string

	mu     sync.Mutex
	nextID uint64
	ids    []uint64
	fns    map[uint64]func(T)
}

func newListenerSet[T any](kind string) *listenerSet[T] {
	return &listenerSet[T]{
		kind: kind,
		fns:  make(map[uint64]func(T)),
	}
}

// add registers fn and returns a function that removes it.
func (s *listenerSet[T]) add(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.ids = append(s.ids, id)
	s.fns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.fns[id]; !ok {
			return
		}
		delete(s.fns, id)
		for i, v := range s.ids {
			if v == id {
				s.ids = append(s.ids[:i], s.ids[i+1:]...)
				break
			}
		}
	}
}

func (s *listenerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// notify calls every listener with v. The lock is not held while calling,
// so listeners may subscribe or unsubscribe.
func (s *listenerSet[T]) notify(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.ids))
	for _, id := range s.ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		call(s.kind, fn, v)
	}
}

func call[T any](kind string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("listener panic", fmt.Errorf("%v", r), "listener", kind)
		}
	}()
	fn(v)
}
