// Package channel maintains locally-observable mirrors of backend-owned
// records delivered over a push source. Every delivery fully replaces the
// prior snapshot; consumers read synchronously and are notified after each
// publish.
package channel

import "sync"

// Store holds one immutable snapshot value and a set of change listeners.
// Publish replaces the value by reference and invokes every currently
// registered listener synchronously before returning, in arbitrary order.
type Store[S any] struct {
	mu        sync.Mutex
	snapshot  S
	listeners map[int]func()
	nextID    int
}

func NewStore[S any](initial S) *Store[S] {
	return &Store[S]{
		snapshot:  initial,
		listeners: map[int]func(){},
	}
}

// Snapshot returns the latest published value.
func (s *Store[S]) Snapshot() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers a zero-argument callback invoked after every publish.
// The returned function removes it and is safe to call multiple times.
func (s *Store[S]) Subscribe(listener func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Publish replaces the held snapshot and notifies all listeners before
// returning. Listeners may read the store but must not subscribe or
// unsubscribe other listeners reentrantly while being notified.
func (s *Store[S]) Publish(snapshot S) {
	s.mu.Lock()
	s.snapshot = snapshot
	notify := make([]func(), 0, len(s.listeners))
	for _, listener := range s.listeners {
		notify = append(notify, listener)
	}
	s.mu.Unlock()

	for _, listener := range notify {
		listener()
	}
}
