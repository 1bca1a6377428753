package services

import "sync"

// observerSet is an insertion-ordered set of observer handles. Delivery
// passes iterate over Snapshot so concurrent Add/Remove never invalidates
// an in-flight pass.
type observerSet[T comparable] struct {
	mu    sync.RWMutex
	items []T
}

func newObserverSet[T comparable]() *observerSet[T] {
	return &observerSet[T]{}
}

// Add reports whether the observer was newly inserted.
func (s *observerSet[T]) Add(observer T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing == observer {
			return false
		}
	}
	s.items = append(s.items, observer)
	return true
}

// Remove reports whether the observer was present.
func (s *observerSet[T]) Remove(observer T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.items {
		if existing == observer {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *observerSet[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func (s *observerSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
