package skillswap

import (
	"log/slog"
	"sync"
)

// ============================================================================
// Store
// ============================================================================

// Store holds one process-wide value. Readers get snapshots; the value only
// changes through Replace, which notifies every subscriber.
type Store[T any] interface {
	Get() T
	Replace(v T)
	// Subscribe registers fn to run after each Replace and returns a func
	// that removes it.
	Subscribe(fn func(T)) (unsubscribe func())
}

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore[T any] struct {
	mu     sync.RWMutex
	value  T
	nextID int
	subs   map[int]func(T)
	logger *slog.Logger
}

// NewMemoryStore creates a store holding initial.
func NewMemoryStore[T any](initial T) *MemoryStore[T] {
	return &MemoryStore[T]{
		value:  initial,
		subs:   make(map[int]func(T)),
		logger: discardLogger(),
	}
}

func (s *MemoryStore[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Replace swaps the value and then notifies subscribers outside the lock.
// A panicking subscriber is logged and does not stop the others.
func (s *MemoryStore[T]) Replace(v T) {
	s.mu.Lock()
	s.value = v
	handlers := make([]func(T), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("store subscriber panicked", "panic", r)
				}
			}()
			h(v)
		}()
	}
}

func (s *MemoryStore[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// setLogger is used by the coordinator to route subscriber panics to its log.
func (s *MemoryStore[T]) setLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
