package wa

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type subscriber[T any] struct {
	id int
	fn func(T)
}

// emitter is a minimal typed fan-out list. Listeners fire in subscription
// order. Subscribe returns a disposer; a panicking listener never prevents
// delivery to the remaining listeners.
type emitter[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber[T]
}

func newEmitter[T any]() *emitter[T] {
	return &emitter[T]{}
}

func (e *emitter[T]) subscribe(fn func(T)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscriber[T]{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		for i, sub := range e.subs {
			if sub.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
	}
}

func (e *emitter[T]) emit(value T) {
	e.mu.RLock()
	listeners := make([]func(T), len(e.subs))
	for i, sub := range e.subs {
		listeners[i] = sub.fn
	}
	e.mu.RUnlock()

	for _, fn := range listeners {
		dispatch(fn, value)
	}
}

func dispatch[T any](fn func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("listener panicked")
		}
	}()
	fn(value)
}
