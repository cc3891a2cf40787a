package wa

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitter(t *testing.T) {
	t.Run("delivers to every subscriber", func(t *testing.T) {
		e := newEmitter[int]()

		var a, b []int
		e.subscribe(func(v int) { a = append(a, v) })
		e.subscribe(func(v int) { b = append(b, v) })

		e.emit(1)
		e.emit(2)

		assert.Equal(t, []int{1, 2}, a)
		assert.Equal(t, []int{1, 2}, b)
	})

	t.Run("delivers in subscription order", func(t *testing.T) {
		e := newEmitter[int]()

		var order []string
		e.subscribe(func(int) { order = append(order, "first") })
		e.subscribe(func(int) { order = append(order, "second") })
		e.subscribe(func(int) { order = append(order, "third") })

		e.emit(1)
		e.emit(2)

		assert.Equal(t, []string{"first", "second", "third", "first", "second", "third"}, order)
	})

	t.Run("order survives disposal of an earlier listener", func(t *testing.T) {
		e := newEmitter[int]()

		var order []string
		dispose := e.subscribe(func(int) { order = append(order, "first") })
		e.subscribe(func(int) { order = append(order, "second") })
		e.subscribe(func(int) { order = append(order, "third") })

		dispose()
		e.emit(1)

		assert.Equal(t, []string{"second", "third"}, order)
	})

	t.Run("disposer stops delivery", func(t *testing.T) {
		e := newEmitter[int]()

		var got []int
		dispose := e.subscribe(func(v int) { got = append(got, v) })

		e.emit(1)
		dispose()
		e.emit(2)

		assert.Equal(t, []int{1}, got)
	})

	t.Run("disposer is idempotent", func(t *testing.T) {
		e := newEmitter[int]()

		var got []int
		dispose := e.subscribe(func(v int) { got = append(got, v) })
		keep := e.subscribe(func(v int) { got = append(got, v*10) })
		_ = keep

		dispose()
		dispose()
		e.emit(1)

		assert.Equal(t, []int{10}, got)
	})

	t.Run("panicking listener does not block the rest", func(t *testing.T) {
		e := newEmitter[int]()

		var got []int
		e.subscribe(func(v int) { panic("boom") })
		e.subscribe(func(v int) { got = append(got, v) })

		assert.NotPanics(t, func() { e.emit(7) })
		assert.Equal(t, []int{7}, got)
	})

	t.Run("concurrent subscribe and emit is safe", func(t *testing.T) {
		e := newEmitter[int]()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				dispose := e.subscribe(func(int) {})
				dispose()
			}()
			go func() {
				defer wg.Done()
				e.emit(1)
			}()
		}
		wg.Wait()
	})
}
