package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Run("handlers keep registration order", func(t *testing.T) {
		r := newRegistry()
		var order []int
		r.add(EventUserStats, func(Event) { order = append(order, 1) })
		r.add(EventUserStats, func(Event) { order = append(order, 2) })

		for _, h := range r.handlers(EventUserStats) {
			h(UserStats{})
		}

		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("same func registered twice is removed once", func(t *testing.T) {
		r := newRegistry()
		h := func(Event) {}
		remove := r.add(EventClickUpdate, h)
		r.add(EventClickUpdate, h)

		remove()
		remove()

		assert.Equal(t, 1, r.count(EventClickUpdate))
	})

	t.Run("removing during dispatch does not affect the snapshot", func(t *testing.T) {
		r := newRegistry()
		var calls int
		var removeSecond func()
		r.add(EventURLDeleted, func(Event) {
			calls++
			removeSecond()
		})
		removeSecond = r.add(EventURLDeleted, func(Event) { calls++ })

		for _, h := range r.handlers(EventURLDeleted) {
			h(RecordDeleted{})
		}

		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, r.count(EventURLDeleted))
	})

	t.Run("clear", func(t *testing.T) {
		r := newRegistry()
		r.add(EventURLCreated, func(Event) {})
		r.add(EventUserStats, func(Event) {})

		r.clear()

		assert.Empty(t, r.handlers(EventURLCreated))
		assert.Zero(t, r.count(EventUserStats))
	})
}
