package notify

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_ExactKeyAndWildcard(t *testing.T) {
	h := NewHub()
	var got []string
	h.Listen("item", []string{"a"}, func(ns, key string) { got = append(got, "exact:"+key) })
	h.Listen("item", []string{Wildcard}, func(ns, key string) { got = append(got, "any:"+key) })
	h.Listen("parent", []string{"a"}, func(ns, key string) { got = append(got, "parent:"+key) })

	h.Trigger("item", "a")
	h.Trigger("item", "b")

	sort.Strings(got)
	assert.Equal(t, []string{"any:a", "any:b", "exact:a"}, got)
}

func TestListen_MultipleKeysSingleUnsubscribe(t *testing.T) {
	h := NewHub()
	calls := 0
	unsub := h.Listen("item", []string{"a", "b"}, func(string, string) { calls++ })
	require.Equal(t, 2, h.Len("item"))

	h.Trigger("item", "a")
	h.Trigger("item", "b")
	unsub()
	unsub()
	h.Trigger("item", "a")

	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, h.Len("item"))
}

func TestTrigger_UnsubscribeDuringDeliveryUsesSnapshot(t *testing.T) {
	h := NewHub()
	var order []string
	var unsubA func()
	unsubA = h.Listen("item", []string{"x"}, func(string, string) {
		order = append(order, "a")
		unsubA()
	})
	h.Listen("item", []string{"x"}, func(string, string) { order = append(order, "b") })

	h.Trigger("item", "x")
	assert.ElementsMatch(t, []string{"a", "b"}, order)

	order = nil
	h.Trigger("item", "x")
	assert.Equal(t, []string{"b"}, order)
}

func TestTrigger_ReentrantTriggerDoesNotDeadlock(t *testing.T) {
	h := NewHub()
	depth := 0
	h.Listen("item", []string{"x"}, func(string, string) {
		depth++
		if depth < 3 {
			h.Trigger("item", "x")
		}
	})
	h.Trigger("item", "x")
	assert.Equal(t, 3, depth)
}

func TestHubsAreIndependent(t *testing.T) {
	a, b := NewHub(), NewHub()
	fired := false
	a.Listen("item", []string{"x"}, func(string, string) { fired = true })
	b.Trigger("item", "x")
	assert.False(t, fired)

	a.Close()
	a.Trigger("item", "x")
	assert.False(t, fired)
}

func TestNilHubIsInert(t *testing.T) {
	var h *Hub
	unsub := h.Listen("item", []string{"x"}, func(string, string) {})
	unsub()
	h.Trigger("item", "x")
	assert.Equal(t, 0, h.Len("item"))
}
