// Package notify is a namespace-keyed listener registry. Observers subscribe to
// exact keys or to the wildcard key; the outline engine triggers keys without
// knowing who listens.
package notify

import "sync"

// Wildcard receives every trigger in its namespace.
const Wildcard = "*"

// Callback receives the namespace and key that fired.
type Callback func(namespace, key string)

type listener struct {
	id int
	cb Callback
}

// Hub owns one listener registry. Create one per engine; hubs never share state.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[string][]listener
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[string][]listener{}}
}

// Listen registers cb for each key in namespace and returns a function that
// removes every registration it made. Calling the returned function twice is safe.
func (h *Hub) Listen(namespace string, keys []string, cb Callback) (unsubscribe func()) {
	if h == nil || cb == nil || len(keys) == 0 {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	byKey := h.subs[namespace]
	if byKey == nil {
		byKey = map[string][]listener{}
		h.subs[namespace] = byKey
	}
	for _, k := range keys {
		byKey[k] = append(byKey[k], listener{id: id, cb: cb})
	}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(namespace, keys, id) })
	}
}

func (h *Hub) remove(namespace string, keys []string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byKey := h.subs[namespace]
	if byKey == nil {
		return
	}
	for _, k := range keys {
		ls := byKey[k]
		out := ls[:0:0]
		for _, l := range ls {
			if l.id != id {
				out = append(out, l)
			}
		}
		if len(out) == 0 {
			delete(byKey, k)
		} else {
			byKey[k] = out
		}
	}
	if len(byKey) == 0 {
		delete(h.subs, namespace)
	}
}

// Trigger invokes listeners for key and for Wildcard. Callbacks run on the
// caller's goroutine over a snapshot taken before the first call, so a callback
// may subscribe, unsubscribe or trigger again without affecting this pass.
func (h *Hub) Trigger(namespace, key string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	byKey := h.subs[namespace]
	var snapshot []listener
	if byKey != nil {
		snapshot = append(snapshot, byKey[key]...)
		if key != Wildcard {
			snapshot = append(snapshot, byKey[Wildcard]...)
		}
	}
	h.mu.Unlock()

	for _, l := range snapshot {
		l.cb(namespace, key)
	}
}

// Len returns the number of registrations in namespace (all keys).
func (h *Hub) Len(namespace string) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ls := range h.subs[namespace] {
		n += len(ls)
	}
	return n
}

// Close drops every registration.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.subs = map[string]map[string][]listener{}
	h.mu.Unlock()
}
