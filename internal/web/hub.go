package web

import "sync"

// resourceHub fans a "something changed" signal out to every open stream.
type resourceHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newResourceHub() *resourceHub {
	return &resourceHub{subs: map[chan struct{}]struct{}{}}
}

func (h *resourceHub) subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

func (h *resourceHub) broadcast() {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *resourceHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
