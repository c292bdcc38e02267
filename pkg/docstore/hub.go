// ABOUTME: In-process fan-out of record changes to watchers
// ABOUTME: Slow watchers lose intermediate snapshots but always see the latest

package docstore

import (
	"context"
	"sync"
)

// watchBuffer bounds the snapshots queued per watcher
const watchBuffer = 16

type watcher struct {
	ch chan Snapshot
}

// hub fans out snapshots to watchers of a key
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*watcher]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*watcher]struct{})}
}

// subscribe registers a watcher primed with initial. The caller must hold
// whatever lock orders initial against concurrent publishes for the key.
func (h *hub) subscribe(ctx context.Context, initial Snapshot) (<-chan Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	w := &watcher{ch: make(chan Snapshot, watchBuffer)}
	w.ch <- initial

	set, ok := h.subs[initial.Key]
	if !ok {
		set = make(map[*watcher]struct{})
		h.subs[initial.Key] = set
	}
	set[w] = struct{}{}

	go func() {
		<-ctx.Done()
		h.remove(initial.Key, w)
	}()

	return w.ch, nil
}

func (h *hub) remove(key string, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[key]
	if !ok {
		return
	}
	if _, ok := set[w]; !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(h.subs, key)
	}
	close(w.ch)
}

// publish delivers s to every watcher of s.Key
func (h *hub) publish(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for w := range h.subs[s.Key] {
		select {
		case w.ch <- s:
		default:
			// Drop the oldest queued snapshot so the newest always lands
			select {
			case <-w.ch:
			default:
			}
			select {
			case w.ch <- s:
			default:
			}
		}
	}
}

// close ends every watch
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for key, set := range h.subs {
		for w := range set {
			close(w.ch)
		}
		delete(h.subs, key)
	}
}

// count returns the number of live watchers
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
