package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/domain"
)

// handleTable routes inbound events to attached handles.
type handleTable struct {
	mu      sync.RWMutex
	handles map[domain.HandleID]*Handle
}

func newHandleTable() *handleTable {
	return &handleTable{handles: make(map[domain.HandleID]*Handle)}
}

func (t *handleTable) add(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[h.id] = h
	log.Info().Str("module", "app.session").Uint64("handle", uint64(h.id)).Str("plugin", h.plugin.Name).Msg("handle attached")
}

func (t *handleTable) get(id domain.HandleID) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[id]
	return h, ok
}

func (t *handleTable) remove(id domain.HandleID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handles[id]; !ok {
		return false
	}
	delete(t.handles, id)
	log.Info().Str("module", "app.session").Uint64("handle", uint64(id)).Msg("handle removed")
	return true
}

func (t *handleTable) list() []*Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	return out
}

// drain empties the table and returns what it held.
func (t *handleTable) drain() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Handle, 0, len(t.handles))
	for id, h := range t.handles {
		out = append(out, h)
		delete(t.handles, id)
	}
	return out
}

func (t *handleTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}
