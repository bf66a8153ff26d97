package rtc

import (
	"sync"
	"time"
)

// minBitrateWindow is the shortest interval a new reading is computed over.
// Calls in between return the previous reading.
const minBitrateWindow = time.Second

// bitrateMeter turns a growing byte counter into bits per second.
type bitrateMeter struct {
	mu    sync.Mutex
	bytes uint64
	at    time.Time
	bps   uint64
}

func (m *bitrateMeter) update(total uint64, now time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.at.IsZero() || total < m.bytes:
		// first sample, or the counters restarted with a new stream
		m.bytes, m.at, m.bps = total, now, 0
	case now.Sub(m.at) >= minBitrateWindow:
		elapsed := now.Sub(m.at)
		m.bps = uint64(float64(total-m.bytes) * 8 / elapsed.Seconds())
		m.bytes, m.at = total, now
	}
	return m.bps
}
