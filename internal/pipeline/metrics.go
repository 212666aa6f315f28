package pipeline

import "sync/atomic"

// Metrics counts terminal pipeline outcomes. Dropped and Poisoned are the
// only places overwrite evictions and undecodable strands become visible.
type Metrics struct {
	Submitted     atomic.Uint64
	Invalid       atomic.Uint64
	Overloaded    atomic.Uint64
	Committed     atomic.Uint64
	CommitFailed  atomic.Uint64
	Poisoned      atomic.Uint64
	Dropped       atomic.Uint64
	CommitRetries atomic.Uint64
}

type MetricsSnapshot struct {
	Submitted     uint64
	Invalid       uint64
	Overloaded    uint64
	Committed     uint64
	CommitFailed  uint64
	Poisoned      uint64
	Dropped       uint64
	CommitRetries uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submitted:     m.Submitted.Load(),
		Invalid:       m.Invalid.Load(),
		Overloaded:    m.Overloaded.Load(),
		Committed:     m.Committed.Load(),
		CommitFailed:  m.CommitFailed.Load(),
		Poisoned:      m.Poisoned.Load(),
		Dropped:       m.Dropped.Load(),
		CommitRetries: m.CommitRetries.Load(),
	}
}
