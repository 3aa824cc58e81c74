package engine

import (
	"sync"
	"time"
)

// Stats accumulates engine usage counters.
type Stats struct {
	mu        sync.Mutex
	startedAt time.Time

	total    int64
	commands int64
	natural  int64

	completed     int64
	lowConfidence int64
	failed        int64
	cacheHits     int64
}

// NewStats creates a stats collector with the clock started now.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

func (s *Stats) recordCommand() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.commands++
}

func (s *Stats) recordNatural() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.natural++
}

func (s *Stats) recordOutcome(state TurnState, cached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case StateCompleted:
		s.completed++
	case StateLowConfidence:
		s.lowConfidence++
	case StateFailed:
		s.failed++
	}
	if cached {
		s.cacheHits++
	}
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TotalTurns    int64   `json:"total_turns"`
	CommandTurns  int64   `json:"command_turns"`
	NaturalTurns  int64   `json:"natural_turns"`
	Completed     int64   `json:"completed"`
	LowConfidence int64   `json:"low_confidence"`
	Failed        int64   `json:"failed"`
	CacheHits     int64   `json:"cache_hits"`
	SuccessRate   float64 `json:"success_rate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalTurns:    s.total,
		CommandTurns:  s.commands,
		NaturalTurns:  s.natural,
		Completed:     s.completed,
		LowConfidence: s.lowConfidence,
		Failed:        s.failed,
		CacheHits:     s.cacheHits,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.completed) / float64(s.total)
	}
	return snap
}
