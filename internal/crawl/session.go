package crawl

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Drop reasons for grid points that contributed no records.
const (
	DropNetwork = "network"
	DropStatus  = "status"
	DropParse   = "parse"
)

// Session is the transient aggregate for one sweep. A fresh Session is
// created per sweep; nothing carries over between iterations of the
// repeat loop.
type Session struct {
	ID        string
	StartedAt time.Time
	Total     int

	completed  atomic.Int64
	rawRecords atomic.Int64

	mu      sync.Mutex
	dropped map[string]int
}

// NewSession starts accounting for a sweep over total grid points.
func NewSession(total int) *Session {
	return &Session{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Total:     total,
		dropped:   make(map[string]int),
	}
}

// Complete records a grid point that finished with the given number of
// raw (pre-dedup) observations and returns the updated progress.
func (s *Session) Complete(records int) Progress {
	s.rawRecords.Add(int64(records))
	s.completed.Add(1)
	return s.progressAt(time.Now())
}

// Drop records a grid point that contributed nothing, tagged with why.
// Dropped points still count toward completion: the drain barrier is
// over terminal states, not successes.
func (s *Session) Drop(reason string) Progress {
	s.mu.Lock()
	s.dropped[reason]++
	s.mu.Unlock()
	s.completed.Add(1)
	return s.progressAt(time.Now())
}

// DropCounts returns a copy of the per-reason drop tallies.
func (s *Session) DropCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.dropped))
	for k, v := range s.dropped {
		out[k] = v
	}
	return out
}

// Progress reports the current state of the sweep.
func (s *Session) Progress() Progress {
	return s.progressAt(time.Now())
}

// Progress is a point-in-time snapshot of sweep completion.
type Progress struct {
	Completed        int64
	Total            int
	RawRecords       int64
	Percent          float64
	RecordsPerMinute float64
	Elapsed          time.Duration
	EstimatedTotal   time.Duration
	Remaining        time.Duration
}

func (s *Session) progressAt(now time.Time) Progress {
	p := Progress{
		Completed:  s.completed.Load(),
		Total:      s.Total,
		RawRecords: s.rawRecords.Load(),
		Elapsed:    now.Sub(s.StartedAt),
	}
	if s.Total > 0 {
		p.Percent = float64(p.Completed) / float64(s.Total) * 100
	}
	if p.Elapsed > 0 {
		p.RecordsPerMinute = float64(p.RawRecords) / p.Elapsed.Minutes()
	}
	if p.Completed > 0 {
		p.EstimatedTotal = time.Duration(float64(p.Elapsed) * float64(s.Total) / float64(p.Completed))
		p.Remaining = p.EstimatedTotal - p.Elapsed
	}
	return p
}
