package domain

import "time"

// JournalEntry is an Event as persisted by the journal.
type JournalEntry struct {
	ID       int64
	Kind     EventKind
	State    CycleState
	CycleID  string
	Side     Side
	OrderID  string
	Price    float64
	Quantity int
	Detail   string
	Error    string
	At       time.Time
}

// CycleSummary is one entry→flat cycle as recorded by the journal.
type CycleSummary struct {
	ID          string
	StartedAt   time.Time
	EndedAt     *time.Time
	EntryPrice  float64
	MaxQuantity int
}

// Duration returns how long the cycle lasted (until now if still open).
func (c CycleSummary) Duration(now time.Time) time.Duration {
	if c.EndedAt != nil {
		return c.EndedAt.Sub(c.StartedAt)
	}
	return now.Sub(c.StartedAt)
}

// JournalStats aggregates the audit trail.
type JournalStats struct {
	CyclesStarted   int
	CyclesCompleted int
	OrdersPlaced    int
	OrdersCancelled int
	FailedPasses    int
	BreakerTrips    int
	MaxQuantity     int
	LastEventAt     *time.Time
	Cycles          []CycleSummary
}
