package domain

import "time"

// EventKind identifies what the controller just observed or did.
type EventKind string

const (
	EventCycleStarted     EventKind = "cycle_started"
	EventEntryPlaced      EventKind = "entry_placed"
	EventEntryChased      EventKind = "entry_chased"
	EventEntryWaiting     EventKind = "entry_waiting"
	EventPositionRead     EventKind = "position_read"
	EventBracketPlaced    EventKind = "bracket_placed"
	EventShortsCancelled  EventKind = "shorts_cancelled"
	EventShortsRebuilt    EventKind = "shorts_rebuilt"
	EventLadderRebuilt    EventKind = "ladder_rebuilt"
	EventOrderPlaced      EventKind = "order_placed"
	EventOrderCancelled   EventKind = "order_cancelled"
	EventAllCancelled     EventKind = "all_cancelled"
	EventPassFailed       EventKind = "pass_failed"
	EventBreakerTripped   EventKind = "breaker_tripped"
	EventCycleFlat        EventKind = "cycle_flat"
	EventControllerFailed EventKind = "controller_failed"
)

// Event is one structured observation emitted by the controller to its
// reporters.
type Event struct {
	Kind     EventKind
	State    CycleState
	CycleID  string
	At       time.Time
	Side     Side
	OrderID  string
	Price    float64
	Quantity int
	Position *Position
	LiqPrice float64 // computed by the risk math, 0 when unknown
	Count    int     // orders affected by a grouped action
	Detail   string
	Err      error
}
