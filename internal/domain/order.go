package domain

// Side is the direction of a resting order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderStatus is the lifecycle of an order as reported by the venue.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "Created"
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
	StatusPendingCancel   OrderStatus = "PendingCancel"
)

// Live reports whether the order rests on the book unfilled.
func (s OrderStatus) Live() bool { return s == StatusNew }

// Dead reports whether the order left the book without (further) fills.
func (s OrderStatus) Dead() bool { return s == StatusCancelled || s == StatusRejected }

// Order is a snapshot of one order. Later feedback with the same ID
// supersedes it; it is never mutated.
type Order struct {
	ID       string
	LinkID   string // client-side identifier, empty when the venue did not echo it
	Side     Side
	Price    float64
	Quantity int
	Status   OrderStatus
}

// Position is the open long exposure of the strategy.
// A zero size is never a Position: the exchange returns ErrNotInCycle.
type Position struct {
	EntryPrice     float64 // quantized to the tick
	RealEntryPrice float64
	Quantity       int

	// Margin snapshot, zero when the venue does not report it.
	WalletBalance float64
	OrderMargin   float64
	OccClosingFee float64
	LiqPrice      float64

	RateLimit RateLimit
}

// RateLimit is the venue's request budget reported with a response.
type RateLimit struct {
	Status  int
	Limit   int
	ResetAt string // ConvertEpoch of the reset time
}

// HasMargin reports whether the margin snapshot can feed the risk math.
func (p Position) HasMargin() bool {
	return p.WalletBalance > 0
}
