package domain

import "time"

// Quote es el top of book de un símbolo.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	At     time.Time
}

// CrossesBook reports whether a post-only order at price would execute
// immediately instead of resting.
func (q Quote) CrossesBook(side Side, price float64) bool {
	switch side {
	case SideLong:
		return q.Ask > 0 && price >= q.Ask
	case SideShort:
		return q.Bid > 0 && price <= q.Bid
	}
	return false
}
