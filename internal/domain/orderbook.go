package domain

import (
	"fmt"
	"sort"
)

// OrderBook is the consolidated view of our own live orders, keyed by ID.
type OrderBook struct {
	Longs  map[string]Order
	Shorts map[string]Order
}

// NewOrderBook returns an empty book.
func NewOrderBook() OrderBook {
	return OrderBook{Longs: map[string]Order{}, Shorts: map[string]Order{}}
}

// MergeFeedback upserts orders by ID into the side they belong to, then keeps
// only live orders. The input book is left untouched, so applying the same
// batch twice yields the same book.
func MergeFeedback(book OrderBook, orders []Order) OrderBook {
	out := OrderBook{
		Longs:  make(map[string]Order, len(book.Longs)+len(orders)),
		Shorts: make(map[string]Order, len(book.Shorts)),
	}
	for id, o := range book.Longs {
		out.Longs[id] = o
	}
	for id, o := range book.Shorts {
		out.Shorts[id] = o
	}

	for _, o := range orders {
		switch o.Side {
		case SideLong:
			delete(out.Shorts, o.ID)
			out.Longs[o.ID] = o
		case SideShort:
			delete(out.Longs, o.ID)
			out.Shorts[o.ID] = o
		}
	}

	for id, o := range out.Longs {
		if !o.Status.Live() {
			delete(out.Longs, id)
		}
	}
	for id, o := range out.Shorts {
		if !o.Status.Live() {
			delete(out.Shorts, id)
		}
	}
	return out
}

// SortedLongs devuelve los longs ordenados por cantidad ascendente.
func (b OrderBook) SortedLongs() []Order { return sortByQuantity(b.Longs) }

// SortedShorts devuelve los shorts ordenados por cantidad ascendente.
func (b OrderBook) SortedShorts() []Order { return sortByQuantity(b.Shorts) }

// HeadLongs returns the long order with the smallest quantity.
// Callers check the book is non-empty first; an empty side is a contract
// violation reported as ErrEmptyLadder.
func (b OrderBook) HeadLongs() (Order, error) {
	longs := b.SortedLongs()
	if len(longs) == 0 {
		return Order{}, fmt.Errorf("domain.HeadLongs: %w", ErrEmptyLadder)
	}
	return longs[0], nil
}

// ShortsQuantity is the aggregate short exposure resting on the book.
func (b OrderBook) ShortsQuantity() int { return sumQuantity(b.Shorts) }

// LongsQuantity is the aggregate size of the long ladder.
func (b OrderBook) LongsQuantity() int { return sumQuantity(b.Longs) }

// Len is the number of live orders on both sides.
func (b OrderBook) Len() int { return len(b.Longs) + len(b.Shorts) }

func sumQuantity(orders map[string]Order) int {
	total := 0
	for _, o := range orders {
		total += o.Quantity
	}
	return total
}

// sortByQuantity orders ascending by quantity; ties go to the higher price,
// then to the ID, so iteration order is stable between passes.
func sortByQuantity(orders map[string]Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity < out[j].Quantity
		}
		if out[i].Price != out[j].Price {
			return out[i].Price > out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out
}
