package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

type call struct {
	op    string
	side  domain.Side
	price float64
	qty   int
	id    string
}

type positionResult struct {
	pos domain.Position
	err error
}

// fakeExchange keeps its own book so passes observe the orders they placed.
type fakeExchange struct {
	positions []positionResult
	posCalls  int
	// fillAt removes resting orders when the n-th (0-based) position read
	// happens, as if they had been filled.
	fillAt    map[int][]string
	bids      []float64
	bidCalls  int

	book      domain.OrderBook
	ordersErr error
	longErr   error
	shortErr  error

	calls  []call
	nextID int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{book: domain.NewOrderBook()}
}

func (f *fakeExchange) withPosition(results ...positionResult) *fakeExchange {
	f.positions = results
	return f
}

func open(entry float64, qty int) positionResult {
	return positionResult{pos: domain.Position{EntryPrice: entry, RealEntryPrice: entry, Quantity: qty}}
}

var notInCycle = positionResult{err: domain.ErrNotInCycle}

func (f *fakeExchange) Bid(_ context.Context) (float64, error) {
	if len(f.bids) == 0 {
		return 0, errors.New("no bid")
	}
	i := min(f.bidCalls, len(f.bids)-1)
	f.bidCalls++
	return f.bids[i], nil
}

func (f *fakeExchange) Ask(ctx context.Context) (float64, error) {
	bid, err := f.Bid(ctx)
	return bid + domain.TickSize, err
}

func (f *fakeExchange) Position(_ context.Context) (domain.Position, error) {
	if len(f.positions) == 0 {
		return domain.Position{}, domain.ErrNotInCycle
	}
	r := f.positions[min(f.posCalls, len(f.positions)-1)]
	for _, id := range f.fillAt[f.posCalls] {
		delete(f.book.Longs, id)
		delete(f.book.Shorts, id)
	}
	f.posCalls++
	return r.pos, r.err
}

func (f *fakeExchange) Orders(_ context.Context) (domain.OrderBook, error) {
	if f.ordersErr != nil {
		return domain.OrderBook{}, f.ordersErr
	}
	return domain.MergeFeedback(f.book, nil), nil
}

func (f *fakeExchange) Long(ctx context.Context, price float64, qty int) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return f.place(domain.SideLong, price, qty, f.longErr)
}

func (f *fakeExchange) Short(ctx context.Context, price float64, qty int) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return f.place(domain.SideShort, price, qty, f.shortErr)
}

func (f *fakeExchange) place(side domain.Side, price float64, qty int, fail error) (domain.Order, error) {
	f.calls = append(f.calls, call{op: "place", side: side, price: price, qty: qty})
	if fail != nil {
		return domain.Order{}, fail
	}
	f.nextID++
	o := domain.Order{ID: fmt.Sprintf("o%d", f.nextID), Side: side, Price: price, Quantity: qty, Status: domain.StatusNew}
	f.calls[len(f.calls)-1].id = o.ID
	f.book = domain.MergeFeedback(f.book, []domain.Order{o})
	return o, nil
}

func (f *fakeExchange) seed(orders ...domain.Order) {
	for i := range orders {
		orders[i].Status = domain.StatusNew
	}
	f.book = domain.MergeFeedback(f.book, orders)
}

func (f *fakeExchange) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.calls = append(f.calls, call{op: "cancel", id: id})
	var gone []domain.Order
	if o, ok := f.book.Longs[id]; ok {
		o.Status = domain.StatusCancelled
		gone = append(gone, o)
	}
	if o, ok := f.book.Shorts[id]; ok {
		o.Status = domain.StatusCancelled
		gone = append(gone, o)
	}
	f.book = domain.MergeFeedback(f.book, gone)
	return nil
}

func (f *fakeExchange) CancelAll(_ context.Context) error {
	f.calls = append(f.calls, call{op: "cancel_all"})
	f.book = domain.NewOrderBook()
	return nil
}

func (f *fakeExchange) ops(op string) []call {
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type recordingReporter struct {
	events []domain.Event
	// onReport runs after each event is recorded.
	onReport func(domain.Event)
}

func (r *recordingReporter) Report(_ context.Context, ev domain.Event) {
	r.events = append(r.events, ev)
	if r.onReport != nil {
		r.onReport(ev)
	}
}

func (r *recordingReporter) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recordingReporter) count(kind domain.EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
