package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// PriceSource provides the market the simulation fills against.
type PriceSource interface {
	Ticker(ctx context.Context) (domain.Quote, error)
}

// Fill is one simulated execution.
type Fill struct {
	OrderID  string
	Side     domain.Side
	Price    float64
	Quantity int
	At       time.Time
}

// Exchange simula el contrato inverso contra precios reales: las órdenes
// post-only descansan hasta que el mercado las cruza.
type Exchange struct {
	prices PriceSource

	mu       sync.Mutex
	orders   map[string]domain.Order
	quantity int
	// value is Σ qty/price of the open contracts; the inverse contract
	// average entry is quantity/value.
	value   float64
	balance float64
	fills   []Fill
	now     func() time.Time
}

// New creates a simulated exchange. balance (in coin) is reported as the
// wallet balance of the simulated position.
func New(prices PriceSource, balance float64) *Exchange {
	return &Exchange{
		prices:  prices,
		orders:  make(map[string]domain.Order),
		balance: balance,
		now:     time.Now,
	}
}

// quote reads the market and settles every resting order it crosses.
func (e *Exchange) quote(ctx context.Context) (domain.Quote, error) {
	q, err := e.prices.Ticker(ctx)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("paper.quote: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle(q)
	return q, nil
}

// settle fills longs when the ask trades down to them and shorts when the
// bid trades up to them. Caller holds mu.
func (e *Exchange) settle(q domain.Quote) {
	ids := make([]string, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := e.orders[id]
		switch {
		case o.Side == domain.SideLong && q.Ask > 0 && q.Ask <= o.Price:
			e.quantity += o.Quantity
			e.value += float64(o.Quantity) / o.Price
		case o.Side == domain.SideShort && q.Bid >= o.Price:
			closed := min(o.Quantity, e.quantity)
			if e.quantity > 0 {
				e.value -= e.value * float64(closed) / float64(e.quantity)
			}
			e.quantity -= closed
			if e.quantity == 0 {
				e.value = 0
			}
		default:
			continue
		}

		delete(e.orders, id)
		fill := Fill{OrderID: id, Side: o.Side, Price: o.Price, Quantity: o.Quantity, At: e.now()}
		e.fills = append(e.fills, fill)
		slog.Info("paper: order filled",
			"side", o.Side, "price", o.Price, "quantity", o.Quantity, "position", e.quantity)
	}
}

func (e *Exchange) Bid(ctx context.Context) (float64, error) {
	q, err := e.quote(ctx)
	return q.Bid, err
}

func (e *Exchange) Ask(ctx context.Context) (float64, error) {
	q, err := e.quote(ctx)
	return q.Ask, err
}

func (e *Exchange) Position(ctx context.Context) (domain.Position, error) {
	if _, err := e.quote(ctx); err != nil {
		return domain.Position{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.quantity == 0 {
		return domain.Position{}, domain.ErrNotInCycle
	}

	realEntry := float64(e.quantity) / e.value
	return domain.Position{
		EntryPrice:     domain.QuantizePrice(realEntry),
		RealEntryPrice: realEntry,
		Quantity:       e.quantity,
		WalletBalance:  e.balance,
	}, nil
}

func (e *Exchange) Orders(ctx context.Context) (domain.OrderBook, error) {
	if _, err := e.quote(ctx); err != nil {
		return domain.OrderBook{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	orders := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		orders = append(orders, o)
	}
	return domain.MergeFeedback(domain.NewOrderBook(), orders), nil
}

func (e *Exchange) Long(ctx context.Context, price float64, qty int) (domain.Order, error) {
	return e.place(ctx, domain.SideLong, price, qty)
}

func (e *Exchange) Short(ctx context.Context, price float64, qty int) (domain.Order, error) {
	return e.place(ctx, domain.SideShort, price, qty)
}

// place rests a post-only order; one that would cross the book is rejected.
func (e *Exchange) place(ctx context.Context, side domain.Side, price float64, qty int) (domain.Order, error) {
	if qty <= 0 || price <= 0 {
		return domain.Order{}, &domain.OrderError{Op: "create", Reason: fmt.Sprintf("invalid order %d@%.1f", qty, price)}
	}

	q, err := e.quote(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if q.CrossesBook(side, price) {
		return domain.Order{}, &domain.OrderError{
			Op:     "create",
			Reason: fmt.Sprintf("post only %s at %.1f would cross (bid %.1f ask %.1f)", side, price, q.Bid, q.Ask),
		}
	}

	o := domain.Order{
		ID:       uuid.New().String(),
		Side:     side,
		Price:    price,
		Quantity: qty,
		Status:   domain.StatusNew,
	}

	e.mu.Lock()
	e.orders[o.ID] = o
	e.mu.Unlock()

	slog.Debug("paper: order placed", "side", side, "price", price, "quantity", qty, "id", o.ID)
	return o, nil
}

func (e *Exchange) Cancel(_ context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[orderID]; !ok {
		return &domain.OrderError{Op: "cancel", OrderID: orderID, Reason: "order not found"}
	}
	delete(e.orders, orderID)
	return nil
}

func (e *Exchange) CancelAll(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.orders)
	return nil
}

// Fills returns the simulated executions so far.
func (e *Exchange) Fills() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Fill(nil), e.fills...)
}
