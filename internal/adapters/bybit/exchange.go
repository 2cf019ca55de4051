package bybit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

const (
	// Name is the exchange name accepted on the command line.
	Name = "bybit"

	defaultAckTimeout = 5 * time.Second
	// feedWindow bounds which feed updates are folded over a REST snapshot.
	feedWindow = 30 * time.Second
)

// Config wires the REST client and the order feed.
type Config struct {
	Client     ClientConfig
	StreamURL  string
	AckTimeout time.Duration
	// DisableStream skips the order feed; placements then trust the REST
	// acknowledgement.
	DisableStream bool
}

// Exchange implements ports.Exchange on the Bybit inverse perpetual.
type Exchange struct {
	client     *Client
	stream     *Stream
	ackTimeout time.Duration
}

// New builds the exchange and starts its order feed.
func New(ctx context.Context, cfg Config) *Exchange {
	client := NewClient(cfg.Client)

	var stream *Stream
	if !cfg.DisableStream {
		url := cfg.StreamURL
		if url == "" && cfg.Client.Testnet {
			url = TestnetStreamURL
		}
		stream = NewStream(url, cfg.Client.APIKey, cfg.Client.APISecret)
		stream.Start(ctx)
	}
	slog.Info("bybit: exchange ready", "symbol", client.Symbol(), "stream", stream != nil)
	return NewExchange(client, stream, cfg.AckTimeout)
}

// NewExchange assembles an exchange from its parts. stream may be nil.
func NewExchange(client *Client, stream *Stream, ackTimeout time.Duration) *Exchange {
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &Exchange{client: client, stream: stream, ackTimeout: ackTimeout}
}

// Client exposes the REST client (public ticker for the paper exchange).
func (e *Exchange) Client() *Client { return e.client }

// Close stops the order feed.
func (e *Exchange) Close() {
	if e.stream != nil {
		e.stream.Stop()
	}
}

func (e *Exchange) Bid(ctx context.Context) (float64, error) {
	q, err := e.client.Ticker(ctx)
	if err != nil {
		return 0, err
	}
	return q.Bid, nil
}

func (e *Exchange) Ask(ctx context.Context) (float64, error) {
	q, err := e.client.Ticker(ctx)
	if err != nil {
		return 0, err
	}
	return q.Ask, nil
}

func (e *Exchange) Position(ctx context.Context) (domain.Position, error) {
	return e.client.Position(ctx)
}

// Orders returns the REST snapshot of New orders with the recent feed
// updates folded over it, so fills and placements the snapshot has not
// caught up with yet are accounted for.
func (e *Exchange) Orders(ctx context.Context) (domain.OrderBook, error) {
	orders, err := e.client.OpenOrders(ctx)
	if err != nil {
		return domain.OrderBook{}, err
	}
	book := domain.MergeFeedback(domain.NewOrderBook(), orders)
	if e.stream != nil {
		book = domain.MergeFeedback(book, e.stream.Recent(feedWindow))
	}
	return book, nil
}

func (e *Exchange) Long(ctx context.Context, price float64, qty int) (domain.Order, error) {
	return e.place(ctx, domain.SideLong, price, qty)
}

func (e *Exchange) Short(ctx context.Context, price float64, qty int) (domain.Order, error) {
	return e.place(ctx, domain.SideShort, price, qty)
}

// place submits a post-only order and waits for the feed to acknowledge it.
// A post-only order that would cross comes back Cancelled from the feed.
func (e *Exchange) place(ctx context.Context, side domain.Side, price float64, qty int) (domain.Order, error) {
	order, err := e.client.CreateOrder(ctx, side, price, qty, uuid.NewString())
	if err != nil {
		return domain.Order{}, err
	}
	if e.stream == nil {
		return order, nil
	}

	acked, ok := e.stream.Await(ctx, order.ID, e.ackTimeout, func(o domain.Order) bool {
		return o.Status != domain.StatusCreated
	})
	if !ok {
		slog.Debug("bybit: no feed ack, trusting REST", "order_id", order.ID, "timeout", e.ackTimeout)
		return order, nil
	}
	if acked.Status.Dead() {
		return acked, &domain.OrderError{
			Op:      "create",
			OrderID: acked.ID,
			Reason:  fmt.Sprintf("post only %s at %.1f", acked.Status, price),
		}
	}
	return acked, nil
}

// Cancel cancels orderID and waits until the feed reports it off the book.
func (e *Exchange) Cancel(ctx context.Context, orderID string) error {
	if _, err := e.client.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	if e.stream == nil {
		return nil
	}
	if _, ok := e.stream.Await(ctx, orderID, e.ackTimeout, func(o domain.Order) bool {
		return !o.Status.Live()
	}); !ok {
		slog.Debug("bybit: no feed ack for cancel", "order_id", orderID)
	}
	return nil
}

func (e *Exchange) CancelAll(ctx context.Context) error {
	return e.client.CancelAllOrders(ctx)
}
