package ports

import (
	"context"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// Exchange is the venue the cycle controller trades against.
// Implementations must be safe for the controller's single sequential caller;
// they may run background goroutines of their own (order feed).
type Exchange interface {
	// Bid devuelve el mejor bid actual del contrato.
	Bid(ctx context.Context) (float64, error)

	// Ask devuelve el mejor ask actual del contrato.
	Ask(ctx context.Context) (float64, error)

	// Position returns the open long position, or domain.ErrNotInCycle when
	// the size is zero.
	Position(ctx context.Context) (domain.Position, error)

	// Orders returns our live (New) orders grouped by side.
	Orders(ctx context.Context) (domain.OrderBook, error)

	// Long places a post-only buy limit order.
	Long(ctx context.Context, price float64, quantity int) (domain.Order, error)

	// Short places a post-only sell limit order.
	Short(ctx context.Context, price float64, quantity int) (domain.Order, error)

	Cancel(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
}
