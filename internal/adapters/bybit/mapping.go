package bybit

import (
	"fmt"
	"strconv"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

const (
	sideBuy  = "Buy"
	sideSell = "Sell"
)

func toSide(s string) (domain.Side, error) {
	switch s {
	case sideBuy:
		return domain.SideLong, nil
	case sideSell:
		return domain.SideShort, nil
	default:
		return "", fmt.Errorf("bybit.toSide: unknown side %q", s)
	}
}

func fromSide(s domain.Side) string {
	if s == domain.SideShort {
		return sideSell
	}
	return sideBuy
}

// toOrder convierte una orden REST o del feed al modelo de dominio.
func toOrder(r orderResult) (domain.Order, error) {
	side, err := toSide(r.Side)
	if err != nil {
		return domain.Order{}, err
	}
	price, _ := r.Price.Float64()
	return domain.Order{
		ID:       r.OrderID,
		LinkID:   r.OrderLinkID,
		Side:     side,
		Price:    price,
		Quantity: int(r.Qty.IntPart()),
		Status:   domain.OrderStatus(r.OrderStatus),
	}, nil
}

func toOrders(rs []orderResult) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(rs))
	for _, r := range rs {
		o, err := toOrder(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// toPosition maps the position payload. A zero size is not a position.
func toPosition(r positionResult, env envelope) (domain.Position, error) {
	if r.Size == 0 {
		return domain.Position{}, domain.ErrNotInCycle
	}

	entry, err := domain.ParseQuantizedPrice(r.EntryPrice)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bybit.toPosition: %w", err)
	}
	realEntry, err := strconv.ParseFloat(r.EntryPrice, 64)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bybit.toPosition: entry price %q: %w", r.EntryPrice, err)
	}

	wallet, _ := r.WalletBalance.Float64()
	margin, _ := r.OrderMargin.Float64()
	closing, _ := r.OccClosingFee.Float64()
	liq, _ := r.LiqPrice.Float64()

	return domain.Position{
		EntryPrice:     entry,
		RealEntryPrice: realEntry,
		Quantity:       r.Size,
		WalletBalance:  wallet,
		OrderMargin:    margin,
		OccClosingFee:  closing,
		LiqPrice:       liq,
		RateLimit:      toRateLimit(env),
	}, nil
}

func toRateLimit(env envelope) domain.RateLimit {
	rl := domain.RateLimit{Status: env.RateLimitStatus, Limit: env.RateLimit}
	if env.RateLimitResetMs > 0 {
		rl.ResetAt = domain.ConvertEpoch(env.RateLimitResetMs, nil)
	}
	return rl
}
