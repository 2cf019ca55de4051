package controller

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// bracket places the take-profit short and the long ladder right after the
// entry fills. Placement failures are reported and left for the next
// reconciliation pass to repair; only fatal errors are returned.
func (c *Controller) bracket(ctx context.Context, pos domain.Position) error {
	steps, err := c.desiredLadder(pos)
	if err != nil {
		return fmt.Errorf("controller.bracket: %w", err)
	}

	err = c.group(ctx, func(gctx context.Context) error {
		shortPrice := domain.QuantizePrice(pos.EntryPrice + c.cfg.ShortBigSpread)
		if _, err := c.placeShort(ctx, gctx, shortPrice, pos.Quantity); err != nil {
			c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "bracket short", Err: err})
		}

		placed := 0
		for _, step := range steps {
			if _, err := c.placeLong(ctx, gctx, step.Price, step.Quantity); err != nil {
				c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "bracket ladder", Err: err})
				continue
			}
			placed++
		}

		c.emit(ctx, domain.Event{
			Kind:     domain.EventBracketPlaced,
			Position: &pos,
			Price:    pos.EntryPrice,
			Quantity: pos.Quantity,
			Count:    placed,
		})
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// desiredLadder computes the long ladder for pos. The seed is twice the
// position so that the head long always doubles the exposure.
func (c *Controller) desiredLadder(pos domain.Position) ([]domain.LadderStep, error) {
	steps := domain.Ladder(pos.EntryPrice, 2*pos.Quantity, c.cfg.Ladder)
	for _, s := range steps {
		if s.Price <= 0 {
			return nil, fmt.Errorf("ladder step %d@%.1f from entry %.1f: %w",
				s.Quantity, s.Price, pos.EntryPrice, domain.ErrInvalidPrice)
		}
	}
	return steps, nil
}

func (c *Controller) placeLong(ctx, gctx context.Context, price float64, qty int) (domain.Order, error) {
	order, err := c.exchange.Long(gctx, price, qty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("long %d@%.1f: %w", qty, price, err)
	}
	c.emit(ctx, domain.Event{Kind: domain.EventOrderPlaced, Side: domain.SideLong, OrderID: order.ID, Price: price, Quantity: qty})
	return order, nil
}

func (c *Controller) placeShort(ctx, gctx context.Context, price float64, qty int) (domain.Order, error) {
	order, err := c.exchange.Short(gctx, price, qty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("short %d@%.1f: %w", qty, price, err)
	}
	c.emit(ctx, domain.Event{Kind: domain.EventOrderPlaced, Side: domain.SideShort, OrderID: order.ID, Price: price, Quantity: qty})
	return order, nil
}

func (c *Controller) cancel(ctx, gctx context.Context, order domain.Order) error {
	if err := c.exchange.Cancel(gctx, order.ID); err != nil {
		return fmt.Errorf("cancel %s: %w", order.ID, err)
	}
	c.emit(ctx, domain.Event{Kind: domain.EventOrderCancelled, Side: order.Side, OrderID: order.ID, Price: order.Price, Quantity: order.Quantity})
	return nil
}
