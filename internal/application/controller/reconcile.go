package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// reconcileUntilFlat runs reconciliation passes every PollInterval until the
// position closes. Failed passes are reported and retried; fatal errors and
// cancellation end the loop.
func (c *Controller) reconcileUntilFlat(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.breaker.IsOpen(c.now()) {
			flat, err := c.reconcile(ctx)
			switch {
			case err == nil:
				c.breaker.RecordSuccess()
				if flat {
					return nil
				}
			case domain.IsFatal(err):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Err: err})
				if c.breaker.RecordFailure(c.now(), err.Error()) {
					c.emit(ctx, domain.Event{
						Kind:   domain.EventBreakerTripped,
						Count:  c.breaker.Trips,
						Detail: fmt.Sprintf("cooling down until %s", c.breaker.CooldownUntil.Format("15:04:05")),
						Err:    err,
					})
				}
			}
		} else {
			slog.Debug("controller: breaker cooling down", "until", c.breaker.CooldownUntil)
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// reconcile runs one pass against freshly read exchange state. flat is true
// when the position has closed and the book was cleared.
func (c *Controller) reconcile(ctx context.Context) (bool, error) {
	pos, err := c.exchange.Position(ctx)
	if errors.Is(err, domain.ErrNotInCycle) {
		return true, c.flatten(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("%w: position: %w", domain.ErrReconcileFailed, err)
	}

	if err := c.reportPosition(ctx, pos); err != nil {
		return false, err
	}

	book, err := c.exchange.Orders(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: orders: %w", domain.ErrReconcileFailed, err)
	}
	slog.Debug("controller: book read", "orders", book.Len(),
		"longs", book.LongsQuantity(), "shorts", book.ShortsQuantity(), "position", pos.Quantity)

	if shorts := book.ShortsQuantity(); shorts != pos.Quantity {
		slog.Debug("controller: shorts out of sync", "shorts", shorts, "position", pos.Quantity)
		if err := c.group(ctx, func(gctx context.Context) error {
			return c.rebuildShorts(ctx, gctx, pos, book)
		}); err != nil {
			return false, err
		}
	}

	desired, err := c.desiredLadder(pos)
	if err != nil {
		return false, err
	}
	outOfSync, err := ladderOutOfSync(book, pos, desired)
	if err != nil {
		return false, err
	}
	if outOfSync {
		if err := c.group(ctx, func(gctx context.Context) error {
			return c.rebuildLadder(ctx, gctx, book, desired)
		}); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *Controller) flatten(ctx context.Context) error {
	err := c.group(ctx, func(gctx context.Context) error {
		return c.exchange.CancelAll(gctx)
	})
	if err != nil {
		return fmt.Errorf("%w: cancel all: %w", domain.ErrReconcileFailed, err)
	}
	c.emit(ctx, domain.Event{Kind: domain.EventAllCancelled})
	c.state = domain.StateFlat
	c.emit(ctx, domain.Event{Kind: domain.EventCycleFlat})
	return nil
}

// reportPosition emits the position, with the liquidation price when the
// venue reported a margin snapshot.
func (c *Controller) reportPosition(ctx context.Context, pos domain.Position) error {
	ev := domain.Event{
		Kind:     domain.EventPositionRead,
		Position: &pos,
		Price:    pos.EntryPrice,
		Quantity: pos.Quantity,
	}
	if pos.HasMargin() {
		liq, err := domain.LiquidationPrice(float64(pos.Quantity), pos.RealEntryPrice,
			pos.WalletBalance, pos.OrderMargin, 0, c.cfg.MaintenanceMargin)
		if err != nil {
			return fmt.Errorf("controller.reportPosition: %w", err)
		}
		ev.LiqPrice = liq
	}
	c.emit(ctx, ev)
	return nil
}

// rebuildShorts cancels every resting short and re-places the pair: the big
// leg (at most InitialQuantity) at the big spread and the remainder at the
// small spread, so the shorts cover exactly the position.
func (c *Controller) rebuildShorts(ctx, gctx context.Context, pos domain.Position, book domain.OrderBook) error {
	shorts := book.SortedShorts()
	for _, s := range shorts {
		if err := c.exchange.Cancel(gctx, s.ID); err != nil {
			return fmt.Errorf("%w: cancel short %s: %w", domain.ErrReconcileFailed, s.ID, err)
		}
	}
	c.emit(ctx, domain.Event{Kind: domain.EventShortsCancelled, Side: domain.SideShort, Count: len(shorts)})

	big := min(c.cfg.InitialQuantity, pos.Quantity)
	small := pos.Quantity - big

	if small > 0 {
		price := domain.QuantizePrice(pos.EntryPrice + c.cfg.ShortSmallSpread)
		if _, err := c.placeShort(ctx, gctx, price, small); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
		}
	}
	if big > 0 {
		price := domain.QuantizePrice(pos.EntryPrice + c.cfg.ShortBigSpread)
		if _, err := c.placeShort(ctx, gctx, price, big); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
		}
	}

	c.emit(ctx, domain.Event{Kind: domain.EventShortsRebuilt, Side: domain.SideShort, Quantity: pos.Quantity})
	return nil
}

// ladderOutOfSync reports whether the resting longs no longer start at twice
// the position, or are missing while a ladder is wanted.
func ladderOutOfSync(book domain.OrderBook, pos domain.Position, desired []domain.LadderStep) (bool, error) {
	if len(book.Longs) == 0 {
		return len(desired) > 0, nil
	}
	head, err := book.HeadLongs()
	if err != nil {
		return false, err
	}
	return head.Quantity != 2*pos.Quantity, nil
}

// rebuildLadder walks the existing longs (ascending quantity) and the
// desired steps pairwise: the i-th resting long is cancelled and the i-th
// step placed. Leftovers on either side are cancelled or placed.
func (c *Controller) rebuildLadder(ctx, gctx context.Context, book domain.OrderBook, desired []domain.LadderStep) error {
	existing := book.SortedLongs()
	for i := range max(len(existing), len(desired)) {
		if i < len(existing) {
			if err := c.cancel(ctx, gctx, existing[i]); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
			}
		}
		if i < len(desired) {
			if _, err := c.placeLong(ctx, gctx, desired[i].Price, desired[i].Quantity); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrReconcileFailed, err)
			}
		}
	}
	c.emit(ctx, domain.Event{
		Kind:   domain.EventLadderRebuilt,
		Side:   domain.SideLong,
		Count:  len(desired),
		Detail: fmt.Sprintf("replaced %d resting longs", len(existing)),
	})
	return nil
}
