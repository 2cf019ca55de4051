package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// seekEntry places the initial long at the bid and waits for it to fill,
// chasing the bid upwards when it runs away from the resting order.
func (c *Controller) seekEntry(ctx context.Context) (domain.Position, error) {
	qty := c.cfg.InitialQuantity

	bid, err := c.exchange.Bid(ctx)
	if err != nil {
		c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "read bid", Err: err})
	}

	placed := false
	if err == nil {
		placed = c.placeEntry(ctx, domain.EventEntryPlaced, bid, qty, false)
	}

	for {
		if err := c.sleep(ctx, c.cfg.EntryPollInterval); err != nil {
			return domain.Position{}, err
		}

		pos, err := c.exchange.Position(ctx)
		if err == nil {
			c.emit(ctx, domain.Event{
				Kind:     domain.EventPositionRead,
				Position: &pos,
				Price:    pos.RealEntryPrice,
				Quantity: pos.Quantity,
				Detail:   fmt.Sprintf("entry spread %.1f from bid %.1f", pos.RealEntryPrice-bid, bid),
			})
			return pos, nil
		}
		if !errors.Is(err, domain.ErrNotInCycle) {
			if ctx.Err() != nil {
				return domain.Position{}, ctx.Err()
			}
			c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "read position", Err: err})
			continue
		}

		newBid, err := c.exchange.Bid(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Position{}, ctx.Err()
			}
			c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "read bid", Err: err})
			continue
		}

		switch {
		case !placed:
			bid = newBid
			placed = c.placeEntry(ctx, domain.EventEntryPlaced, bid, qty, false)
		case bid+c.cfg.ChaseThreshold < newBid:
			bid = newBid
			placed = c.placeEntry(ctx, domain.EventEntryChased, bid, qty, true)
		default:
			c.emit(ctx, domain.Event{
				Kind:   domain.EventEntryWaiting,
				Price:  newBid,
				Detail: fmt.Sprintf("resting at %.1f, spread %.1f", bid, newBid-bid),
			})
		}
	}
}

// placeEntry places the entry long, cancelling everything first when
// chasing. It reports whether an entry order now rests on the book.
func (c *Controller) placeEntry(ctx context.Context, kind domain.EventKind, price float64, qty int, chase bool) bool {
	err := c.group(ctx, func(gctx context.Context) error {
		if chase {
			if err := c.exchange.CancelAll(gctx); err != nil {
				return fmt.Errorf("cancel all: %w", err)
			}
			c.emit(ctx, domain.Event{Kind: domain.EventAllCancelled})
		}
		order, err := c.exchange.Long(gctx, price, qty)
		if err != nil {
			return fmt.Errorf("long %d@%.1f: %w", qty, price, err)
		}
		c.emit(ctx, domain.Event{
			Kind:     kind,
			Side:     domain.SideLong,
			OrderID:  order.ID,
			Price:    price,
			Quantity: qty,
		})
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "entry", Err: err})
		}
		return false
	}
	return true
}
