package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/charliebot/internal/domain"
	"github.com/alejandrodnm/charliebot/internal/ports"
)

const (
	defaultPollInterval      = 10 * time.Second
	defaultEntryPollInterval = 10 * time.Second
	defaultChaseThreshold    = 5
	defaultGroupTimeout      = 30 * time.Second
	defaultMaxFailures       = 5
	defaultFailureCooldown   = 2 * time.Minute
	defaultMaintenanceMargin = 0.005
)

// Config holds the strategy parameters of the cycle controller.
type Config struct {
	ShortBigSpread   float64
	ShortSmallSpread float64
	InitialQuantity  int

	PollInterval      time.Duration
	EntryPollInterval time.Duration
	// ChaseThreshold is how far the bid must rise above the resting entry
	// order before it is cancelled and re-placed.
	ChaseThreshold float64

	Ladder domain.LadderParams

	// MaxCycles bounds the entry→flat cycles Run executes (0 = unlimited).
	MaxCycles int

	MaxConsecutiveFailures int
	FailureCooldown        time.Duration

	// GroupTimeout bounds a decision group once it has started. Groups run
	// detached from the stop signal.
	GroupTimeout time.Duration

	MaintenanceMargin float64
}

// DefaultConfig returns the production defaults for everything but the
// spreads and the initial quantity, which come from the command line.
func DefaultConfig() Config {
	return Config{
		PollInterval:           defaultPollInterval,
		EntryPollInterval:      defaultEntryPollInterval,
		ChaseThreshold:         defaultChaseThreshold,
		Ladder:                 domain.DefaultLadderParams(),
		MaxConsecutiveFailures: defaultMaxFailures,
		FailureCooldown:        defaultFailureCooldown,
		GroupTimeout:           defaultGroupTimeout,
		MaintenanceMargin:      defaultMaintenanceMargin,
	}
}

// Validate rejects parameters the controller cannot trade with.
func (c Config) Validate() error {
	if c.InitialQuantity <= 0 {
		return fmt.Errorf("controller.Config: initial quantity must be positive, got %d", c.InitialQuantity)
	}
	if c.ShortBigSpread <= 0 || c.ShortSmallSpread <= 0 {
		return fmt.Errorf("controller.Config: spreads must be positive (big=%v small=%v)", c.ShortBigSpread, c.ShortSmallSpread)
	}
	if c.PollInterval <= 0 || c.EntryPollInterval <= 0 {
		return fmt.Errorf("controller.Config: poll intervals must be positive")
	}
	return nil
}

// Controller drives the trading cycle: seek entry, bracket the position,
// then reconcile the resting orders against the desired state until the
// position closes.
type Controller struct {
	exchange ports.Exchange
	reporter ports.Reporter
	cfg      Config
	breaker  domain.FailureBreaker

	state   domain.CycleState
	cycleID string
	cycles  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a controller. Zero-valued timing fields fall back to defaults.
func New(exchange ports.Exchange, reporter ports.Reporter, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.EntryPollInterval <= 0 {
		cfg.EntryPollInterval = def.EntryPollInterval
	}
	if cfg.GroupTimeout <= 0 {
		cfg.GroupTimeout = def.GroupTimeout
	}
	if cfg.FailureCooldown <= 0 {
		cfg.FailureCooldown = def.FailureCooldown
	}
	if cfg.MaintenanceMargin <= 0 {
		cfg.MaintenanceMargin = def.MaintenanceMargin
	}
	if cfg.Ladder == (domain.LadderParams{}) {
		cfg.Ladder = def.Ladder
	}

	return &Controller{
		exchange: exchange,
		reporter: reporter,
		cfg:      cfg,
		state:    domain.StateSeekingEntry,
		breaker: domain.FailureBreaker{
			MaxFailures:      cfg.MaxConsecutiveFailures,
			CooldownDuration: cfg.FailureCooldown,
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// State returns the current phase.
func (c *Controller) State() domain.CycleState { return c.state }

// Cycles returns how many cycles completed (reached flat).
func (c *Controller) Cycles() int { return c.cycles }

// Run executes cycles until ctx is cancelled, MaxCycles is reached, or a
// fatal error occurs. Cancellation is a clean stop and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.RunCycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return nil
			}
			return err
		default:
			c.emit(ctx, domain.Event{Kind: domain.EventControllerFailed, Err: err})
			return fmt.Errorf("controller.Run: %w", err)
		}

		if c.cfg.MaxCycles > 0 && c.cycles >= c.cfg.MaxCycles {
			slog.Info("controller: max cycles reached", "cycles", c.cycles)
			return nil
		}
	}
}

// RunCycle runs one cycle: it re-derives the state from the exchange, opens
// a position if there is none, brackets it and reconciles until flat.
func (c *Controller) RunCycle(ctx context.Context) error {
	c.cycleID = uuid.NewString()
	c.state = domain.StateSeekingEntry
	c.emit(ctx, domain.Event{Kind: domain.EventCycleStarted})

	pos, found, err := c.currentPosition(ctx)
	if err != nil {
		return err
	}

	if !found {
		pos, err = c.seekEntry(ctx)
		if err != nil {
			return err
		}
		c.state = domain.StatePositionOpen
		if err := c.bracket(ctx, pos); err != nil {
			return err
		}
	} else {
		slog.Info("controller: resuming existing position",
			"entry_price", pos.EntryPrice, "quantity", pos.Quantity)
		c.state = domain.StatePositionOpen
	}

	if err := c.reconcileUntilFlat(ctx); err != nil {
		return err
	}
	c.cycles++
	return nil
}

// currentPosition reads the position until the exchange answers. found is
// false when there is no position.
func (c *Controller) currentPosition(ctx context.Context) (domain.Position, bool, error) {
	for {
		pos, err := c.exchange.Position(ctx)
		if err == nil {
			return pos, true, nil
		}
		if errors.Is(err, domain.ErrNotInCycle) {
			return domain.Position{}, false, nil
		}
		if ctx.Err() != nil {
			return domain.Position{}, false, ctx.Err()
		}

		c.emit(ctx, domain.Event{Kind: domain.EventPassFailed, Detail: "read position", Err: err})
		if err := c.sleep(ctx, c.cfg.EntryPollInterval); err != nil {
			return domain.Position{}, false, err
		}
	}
}

// group runs one decision group. The stop signal is checked before it
// starts; once started it runs to completion bounded by GroupTimeout.
func (c *Controller) group(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.GroupTimeout)
	defer cancel()
	return fn(gctx)
}

func (c *Controller) emit(ctx context.Context, ev domain.Event) {
	ev.State = c.state
	ev.CycleID = c.cycleID
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	c.reporter.Report(context.WithoutCancel(ctx), ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
