package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

var testNow = time.Date(2021, 4, 21, 8, 40, 44, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ShortBigSpread = 100
	cfg.ShortSmallSpread = 25
	cfg.InitialQuantity = 1
	return cfg
}

func newTestController(ex *fakeExchange, cfg Config) (*Controller, *recordingReporter) {
	rep := &recordingReporter{}
	c := New(ex, rep, cfg)
	c.now = func() time.Time { return testNow }
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	c.cycleID = "test-cycle"
	return c, rep
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.InitialQuantity = 0
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.ShortSmallSpread = 0
	assert.Error(t, cfg.Validate())
}

func TestReconcile_RebuildsShortsAsOneGroup(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 3))
	ex.seed(
		domain.Order{ID: "s1", Side: domain.SideShort, Price: 60100, Quantity: 1},
		domain.Order{ID: "l1", Side: domain.SideLong, Price: 59909, Quantity: 6},
	)
	c, rep := newTestController(ex, testConfig())

	flat, err := c.reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, flat)

	require.Equal(t, []call{
		{op: "cancel", id: "s1"},
		{op: "place", side: domain.SideShort, price: 60025, qty: 2, id: "o1"},
		{op: "place", side: domain.SideShort, price: 60100, qty: 1, id: "o2"},
	}, ex.calls)

	assert.Equal(t, []domain.EventKind{
		domain.EventPositionRead,
		domain.EventShortsCancelled,
		domain.EventOrderPlaced,
		domain.EventOrderPlaced,
		domain.EventShortsRebuilt,
	}, rep.kinds())
	assert.Equal(t, 1, rep.count(domain.EventShortsCancelled))
	assert.Equal(t, 1, rep.events[1].Count)

	book, _ := ex.Orders(context.Background())
	assert.Equal(t, 3, book.ShortsQuantity())
}

func TestReconcile_StopDuringShortRebuildStillReplacesShorts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := newFakeExchange().withPosition(open(60000, 3))
	ex.seed(
		domain.Order{ID: "s1", Side: domain.SideShort, Price: 60100, Quantity: 1},
		domain.Order{ID: "l1", Side: domain.SideLong, Price: 59909, Quantity: 6},
	)
	c, rep := newTestController(ex, testConfig())
	rep.onReport = func(ev domain.Event) {
		if ev.Kind == domain.EventShortsCancelled {
			cancel()
		}
	}

	_, err := c.reconcile(ctx)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, []call{
		{op: "cancel", id: "s1"},
		{op: "place", side: domain.SideShort, price: 60025, qty: 2, id: "o1"},
		{op: "place", side: domain.SideShort, price: 60100, qty: 1, id: "o2"},
	}, ex.calls, "a started group finishes after the stop signal")
	assert.Equal(t, 1, rep.count(domain.EventShortsRebuilt))

	book, _ := ex.Orders(context.Background())
	assert.Equal(t, 3, book.ShortsQuantity())
}

func TestReconcile_OverExposedShortsRebuilt(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 1))
	ex.seed(
		domain.Order{ID: "s1", Side: domain.SideShort, Price: 60100, Quantity: 1},
		domain.Order{ID: "s2", Side: domain.SideShort, Price: 60025, Quantity: 2},
		domain.Order{ID: "l1", Side: domain.SideLong, Price: 59909, Quantity: 2},
	)
	c, _ := newTestController(ex, testConfig())

	_, err := c.reconcile(context.Background())
	require.NoError(t, err)

	assert.Len(t, ex.ops("cancel"), 2)
	placed := ex.ops("place")
	require.Len(t, placed, 1, "a one-contract position only gets the big leg")
	assert.Equal(t, 60100.0, placed[0].price)
	assert.Equal(t, 1, placed[0].qty)
}

func TestReconcile_PairwiseLadderReplace(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 1))
	ex.seed(
		domain.Order{ID: "s1", Side: domain.SideShort, Price: 60100, Quantity: 1},
		domain.Order{ID: "a", Side: domain.SideLong, Price: 59909, Quantity: 1},
		domain.Order{ID: "b", Side: domain.SideLong, Price: 59790.5, Quantity: 2},
	)
	c, rep := newTestController(ex, testConfig())

	_, err := c.reconcile(context.Background())
	require.NoError(t, err)

	desired := domain.Ladder(60000, 2, domain.DefaultLadderParams())
	require.Len(t, desired, 11)

	require.GreaterOrEqual(t, len(ex.calls), 4)
	assert.Equal(t, call{op: "cancel", id: "a"}, ex.calls[0])
	assert.Equal(t, "place", ex.calls[1].op)
	assert.Equal(t, desired[0].Price, ex.calls[1].price)
	assert.Equal(t, 2, ex.calls[1].qty)
	assert.Equal(t, call{op: "cancel", id: "b"}, ex.calls[2])
	assert.Equal(t, desired[1].Price, ex.calls[3].price)

	assert.Len(t, ex.ops("cancel"), 2)
	assert.Len(t, ex.ops("place"), len(desired))
	assert.Equal(t, 1, rep.count(domain.EventLadderRebuilt))

	book, _ := ex.Orders(context.Background())
	head, err := book.HeadLongs()
	require.NoError(t, err)
	assert.Equal(t, 2, head.Quantity)
}

func TestReconcile_ExcessLongsCancelled(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 1024))
	ex.seed(
		domain.Order{ID: "s1", Side: domain.SideShort, Price: 60025, Quantity: 1023},
		domain.Order{ID: "s2", Side: domain.SideShort, Price: 60100, Quantity: 1},
		domain.Order{ID: "a", Side: domain.SideLong, Price: 59909, Quantity: 512},
		domain.Order{ID: "b", Side: domain.SideLong, Price: 59790.5, Quantity: 1024},
	)
	c, _ := newTestController(ex, testConfig())

	_, err := c.reconcile(context.Background())
	require.NoError(t, err)

	assert.Len(t, ex.ops("cancel"), 2)
	require.Len(t, ex.ops("place"), 1)
	assert.Equal(t, 2048, ex.ops("place")[0].qty)
}

func TestReconcile_InSyncIsNoop(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 3))
	ex.seed(
		domain.Order{ID: "s1", Side: domain.SideShort, Price: 60025, Quantity: 2},
		domain.Order{ID: "s2", Side: domain.SideShort, Price: 60100, Quantity: 1},
		domain.Order{ID: "l1", Side: domain.SideLong, Price: 59909, Quantity: 6},
	)
	c, rep := newTestController(ex, testConfig())

	flat, err := c.reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, flat)
	assert.Empty(t, ex.calls)
	assert.Equal(t, []domain.EventKind{domain.EventPositionRead}, rep.kinds())
}

func TestReconcile_FlatCancelsEverything(t *testing.T) {
	ex := newFakeExchange().withPosition(notInCycle)
	ex.seed(domain.Order{ID: "l1", Side: domain.SideLong, Price: 59909, Quantity: 2})
	c, rep := newTestController(ex, testConfig())

	flat, err := c.reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, flat)
	assert.Equal(t, []call{{op: "cancel_all"}}, ex.calls)
	assert.Equal(t, domain.StateFlat, c.State())
	assert.Equal(t, 1, rep.count(domain.EventCycleFlat))
}

func TestReconcile_ReportsLiquidationPrice(t *testing.T) {
	pos := domain.Position{EntryPrice: 8000, RealEntryPrice: 8000, Quantity: 10000, WalletBalance: 0.5}
	ex := newFakeExchange().withPosition(positionResult{pos: pos})
	ex.seed(domain.Order{ID: "s1", Side: domain.SideShort, Price: 8100, Quantity: 10000})
	c, rep := newTestController(ex, testConfig())

	_, err := c.reconcile(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, rep.events)
	assert.Equal(t, domain.EventPositionRead, rep.events[0].Kind)
	assert.InDelta(t, 5739.083528002316, rep.events[0].LiqPrice, 1e-9)
}

func TestReconcile_OrderFailureEndsPass(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 3))
	ex.seed(domain.Order{ID: "l1", Side: domain.SideLong, Price: 59909, Quantity: 6})
	ex.shortErr = &domain.OrderError{Op: "create", Reason: "post only"}
	c, _ := newTestController(ex, testConfig())

	_, err := c.reconcile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReconcileFailed)
	assert.ErrorIs(t, err, domain.ErrOrderFailed)
	assert.False(t, domain.IsFatal(err))
}

func TestRun_InvalidLadderPriceIsFatal(t *testing.T) {
	ex := newFakeExchange().withPosition(open(100, 1))
	ex.seed(domain.Order{ID: "s1", Side: domain.SideShort, Price: 200, Quantity: 1})
	c, rep := newTestController(ex, testConfig())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.Equal(t, 1, rep.count(domain.EventControllerFailed))
}

func TestRun_FullCycleWithEntryChase(t *testing.T) {
	ex := newFakeExchange().withPosition(
		notInCycle,     // startup
		notInCycle,     // poll 1
		notInCycle,     // poll 2
		open(60010, 1), // poll 3: filled
		open(60010, 1), // reconcile pass 1
		notInCycle,     // reconcile pass 2: closed by the short
	)
	ex.bids = []float64{60000, 60003, 60010}
	ex.fillAt = map[int][]string{3: {"o2"}}

	cfg := testConfig()
	cfg.MaxCycles = 1
	c, rep := newTestController(ex, cfg)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, c.Cycles())
	assert.Equal(t, domain.StateFlat, c.State())

	longs := ex.ops("place")
	require.GreaterOrEqual(t, len(longs), 2)
	assert.Equal(t, call{op: "place", side: domain.SideLong, price: 60000, qty: 1, id: "o1"}, longs[0])
	assert.Equal(t, 60010.0, longs[1].price, "entry chased to the new bid")

	assert.Equal(t, 1, rep.count(domain.EventEntryPlaced))
	assert.Equal(t, 1, rep.count(domain.EventEntryWaiting))
	assert.Equal(t, 1, rep.count(domain.EventEntryChased))
	assert.Equal(t, 1, rep.count(domain.EventBracketPlaced))
	assert.Equal(t, 0, rep.count(domain.EventShortsRebuilt), "the bracket already covers the position")
	assert.Equal(t, 0, rep.count(domain.EventLadderRebuilt))
	assert.Equal(t, 1, rep.count(domain.EventCycleFlat))

	var shorts []call
	for _, cl := range ex.ops("place") {
		if cl.side == domain.SideShort {
			shorts = append(shorts, cl)
		}
	}
	require.Len(t, shorts, 1)
	assert.Equal(t, 60110.0, shorts[0].price)
	assert.Equal(t, 1, shorts[0].qty)
}

func TestRun_ExistingPositionSkipsEntry(t *testing.T) {
	ex := newFakeExchange().withPosition(open(60000, 1), open(60000, 1), notInCycle)
	cfg := testConfig()
	cfg.MaxCycles = 1
	c, rep := newTestController(ex, cfg)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 0, ex.bidCalls)
	assert.Equal(t, 0, rep.count(domain.EventEntryPlaced))
	assert.Equal(t, 1, rep.count(domain.EventShortsRebuilt))
	assert.Equal(t, 1, rep.count(domain.EventLadderRebuilt))
}

func TestRun_CancelledContextStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := newFakeExchange()
	c, _ := newTestController(ex, testConfig())

	assert.NoError(t, c.Run(ctx))
	assert.Empty(t, ex.calls)
}

func TestRun_StopDuringEntryPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := newFakeExchange().withPosition(notInCycle)
	ex.bids = []float64{60000}

	c, _ := newTestController(ex, testConfig())
	sleeps := 0
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 3 {
			cancel()
		}
		return ctx.Err()
	}

	assert.NoError(t, c.Run(ctx))
	assert.Len(t, ex.ops("place"), 1)
}

func TestReconcileUntilFlat_BreakerTrips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := newFakeExchange().withPosition(open(60000, 1))
	ex.ordersErr = errors.New("connection reset")

	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 2
	cfg.FailureCooldown = time.Hour
	c, rep := newTestController(ex, cfg)

	sleeps := 0
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 5 {
			cancel()
		}
		return ctx.Err()
	}

	err := c.reconcileUntilFlat(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, rep.count(domain.EventPassFailed))
	assert.Equal(t, 1, rep.count(domain.EventBreakerTripped))
	assert.Equal(t, 2, ex.posCalls, "no passes while cooling down")
}

func TestEmit_StampsCycleAndState(t *testing.T) {
	c, rep := newTestController(newFakeExchange(), testConfig())
	c.state = domain.StatePositionOpen

	c.emit(context.Background(), domain.Event{Kind: domain.EventOrderPlaced})

	require.Len(t, rep.events, 1)
	assert.Equal(t, "test-cycle", rep.events[0].CycleID)
	assert.Equal(t, domain.StatePositionOpen, rep.events[0].State)
	assert.Equal(t, testNow, rep.events[0].At)
}
