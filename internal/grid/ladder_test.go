package grid

import (
	"fmt"
	"testing"

	"edgex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *models.Config {
	return &models.Config{
		Instrument:         "ETHUSD",
		GridCount:          10,
		GridSpacingPercent: 0.5,
		OrderSize:          0.01,
		MaxPositionSize:    0.1,
		PriceRangePercent:  5.0,
		StopLossPercent:    10.0,
	}
}

func priceAt(mid float64) models.PriceState {
	return models.PriceState{BestBid: mid - 0.5, BestAsk: mid + 0.5, MidPrice: mid}
}

// openAll simulates the order placements of a plan and returns the resulting
// open order list as the exchange would report it.
func openAll(l *Ladder, plan *Plan) []*models.Order {
	for i, lvl := range plan.ToPlace {
		l.MarkOpen(lvl, fmt.Sprintf("ord-%d-%s-%.2f", i, lvl.Side, lvl.Price))
	}
	var open []*models.Order
	for _, lvl := range l.Epoch().Levels {
		if lvl.Status == models.LevelOpen {
			open = append(open, &models.Order{
				OrderID: lvl.OrderID,
				Price:   lvl.Price,
				Size:    lvl.TargetSize,
				Side:    lvl.Side,
				Status:  models.OrderStatusOpen,
			})
		}
	}
	return open
}

func findLevel(l *Ladder, price float64) *models.GridLevel {
	for _, lvl := range l.Epoch().Levels {
		if lvl.Price == price {
			return lvl
		}
	}
	return nil
}

func TestLayoutProperties(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	epoch := l.Layout(4000)

	require.Len(t, epoch.Levels, 10)

	buys, sells := 0, 0
	for _, lvl := range epoch.Levels {
		assert.NotEqual(t, 4000.0, lvl.Price)
		assert.Equal(t, 0.01, lvl.TargetSize)
		assert.Equal(t, models.LevelPlanned, lvl.Status)
		if lvl.Side == models.Buy {
			buys++
			assert.Less(t, lvl.Price, 4000.0)
		} else {
			sells++
			assert.Greater(t, lvl.Price, 4000.0)
		}
	}
	assert.Equal(t, 5, buys)
	assert.Equal(t, 5, sells)

	for i := 1; i < len(epoch.Levels); i++ {
		assert.Greater(t, epoch.Levels[i].Price, epoch.Levels[i-1].Price)
	}

	assert.Equal(t, 3900.0, epoch.Levels[0].Price)
	assert.Equal(t, 3980.0, epoch.Levels[4].Price)
	assert.Equal(t, 4020.0, epoch.Levels[5].Price)
	assert.Equal(t, 4100.0, epoch.Levels[9].Price)
}

func TestLayoutClipsLevelsOutsideRange(t *testing.T) {
	cfg := testConfig()
	cfg.GridSpacingPercent = 2.0 // levels at +-6%, +-8%, +-10% fall outside the 5% range
	l := NewLadder(cfg, "0.01")
	epoch := l.Layout(4000)

	require.Len(t, epoch.Levels, 4)
	assert.Equal(t, 3840.0, epoch.Levels[0].Price)
	assert.Equal(t, 3920.0, epoch.Levels[1].Price)
	assert.Equal(t, 4080.0, epoch.Levels[2].Price)
	assert.Equal(t, 4160.0, epoch.Levels[3].Price)
}

func TestLayoutCollapsesDuplicateTicks(t *testing.T) {
	// a tick coarser than the spacing folds neighboring levels onto the
	// same price; duplicates and center collisions are dropped
	cfg := testConfig()
	cfg.GridSpacingPercent = 0.3
	l := NewLadder(cfg, "1")
	epoch := l.Layout(100)

	require.Len(t, epoch.Levels, 3)
	assert.Equal(t, 98.0, epoch.Levels[0].Price)
	assert.Equal(t, models.Buy, epoch.Levels[0].Side)
	assert.Equal(t, 99.0, epoch.Levels[1].Price)
	assert.Equal(t, models.Buy, epoch.Levels[1].Side)
	assert.Equal(t, 101.0, epoch.Levels[2].Price)
	assert.Equal(t, models.Sell, epoch.Levels[2].Side)
}

func TestQuantizeToTick(t *testing.T) {
	assert.Equal(t, 4100.56, QuantizeToTick(4100.567, "0.01"))
	assert.Equal(t, 4100.0, QuantizeToTick(4100.567, "1"))
	assert.Equal(t, 0.123, QuantizeToTick(0.12345, "0.001"))
	assert.Equal(t, 3999.9, QuantizeToTick(3999.999, "0.1"))
}

func TestReconcileInitialPlacement(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	plan := l.Reconcile(priceAt(4000), models.Position{}, nil)

	assert.Empty(t, plan.ToCancel)
	require.Len(t, plan.ToPlace, 10)

	// closest to market first
	assert.Equal(t, 3980.0, plan.ToPlace[0].Price)
	assert.Equal(t, 4020.0, plan.ToPlace[1].Price)
	assert.Equal(t, 3900.0, plan.ToPlace[8].Price)
	assert.Equal(t, 4100.0, plan.ToPlace[9].Price)
}

func TestReconcileIdempotent(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))

	again := l.Reconcile(priceAt(4000), models.Position{}, open)
	assert.True(t, again.Empty())

	// a small mid move inside the range must not disturb the layout either
	again = l.Reconcile(priceAt(4003), models.Position{}, open)
	assert.True(t, again.Empty())
}

func TestReconcileExposureGate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 0.025
	l := NewLadder(cfg, "0.01")

	plan := l.Reconcile(priceAt(4000), models.Position{}, nil)
	require.Len(t, plan.ToPlace, 4)

	var prices []float64
	for _, lvl := range plan.ToPlace {
		prices = append(prices, lvl.Price)
	}
	assert.ElementsMatch(t, []float64{3980, 3960, 4020, 4040}, prices)

	// the deferred levels stay planned and become eligible once the cap rises
	assert.Equal(t, models.LevelPlanned, findLevel(l, 3940).Status)
	cfg.MaxPositionSize = 0.1
	open := openAll(l, plan)
	plan = l.Reconcile(priceAt(4000), models.Position{}, open)
	require.Len(t, plan.ToPlace, 6)
}

func TestReconcileExposureGateWithPosition(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 0.05
	l := NewLadder(cfg, "0.01")

	// an existing long of 0.04 leaves room for one more buy but all sells
	plan := l.Reconcile(priceAt(4000), models.Position{Size: 0.04}, nil)

	buys, sells := 0, 0
	for _, lvl := range plan.ToPlace {
		if lvl.Side == models.Buy {
			buys++
		} else {
			sells++
		}
	}
	assert.Equal(t, 1, buys)
	assert.Equal(t, 5, sells)
	assert.Equal(t, 3980.0, plan.ToPlace[0].Price)
}

func TestReconcileAdoptsMatchingOrders(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := []*models.Order{
		{OrderID: "keep", Price: 3980, Size: 0.01, Side: models.Buy, Status: models.OrderStatusOpen},
		{OrderID: "dup", Price: 3980, Size: 0.01, Side: models.Buy, Status: models.OrderStatusOpen},
		{OrderID: "stray", Price: 3333, Size: 0.01, Side: models.Buy, Status: models.OrderStatusOpen},
	}

	plan := l.Reconcile(priceAt(4000), models.Position{}, open)

	assert.ElementsMatch(t, []string{"dup", "stray"}, plan.ToCancel)
	require.Len(t, plan.ToPlace, 9)
	for _, lvl := range plan.ToPlace {
		assert.NotEqual(t, 3980.0, lvl.Price)
	}

	adopted := findLevel(l, 3980)
	require.NotNil(t, adopted)
	assert.Equal(t, models.LevelOpen, adopted.Status)
	assert.Equal(t, "keep", adopted.OrderID)
}

func TestReconcileCancelsSideMismatch(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := []*models.Order{
		{OrderID: "wrong-side", Price: 3980, Size: 0.01, Side: models.Sell, Status: models.OrderStatusOpen},
	}

	plan := l.Reconcile(priceAt(4000), models.Position{}, open)

	assert.Equal(t, []string{"wrong-side"}, plan.ToCancel)
	require.Len(t, plan.ToPlace, 10)
}

func TestReconcileRebuildsOnCenterDrift(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))
	firstEpoch := l.Epoch().EpochID

	// 4300 sits above the 4200 upper bound of the 4000-centered layout
	plan := l.Reconcile(priceAt(4300), models.Position{}, open)

	assert.Len(t, plan.ToCancel, 10)
	assert.Len(t, plan.ToPlace, 10)
	assert.NotEqual(t, firstEpoch, l.Epoch().EpochID)
	assert.Equal(t, 4300.0, l.Epoch().CenterPrice)
	assert.Equal(t, 4278.5, plan.ToPlace[0].Price)
	assert.Equal(t, 4321.5, plan.ToPlace[1].Price)
}

func TestReconcileKeepsLayoutInsideRange(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))
	firstEpoch := l.Epoch().EpochID

	plan := l.Reconcile(priceAt(4150), models.Position{}, open)

	assert.True(t, plan.Empty())
	assert.Equal(t, firstEpoch, l.Epoch().EpochID)
}

func TestMarkFilledParksLevelAndRedirectsNeighbor(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))

	bottom := findLevel(l, 3900)
	require.NotNil(t, bottom)
	fill, ok := l.MarkFilled(bottom.OrderID)
	require.True(t, ok)

	assert.Equal(t, models.Buy, fill.Side)
	assert.Equal(t, 3900.0, fill.Price)
	assert.Equal(t, models.LevelFilled, bottom.Status)
	assert.Empty(t, bottom.OrderID)

	// the neighbor one level up now works the exit of this fill
	neighbor := findLevel(l, 3920)
	assert.Equal(t, models.Sell, neighbor.Side)
	assert.Equal(t, bottom.Index, neighbor.CaptureFor)
}

func TestMarkFilledCaptureReleasesBothLevels(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))

	bottom := findLevel(l, 3900)
	_, ok := l.MarkFilled(bottom.OrderID)
	require.True(t, ok)

	// the redirected neighbor still carries its old buy order; reconcile
	// swaps it for a sell at the same price
	open = open[:0]
	for _, lvl := range l.Epoch().Levels {
		if lvl.Status == models.LevelOpen {
			open = append(open, &models.Order{
				OrderID: lvl.OrderID,
				Price:   lvl.Price,
				Side:    sideForIndex(lvl.Index),
				Size:    lvl.TargetSize,
				Status:  models.OrderStatusOpen,
			})
		}
	}
	neighbor := findLevel(l, 3920)
	staleID := neighbor.OrderID
	plan := l.Reconcile(priceAt(4000), models.Position{Size: 0.01}, open)
	assert.Contains(t, plan.ToCancel, staleID)
	require.NotEmpty(t, plan.ToPlace)
	assert.Equal(t, neighbor, plan.ToPlace[0])

	l.MarkOpen(neighbor, "capture-sell")
	fill, ok := l.MarkFilled("capture-sell")
	require.True(t, ok)
	assert.Equal(t, models.Sell, fill.Side)
	assert.Equal(t, 3920.0, fill.Price)

	// round trip complete: both levels return to their layout sides
	assert.Equal(t, models.LevelPlanned, bottom.Status)
	assert.Equal(t, models.LevelPlanned, neighbor.Status)
	assert.Equal(t, models.Buy, neighbor.Side)
	assert.Equal(t, 0, neighbor.CaptureFor)
}

func TestFilledLevelNotRepostedSamePriceAndSide(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	open := openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))

	lvl := findLevel(l, 3980)
	_, ok := l.MarkFilled(lvl.OrderID)
	require.True(t, ok)

	var remaining []*models.Order
	for _, o := range open {
		if o.Price != 3980 {
			remaining = append(remaining, o)
		}
	}
	plan := l.Reconcile(priceAt(4000), models.Position{Size: 0.01}, remaining)

	for _, p := range plan.ToPlace {
		assert.NotEqual(t, 3980.0, p.Price)
	}
	assert.Equal(t, models.LevelFilled, lvl.Status)
}

func TestMarkCancelledFreesLevel(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	openAll(l, l.Reconcile(priceAt(4000), models.Position{}, nil))

	lvl := findLevel(l, 4020)
	id := lvl.OrderID
	l.MarkCancelled(id)

	assert.Equal(t, models.LevelPlanned, lvl.Status)
	assert.Empty(t, lvl.OrderID)
	assert.NotContains(t, l.OpenOrderIDs(), id)
	assert.Equal(t, 9, l.OpenLevelCount())
}

func TestMarkFilledUnknownOrder(t *testing.T) {
	l := NewLadder(testConfig(), "0.01")
	l.Layout(4000)

	_, ok := l.MarkFilled("nope")
	assert.False(t, ok)
}
