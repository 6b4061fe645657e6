package grid

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"edgex-grid-bot-go/internal/models"

	"github.com/google/uuid"
)

// sizeEpsilon absorbs float noise when comparing position sizes against the
// configured cap.
const sizeEpsilon = 1e-9

// Plan is the outcome of one reconciliation pass: orders to cancel and
// levels to place. Applying an empty plan is a no-op.
type Plan struct {
	ToCancel []string
	ToPlace  []*models.GridLevel
}

// Empty reports whether the plan requires no exchange calls.
func (p *Plan) Empty() bool {
	return len(p.ToCancel) == 0 && len(p.ToPlace) == 0
}

// Ladder owns the grid level set for the current price-range epoch and
// diffs it against the open orders reported by the exchange. It never
// talks to the exchange itself.
type Ladder struct {
	cfg      *models.Config
	tickSize string
	epoch    *models.LadderEpoch
}

// NewLadder returns a ladder that quantizes all level prices to tickSize.
func NewLadder(cfg *models.Config, tickSize string) *Ladder {
	return &Ladder{cfg: cfg, tickSize: tickSize}
}

// Epoch returns the current layout, or nil before the first one.
func (l *Ladder) Epoch() *models.LadderEpoch {
	return l.epoch
}

// Layout rebuilds the level set around center. Level i sits at
// center*(1+i*spacing/100) for i in [-gridCount/2, +gridCount/2] without 0,
// buys below center and sells above. Levels falling outside the configured
// price range are dropped, not moved.
func (l *Ladder) Layout(center float64) *models.LadderEpoch {
	half := l.cfg.GridCount / 2
	lower := center * (1 - l.cfg.PriceRangePercent/100)
	upper := center * (1 + l.cfg.PriceRangePercent/100)
	qCenter := QuantizeToTick(center, l.tickSize)

	levels := make([]*models.GridLevel, 0, l.cfg.GridCount)
	var prev float64
	for i := -half; i <= half; i++ {
		if i == 0 {
			continue
		}
		price := QuantizeToTick(center*(1+float64(i)*l.cfg.GridSpacingPercent/100), l.tickSize)
		if price <= 0 || price < lower || price > upper {
			continue
		}
		// coarse ticks can collapse neighboring levels onto one price
		if price == qCenter || price == prev {
			continue
		}
		levels = append(levels, &models.GridLevel{
			Index:      i,
			Price:      price,
			Side:       sideForIndex(i),
			TargetSize: l.cfg.OrderSize,
			Status:     models.LevelPlanned,
		})
		prev = price
	}

	l.epoch = &models.LadderEpoch{
		EpochID:     uuid.NewString(),
		CenterPrice: center,
		LowerBound:  lower,
		UpperBound:  upper,
		Levels:      levels,
		CreatedAt:   time.Now(),
	}
	return l.epoch
}

// Reconcile diffs the target level set against the open orders and returns
// the cancellations and placements needed to line them up. Levels are keyed
// by quantized price, so a refreshed center that reproduces the same level
// leaves its order untouched. Calling it twice with the same inputs and no
// fills in between yields an empty plan.
func (l *Ladder) Reconcile(price models.PriceState, pos models.Position, open []*models.Order) *Plan {
	center := price.CenterPrice()
	plan := &Plan{}

	if l.epoch == nil || center < l.epoch.LowerBound || center > l.epoch.UpperBound {
		// center drifted out of the laid-out range: the whole layout is
		// stale, cancel everything and rebuild around the new center
		for _, o := range open {
			plan.ToCancel = append(plan.ToCancel, o.OrderID)
		}
		if l.epoch != nil {
			for _, lvl := range l.epoch.Levels {
				if lvl.Status == models.LevelOpen {
					lvl.Status = models.LevelCancelled
					lvl.OrderID = ""
				}
			}
		}
		l.Layout(center)
		open = nil
	}

	// index open orders by quantized price; duplicates at one price keep
	// the first and cancel the rest
	byPrice := make(map[float64]*models.Order, len(open))
	for _, o := range open {
		key := QuantizeToTick(o.Price, l.tickSize)
		if _, dup := byPrice[key]; dup {
			plan.ToCancel = append(plan.ToCancel, o.OrderID)
			continue
		}
		byPrice[key] = o
	}

	for _, lvl := range l.epoch.Levels {
		o, ok := byPrice[lvl.Price]
		if !ok {
			if lvl.Status == models.LevelOpen {
				// order vanished without a fill being recorded; free the
				// slot so it is re-posted below
				lvl.Status = models.LevelPlanned
				lvl.OrderID = ""
			}
			continue
		}
		delete(byPrice, lvl.Price)

		if lvl.Status == models.LevelFilled {
			// a filled level must not carry a resting order at its own price
			plan.ToCancel = append(plan.ToCancel, o.OrderID)
			continue
		}
		if o.Side != lvl.Side {
			plan.ToCancel = append(plan.ToCancel, o.OrderID)
			if lvl.Status == models.LevelOpen {
				lvl.Status = models.LevelPlanned
			}
			lvl.OrderID = ""
			continue
		}
		// adopt the matching order
		lvl.OrderID = o.OrderID
		if lvl.Status == models.LevelPlanned {
			lvl.Status = models.LevelOpen
		}
	}

	// orders at prices the target set does not contain
	for _, o := range byPrice {
		plan.ToCancel = append(plan.ToCancel, o.OrderID)
	}

	// candidate placements, closest to market first so the nearest levels
	// consume the exposure budget before the rest
	var candidates []*models.GridLevel
	for _, lvl := range l.epoch.Levels {
		if lvl.Status == models.LevelPlanned {
			candidates = append(candidates, lvl)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].Price-center) < math.Abs(candidates[j].Price-center)
	})

	// worst-case projection per direction: assume every accepted order on
	// that side fills while the other side does not
	longProj, shortProj := pos.Size, pos.Size
	for _, lvl := range candidates {
		if lvl.Side == models.Buy {
			if longProj+lvl.TargetSize > l.cfg.MaxPositionSize+sizeEpsilon {
				continue // deferred until exposure frees up
			}
			longProj += lvl.TargetSize
		} else {
			if shortProj-lvl.TargetSize < -l.cfg.MaxPositionSize-sizeEpsilon {
				continue
			}
			shortProj -= lvl.TargetSize
		}
		plan.ToPlace = append(plan.ToPlace, lvl)
	}

	return plan
}

// MarkFilled records a fill for the level owning orderID and returns a copy
// carrying the fill-time side and price. A plain fill parks the level as
// FILLED and redirects the adjacent level on the profitable side to the
// opposite direction; the adjacent fill completes the round trip and
// releases both levels back to their layout sides.
func (l *Ladder) MarkFilled(orderID string) (*models.GridLevel, bool) {
	if l.epoch == nil {
		return nil, false
	}
	idx := -1
	for i, lvl := range l.epoch.Levels {
		if lvl.Status == models.LevelOpen && lvl.OrderID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	lvl := l.epoch.Levels[idx]
	fill := *lvl
	fill.Status = models.LevelFilled
	lvl.OrderID = ""

	if lvl.CaptureFor != 0 {
		for _, peer := range l.epoch.Levels {
			if peer.Index == lvl.CaptureFor && peer.Status == models.LevelFilled {
				peer.Status = models.LevelPlanned
			}
		}
		lvl.CaptureFor = 0
		lvl.Side = sideForIndex(lvl.Index)
		lvl.Status = models.LevelPlanned
		return &fill, true
	}

	lvl.Status = models.LevelFilled

	var adj *models.GridLevel
	if fill.Side == models.Buy && idx+1 < len(l.epoch.Levels) {
		adj = l.epoch.Levels[idx+1]
	} else if fill.Side == models.Sell && idx > 0 {
		adj = l.epoch.Levels[idx-1]
	}
	if adj != nil && adj.Status != models.LevelFilled {
		adj.CaptureFor = lvl.Index
		adj.Side = fill.Side.Opposite()
	}
	return &fill, true
}

// MarkOpen binds a freshly placed order to its level.
func (l *Ladder) MarkOpen(lvl *models.GridLevel, orderID string) {
	lvl.OrderID = orderID
	lvl.Status = models.LevelOpen
}

// MarkCancelled releases the level owning orderID, if any.
func (l *Ladder) MarkCancelled(orderID string) {
	if l.epoch == nil {
		return
	}
	for _, lvl := range l.epoch.Levels {
		if lvl.OrderID == orderID {
			lvl.OrderID = ""
			if lvl.Status == models.LevelOpen {
				lvl.Status = models.LevelPlanned
			}
			return
		}
	}
}

// OpenLevelCount returns the number of levels with a live order.
func (l *Ladder) OpenLevelCount() int {
	if l.epoch == nil {
		return 0
	}
	n := 0
	for _, lvl := range l.epoch.Levels {
		if lvl.Status == models.LevelOpen {
			n++
		}
	}
	return n
}

// OpenOrderIDs returns the order IDs currently bound to levels.
func (l *Ladder) OpenOrderIDs() []string {
	if l.epoch == nil {
		return nil
	}
	ids := make([]string, 0, len(l.epoch.Levels))
	for _, lvl := range l.epoch.Levels {
		if lvl.Status == models.LevelOpen && lvl.OrderID != "" {
			ids = append(ids, lvl.OrderID)
		}
	}
	return ids
}

func sideForIndex(i int) models.Side {
	if i < 0 {
		return models.Buy
	}
	return models.Sell
}

// QuantizeToTick floors value onto the price grid defined by tick, using
// the tick string's decimal places to avoid float drift ("0.01" -> 2dp).
func QuantizeToTick(value float64, tick string) float64 {
	if !strings.Contains(tick, ".") {
		return math.Floor(value)
	}
	decimalPlaces := len(tick) - strings.Index(tick, ".") - 1

	factor := math.Pow(10, float64(decimalPlaces))
	adjusted := math.Floor(value*factor) / factor

	final, _ := strconv.ParseFloat(fmt.Sprintf("%.*f", decimalPlaces, adjusted), 64)
	return final
}
