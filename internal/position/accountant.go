// Package position tracks the net signed position of a single instrument
// from its fill stream, with periodic correction from the exchange.
package position

import (
	"math"

	"edgex-grid-bot-go/internal/models"
)

// dust below this size is treated as flat
const flatEpsilon = 1e-12

// Accountant maintains size, volume-weighted entry price and realized PnL.
// It is not safe for concurrent use; callers serialize access.
type Accountant struct {
	size        float64
	entryPrice  float64
	realizedPnl float64
}

func NewAccountant() *Accountant {
	return &Accountant{}
}

// ApplyFill nets a fill into the position and returns the PnL realized by
// it, if any. Extending keeps a volume-weighted entry price, reducing
// realizes against it, and crossing through zero realizes the old position
// in full and restarts the entry at the fill price.
func (a *Accountant) ApplyFill(side models.Side, price, size float64) float64 {
	delta := size
	if side == models.Sell {
		delta = -size
	}
	old := a.size
	next := old + delta

	var realized float64
	switch {
	case old == 0 || (old > 0) == (delta > 0):
		a.entryPrice = (a.entryPrice*math.Abs(old) + price*math.Abs(delta)) / math.Abs(next)
	case math.Abs(delta) <= math.Abs(old):
		realized = pnlOnClose(old, a.entryPrice, price, math.Abs(delta))
	default:
		realized = pnlOnClose(old, a.entryPrice, price, math.Abs(old))
		a.entryPrice = price
	}

	if math.Abs(next) < flatEpsilon {
		next = 0
		a.entryPrice = 0
	}
	a.size = next
	a.realizedPnl += realized
	return realized
}

// SyncExchange overwrites the internal view with the exchange-reported
// position. A reported size is always authoritative; a missing entry price
// falls back to the internal one, or to the current mid as a last resort so
// the stop-loss has a reference. A nil report leaves the internal view in
// place.
func (a *Accountant) SyncExchange(reported *models.ExchangePosition, mid float64) {
	if reported == nil {
		if a.size != 0 && a.entryPrice == 0 && mid > 0 {
			a.entryPrice = mid
		}
		return
	}
	a.size = reported.Size
	if a.size == 0 {
		a.entryPrice = 0
		return
	}
	if reported.EntryPrice > 0 {
		a.entryPrice = reported.EntryPrice
	} else if a.entryPrice == 0 && mid > 0 {
		a.entryPrice = mid
	}
}

// Position derives the full position view at the given mid price.
// Unrealized PnL is computed on read, never stored.
func (a *Accountant) Position(mid float64) models.Position {
	pos := models.Position{
		Size:        a.size,
		EntryPrice:  a.entryPrice,
		RealizedPnl: a.realizedPnl,
	}
	if a.size != 0 && a.entryPrice > 0 && mid > 0 {
		pos.UnrealizedPnl = a.size * (mid - a.entryPrice)
	}
	return pos
}

// Restore reloads a persisted position, used at startup.
func (a *Accountant) Restore(size, entryPrice, realizedPnl float64) {
	a.size = size
	a.entryPrice = entryPrice
	a.realizedPnl = realizedPnl
}

func (a *Accountant) Size() float64 {
	return a.size
}

func (a *Accountant) RealizedPnl() float64 {
	return a.realizedPnl
}

func pnlOnClose(oldSize, entry, price, closed float64) float64 {
	if oldSize > 0 {
		return (price - entry) * closed
	}
	return (entry - price) * closed
}
