// Package risk holds the stop-loss predicate. It is pure: no exchange
// calls, no logging, no state.
package risk

import (
	"math"

	"edgex-grid-bot-go/internal/models"
)

// CheckStopLoss reports whether the position has moved far enough against
// its entry to trigger liquidation. A flat position never triggers, and a
// missing entry price cannot be evaluated. The move is measured as an
// absolute percentage of the entry price, so a large favorable move trips
// the threshold the same way an adverse one does.
func CheckStopLoss(pos models.Position, price models.PriceState, cfg *models.Config) bool {
	if pos.Size == 0 || pos.EntryPrice <= 0 {
		return false
	}
	changePercent := math.Abs(price.MidPrice-pos.EntryPrice) / pos.EntryPrice * 100
	return changePercent >= cfg.StopLossPercent
}
