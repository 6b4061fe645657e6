package bot

import "edgex-grid-bot-go/internal/models"

// ValidTransitions enumerates the lifecycle edges the engine may take.
// Anything not listed here is a programming error, not a market condition.
// Liquidation is a one-way door: once entered, the only exit is STOPPED,
// and a stopped engine never trades again within the same process.
var ValidTransitions = map[string][]string{
	models.StateInitializing: {models.StateGridActive, models.StateLiquidating, models.StateStopped},
	models.StateGridActive:   {models.StateLiquidating, models.StateStopped},
	models.StateLiquidating:  {models.StateStopped},
	models.StateStopped:      {},
}

// CanTransition reports whether the lifecycle may move from one state to
// another.
func CanTransition(from, to string) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(state string) bool {
	return len(ValidTransitions[state]) == 0
}
