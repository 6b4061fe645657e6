package persistence

import "edgex-grid-bot-go/internal/models"

// StateRepository persists the engine state across restarts so a crash or
// redeploy does not lose the position ledger. Implementations hide the
// underlying store from the rest of the application.
type StateRepository interface {
	// SaveState atomically replaces the persisted engine state.
	SaveState(state *models.EngineState) error

	// LoadState returns the persisted engine state, or (nil, nil) when
	// nothing has been saved yet.
	LoadState() (*models.EngineState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
