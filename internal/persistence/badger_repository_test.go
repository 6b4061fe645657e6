package persistence

import (
	"testing"
	"time"

	"edgex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerRepositoryRoundTrip(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	state := &models.EngineState{
		CycleID:      "cycle-1",
		Version:      1,
		Instrument:   "ETHUSD",
		Lifecycle:    models.StateGridActive,
		PositionSize: -0.03,
		EntryPrice:   4012.5,
		RealizedPnl:  7.25,
		TickCount:    42,
		FillCount:    6,
		Epoch: &models.LadderEpoch{
			EpochID:     "epoch-1",
			CenterPrice: 4000,
			LowerBound:  3800,
			UpperBound:  4200,
			Levels: []*models.GridLevel{
				{Index: -1, Price: 3980, Side: models.Buy, TargetSize: 0.01, Status: models.LevelOpen, OrderID: "o-1"},
				{Index: 1, Price: 4020, Side: models.Sell, TargetSize: 0.01, Status: models.LevelPlanned},
			},
			CreatedAt: time.Now().UTC(),
		},
		LastUpdateTime: time.Now().UTC(),
	}

	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, state.CycleID, loaded.CycleID)
	assert.Equal(t, state.Lifecycle, loaded.Lifecycle)
	assert.Equal(t, state.PositionSize, loaded.PositionSize)
	assert.Equal(t, state.EntryPrice, loaded.EntryPrice)
	assert.Equal(t, state.RealizedPnl, loaded.RealizedPnl)
	assert.Equal(t, state.TickCount, loaded.TickCount)
	require.NotNil(t, loaded.Epoch)
	require.Len(t, loaded.Epoch.Levels, 2)
	assert.Equal(t, "o-1", loaded.Epoch.Levels[0].OrderID)
	assert.Equal(t, models.LevelPlanned, loaded.Epoch.Levels[1].Status)
}

func TestBadgerRepositoryOverwrite(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveState(&models.EngineState{CycleID: "first", Version: 1}))
	require.NoError(t, repo.SaveState(&models.EngineState{CycleID: "second", Version: 2}))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "second", loaded.CycleID)
	assert.Equal(t, 2, loaded.Version)
}

func TestBadgerRepositoryEmpty(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	loaded, err := repo.LoadState()
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}
