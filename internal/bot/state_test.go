package bot

import (
	"testing"

	"edgex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.StateInitializing, models.StateGridActive, true},
		{models.StateInitializing, models.StateLiquidating, true},
		{models.StateInitializing, models.StateStopped, true},
		{models.StateGridActive, models.StateLiquidating, true},
		{models.StateGridActive, models.StateStopped, true},
		{models.StateLiquidating, models.StateStopped, true},

		// The engine never re-enters trading after liquidation started.
		{models.StateLiquidating, models.StateGridActive, false},
		{models.StateLiquidating, models.StateInitializing, false},
		{models.StateGridActive, models.StateInitializing, false},
		{models.StateStopped, models.StateInitializing, false},
		{models.StateStopped, models.StateGridActive, false},
		{models.StateStopped, models.StateLiquidating, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(models.StateStopped))
	assert.False(t, IsTerminal(models.StateInitializing))
	assert.False(t, IsTerminal(models.StateGridActive))
	assert.False(t, IsTerminal(models.StateLiquidating))
}
