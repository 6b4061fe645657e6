package config

import (
	"os"
	"path/filepath"
	"testing"

	"edgex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *models.Config {
	return &models.Config{
		Instrument:           "ETHUSD",
		GridCount:            10,
		GridSpacingPercent:   0.5,
		OrderSize:            0.01,
		MaxPositionSize:      0.1,
		PriceRangePercent:    5.0,
		StopLossPercent:      10.0,
		CheckIntervalSeconds: 5,
		MaxRetries:           3,
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"instrument": "ETHUSD",
		"grid_count": 12,
		"grid_spacing_percent": 0.4,
		"order_size": 0.02,
		"max_position_size": 0.2,
		"price_range_percent": 6.0,
		"stop_loss_percent": 8.0,
		"check_interval_seconds": 7,
		"max_retries": 2
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSD", cfg.Instrument)
	assert.Equal(t, 12, cfg.GridCount)
	assert.Equal(t, 0.4, cfg.GridSpacingPercent)
	assert.Equal(t, 0.02, cfg.OrderSize)
	assert.Equal(t, 0.2, cfg.MaxPositionSize)
	assert.Equal(t, 6.0, cfg.PriceRangePercent)
	assert.Equal(t, 8.0, cfg.StopLossPercent)
	assert.Equal(t, 7, cfg.CheckIntervalSeconds)
	assert.Equal(t, 2, cfg.MaxRetries)

	assert.Equal(t, 500, cfg.RetryInitialDelayMs)
	assert.Equal(t, 12, cfg.StatusReportTicks)
	assert.Equal(t, 10000.0, cfg.InitialBalance)
	assert.Equal(t, "https://pro.edgex.exchange", cfg.Exchange.BaseURL)
	assert.Equal(t, "wss://quote.edgex.exchange", cfg.Exchange.WSBaseURL)
	assert.Equal(t, 10000, cfg.Exchange.RequestTimeoutMs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Output)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Config)
	}{
		{"empty instrument", func(c *models.Config) { c.Instrument = "" }},
		{"grid count below two", func(c *models.Config) { c.GridCount = 1 }},
		{"zero spacing", func(c *models.Config) { c.GridSpacingPercent = 0 }},
		{"negative spacing", func(c *models.Config) { c.GridSpacingPercent = -0.5 }},
		{"zero order size", func(c *models.Config) { c.OrderSize = 0 }},
		{"zero max position", func(c *models.Config) { c.MaxPositionSize = 0 }},
		{"zero price range", func(c *models.Config) { c.PriceRangePercent = 0 }},
		{"zero stop loss", func(c *models.Config) { c.StopLossPercent = 0 }},
		{"zero interval", func(c *models.Config) { c.CheckIntervalSeconds = 0 }},
		{"negative retries", func(c *models.Config) { c.MaxRetries = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfigInvalid)
		})
	}
}

func TestValidateAcceptsZeroRetries(t *testing.T) {
	cfg := validConfig()
	cfg.MaxRetries = 0
	assert.NoError(t, Validate(cfg))
}

// A grid wider than the price range is legal, the surplus levels are just
// never laid out.
func TestValidateAcceptsOversizedGrid(t *testing.T) {
	cfg := validConfig()
	cfg.GridCount = 30
	cfg.GridSpacingPercent = 1.0
	cfg.PriceRangePercent = 5.0
	assert.NoError(t, Validate(cfg))
}

func TestWriteDefaultProducesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, WriteDefault(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSD", cfg.Instrument)
	assert.Equal(t, 10, cfg.GridCount)
	assert.True(t, cfg.RestartOnError)

	// refuses to clobber an existing file
	assert.Error(t, WriteDefault(path))
}
