package downloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxySymbol(t *testing.T) {
	assert.Equal(t, "ETHUSDT", ProxySymbol("ETHUSD"))
	assert.Equal(t, "BTCUSDT", ProxySymbol("BTCUSD"))
	assert.Equal(t, "ETHUSDT", ProxySymbol("ETHUSDT"))
	assert.Equal(t, "SOLEUR", ProxySymbol("SOLEUR"))
}

func TestLoadCandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klines.csv")
	content := "open_time,open,high,low,close,volume,close_time\n" +
		"1700000000000,4000.5,4010,3990.25,4005,12.5,1700000059999\n" +
		"1700000060000,4005,4020,4000,4015.75,8.1,1700000119999\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	candles, err := LoadCandles(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, time.UnixMilli(1700000000000), first.OpenTime)
	assert.Equal(t, 4000.5, first.Open)
	assert.Equal(t, 4010.0, first.High)
	assert.Equal(t, 3990.25, first.Low)
	assert.Equal(t, 4005.0, first.Close)
	assert.Equal(t, 12.5, first.Volume)
	assert.Equal(t, time.UnixMilli(1700000059999), first.CloseTime)

	assert.Equal(t, 4015.75, candles[1].Close)
}

func TestLoadCandlesRejectsMalformedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klines.csv")
	content := "open_time,open,high,low,close,volume,close_time\n" +
		"1700000000000,not-a-number,4010,3990,4005,12.5,1700000059999\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadCandles(path)
	assert.Error(t, err)
}

func TestLoadCandlesMissingFile(t *testing.T) {
	_, err := LoadCandles(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestLoadCandlesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klines.csv")
	require.NoError(t, os.WriteFile(path, []byte("open_time,open,high,low,close,volume,close_time\n"), 0644))

	_, err := LoadCandles(path)
	assert.Error(t, err)
}
