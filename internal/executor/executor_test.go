package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"edgex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExchange records calls and serves scripted errors in order.
type mockExchange struct {
	placed    []*models.OrderRequest
	cancelled []string
	placeErrs []error
	nextID    int
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req *models.OrderRequest) (string, error) {
	m.placed = append(m.placed, req)
	if len(m.placeErrs) > 0 {
		err := m.placeErrs[0]
		m.placeErrs = m.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	m.nextID++
	return fmt.Sprintf("mock-%d", m.nextID), nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, orderID string) error {
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockExchange) GetOrderBookDepth(ctx context.Context, instrument string, limit int) (*models.OrderBook, error) {
	return nil, errors.New("not implemented")
}

func (m *mockExchange) GetPosition(ctx context.Context, instrument string) (*models.ExchangePosition, error) {
	return &models.ExchangePosition{}, nil
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, instrument string) ([]*models.Order, error) {
	return nil, nil
}

func (m *mockExchange) GetInstrumentInfo(ctx context.Context, instrument string) (*models.InstrumentInfo, error) {
	return &models.InstrumentInfo{Instrument: instrument, TickSize: "0.01"}, nil
}

func (m *mockExchange) GetBalance(ctx context.Context) (*models.Balance, error) {
	return &models.Balance{}, nil
}

func (m *mockExchange) Close() error { return nil }

func execConfig() *models.Config {
	return &models.Config{
		Instrument:          "ETHUSD",
		MaxRetries:          1,
		RetryInitialDelayMs: 1,
	}
}

func priceState() models.PriceState {
	return models.PriceState{BestBid: 3999.5, BestAsk: 4000.5, MidPrice: 4000}
}

func TestPlaceBuildsLimitOrder(t *testing.T) {
	mock := &mockExchange{}
	exec := New(mock, execConfig())

	lvl := &models.GridLevel{Index: -1, Price: 3980, Side: models.Buy, TargetSize: 0.01}
	orderID, err := exec.Place(context.Background(), lvl)

	require.NoError(t, err)
	assert.Equal(t, "mock-1", orderID)
	require.Len(t, mock.placed, 1)

	req := mock.placed[0]
	assert.Equal(t, "ETHUSD", req.Instrument)
	assert.Equal(t, models.Buy, req.Side)
	assert.Equal(t, models.OrderTypeLimit, req.Type)
	assert.Equal(t, 3980.0, req.Price)
	assert.Equal(t, 0.01, req.Size)
	assert.True(t, strings.HasPrefix(req.ClientOrderID, "x-grid-"))
}

func TestPlaceWrapsRejection(t *testing.T) {
	mock := &mockExchange{placeErrs: []error{errors.New("insufficient margin")}}
	exec := New(mock, execConfig())

	_, err := exec.Place(context.Background(), &models.GridLevel{Price: 3980, Side: models.Buy, TargetSize: 0.01})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPlacementRejected))
}

func TestCloseAllFlatIsNoOp(t *testing.T) {
	mock := &mockExchange{}
	exec := New(mock, execConfig())

	err := exec.CloseAll(context.Background(), models.Position{Size: 0}, priceState())

	require.NoError(t, err)
	assert.Empty(t, mock.placed)
}

func TestCloseAllLongUsesMarketSell(t *testing.T) {
	mock := &mockExchange{}
	exec := New(mock, execConfig())

	err := exec.CloseAll(context.Background(), models.Position{Size: 0.1, EntryPrice: 4000}, priceState())

	require.NoError(t, err)
	require.Len(t, mock.placed, 1)
	req := mock.placed[0]
	assert.Equal(t, models.Sell, req.Side)
	assert.Equal(t, models.OrderTypeMarket, req.Type)
	assert.Equal(t, 0.1, req.Size)
}

func TestCloseAllShortUsesMarketBuy(t *testing.T) {
	mock := &mockExchange{}
	exec := New(mock, execConfig())

	err := exec.CloseAll(context.Background(), models.Position{Size: -0.25, EntryPrice: 4000}, priceState())

	require.NoError(t, err)
	require.Len(t, mock.placed, 1)
	assert.Equal(t, models.Buy, mock.placed[0].Side)
	assert.Equal(t, 0.25, mock.placed[0].Size)
}

func TestCloseAllFallsBackToLimit(t *testing.T) {
	// both market attempts fail, the first limit attempt succeeds
	mock := &mockExchange{placeErrs: []error{
		errors.New("market down"),
		errors.New("market down"),
	}}
	exec := New(mock, execConfig())

	err := exec.CloseAll(context.Background(), models.Position{Size: 0.1, EntryPrice: 4000}, priceState())

	require.NoError(t, err)
	require.Len(t, mock.placed, 3)
	assert.Equal(t, models.OrderTypeMarket, mock.placed[0].Type)
	assert.Equal(t, models.OrderTypeMarket, mock.placed[1].Type)

	fallback := mock.placed[2]
	assert.Equal(t, models.OrderTypeLimit, fallback.Type)
	assert.Equal(t, models.Sell, fallback.Side)
	// a sell-to-close rests at the bid
	assert.Equal(t, 3999.5, fallback.Price)
}

func TestCloseAllShortFallbackAtAsk(t *testing.T) {
	mock := &mockExchange{placeErrs: []error{
		errors.New("market down"),
		errors.New("market down"),
	}}
	exec := New(mock, execConfig())

	err := exec.CloseAll(context.Background(), models.Position{Size: -0.1, EntryPrice: 4000}, priceState())

	require.NoError(t, err)
	require.Len(t, mock.placed, 3)
	fallback := mock.placed[2]
	assert.Equal(t, models.Buy, fallback.Side)
	assert.Equal(t, 4000.5, fallback.Price)
}

func TestCloseAllExhaustionIsFatal(t *testing.T) {
	boom := errors.New("exchange down")
	mock := &mockExchange{placeErrs: []error{boom, boom, boom, boom}}
	exec := New(mock, execConfig())

	err := exec.CloseAll(context.Background(), models.Position{Size: 0.1, EntryPrice: 4000}, priceState())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLiquidationFailed))
	// maxRetries+1 market attempts plus maxRetries+1 limit attempts
	assert.Len(t, mock.placed, 4)
}
