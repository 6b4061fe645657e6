// Package executor turns grid plans into exchange calls and owns the
// liquidation path. It holds no market state of its own.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"edgex-grid-bot-go/internal/exchange"
	"edgex-grid-bot-go/internal/idgen"
	"edgex-grid-bot-go/internal/logger"
	"edgex-grid-bot-go/internal/models"

	"github.com/jpillora/backoff"
)

type Executor struct {
	ex  exchange.Exchange
	cfg *models.Config
}

func New(ex exchange.Exchange, cfg *models.Config) *Executor {
	return &Executor{ex: ex, cfg: cfg}
}

// Place submits a limit order for a grid level and returns the exchange
// order ID. A rejection is not fatal: the error wraps ErrPlacementRejected
// and the caller leaves the level planned for the next tick.
func (e *Executor) Place(ctx context.Context, lvl *models.GridLevel) (string, error) {
	req := &models.OrderRequest{
		Instrument:    e.cfg.Instrument,
		Side:          lvl.Side,
		Type:          models.OrderTypeLimit,
		Price:         lvl.Price,
		Size:          lvl.TargetSize,
		ClientOrderID: idgen.NewClientOrderID(),
	}
	orderID, err := e.ex.PlaceOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %s %v @ %v: %v",
			models.ErrPlacementRejected, lvl.Side, lvl.TargetSize, lvl.Price, err)
	}
	return orderID, nil
}

// Cancel revokes a single order.
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	return e.ex.CancelOrder(ctx, orderID)
}

// CloseAll flattens the position: market order first, then an aggressive
// limit at the opposite touch if the market path keeps failing. Each stage
// gets maxRetries+1 attempts with exponential backoff between them. A flat
// position returns immediately with zero exchange calls. Exhausting both
// stages returns an error wrapping ErrLiquidationFailed.
func (e *Executor) CloseAll(ctx context.Context, pos models.Position, price models.PriceState) error {
	if pos.Size == 0 {
		return nil
	}

	side := models.Sell
	if pos.Size < 0 {
		side = models.Buy
	}
	size := math.Abs(pos.Size)

	b := e.newBackoff()
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, b.Duration())
		}
		req := &models.OrderRequest{
			Instrument:    e.cfg.Instrument,
			Side:          side,
			Type:          models.OrderTypeMarket,
			Size:          size,
			ClientOrderID: idgen.NewClientOrderID(),
		}
		if _, err := e.ex.PlaceOrder(ctx, req); err != nil {
			lastErr = err
			logger.S().Warnw("Market close attempt failed",
				"attempt", attempt+1, "side", side, "size", size, "error", err)
			continue
		}
		logger.S().Infow("Position closed with market order", "side", side, "size", size)
		return nil
	}

	// limit fallback crosses the book from the close side: a buy-to-close
	// lifts the ask, a sell-to-close hits the bid
	limitPrice := price.BestBid
	if side == models.Buy {
		limitPrice = price.BestAsk
	}

	b.Reset()
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, b.Duration())
		}
		req := &models.OrderRequest{
			Instrument:    e.cfg.Instrument,
			Side:          side,
			Type:          models.OrderTypeLimit,
			Price:         limitPrice,
			Size:          size,
			ClientOrderID: idgen.NewClientOrderID(),
		}
		if _, err := e.ex.PlaceOrder(ctx, req); err != nil {
			lastErr = err
			logger.S().Warnw("Limit close attempt failed",
				"attempt", attempt+1, "side", side, "price", limitPrice, "error", err)
			continue
		}
		logger.S().Infow("Position close submitted as limit order",
			"side", side, "price", limitPrice, "size", size)
		return nil
	}

	return fmt.Errorf("%w: market and limit close both exhausted %d attempts: %v",
		models.ErrLiquidationFailed, e.cfg.MaxRetries+1, lastErr)
}

func (e *Executor) newBackoff() *backoff.Backoff {
	min := time.Duration(e.cfg.RetryInitialDelayMs) * time.Millisecond
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	return &backoff.Backoff{Min: min, Max: 5 * time.Second, Factor: 2, Jitter: true}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
