package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the engine distinguishes between.
// Callers branch with errors.Is; everything else is absorbed and retried on
// the next tick.
var (
	// ErrQuoteUnavailable means the order book was empty or malformed. The
	// previous price state stays valid and the tick continues.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrPlacementRejected means the exchange refused a single grid order.
	// The level stays PLANNED and is retried on the next reconciliation.
	ErrPlacementRejected = errors.New("placement rejected")

	// ErrLiquidationFailed means both the market order and the limit
	// fallback exhausted their retries while closing the position. Fatal
	// for the current run.
	ErrLiquidationFailed = errors.New("liquidation failed")

	// ErrConfigInvalid is returned by startup validation. The engine never
	// runs with an invalid config.
	ErrConfigInvalid = errors.New("invalid config")
)

// APIError 定义了交易所API返回的错误信息结构
type APIError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 APIError 实现了 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: code=%s, msg=%s", e.Code, e.Msg)
}
