package exchange

import (
	"context"

	"edgex-grid-bot-go/internal/models"
)

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得网格机器人可以在真实交易和回测之间轻松切换。
type Exchange interface {
	// GetOrderBookDepth 获取指定合约的订单簿深度。
	GetOrderBookDepth(ctx context.Context, instrument string, limit int) (*models.OrderBook, error)
	// PlaceOrder 下单并返回交易所分配的订单ID。
	PlaceOrder(ctx context.Context, req *models.OrderRequest) (string, error)
	// CancelOrder 按订单ID撤单。
	CancelOrder(ctx context.Context, orderID string) error
	// GetPosition 获取指定合约的净持仓。空仓返回 Size 为 0 的结果而不是 nil。
	GetPosition(ctx context.Context, instrument string) (*models.ExchangePosition, error)
	// GetOpenOrders 获取指定合约的全部挂单。
	GetOpenOrders(ctx context.Context, instrument string) ([]*models.Order, error)
	// GetInstrumentInfo 获取合约的交易规则（价格精度、数量精度等）。
	GetInstrumentInfo(ctx context.Context, instrument string) (*models.InstrumentInfo, error)
	// GetBalance 获取账户权益信息。
	GetBalance(ctx context.Context) (*models.Balance, error)
	// Close 释放底层连接资源。
	Close() error
}
