package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"edgex-grid-bot-go/internal/models"
	"edgex-grid-bot-go/internal/position"
)

// SimExchange 实现了 Exchange 接口，通过内存撮合模拟交易所行为以进行回测。
// 与旧版回测引擎不同，这里的持仓是带符号的净头寸：负数表示空头。
type SimExchange struct {
	Instrument     string
	InitialBalance float64
	TakerFeeRate   float64
	MakerFeeRate   float64
	SpreadPercent  float64

	bestBid     float64
	bestAsk     float64
	lastPrice   float64
	currentTime time.Time

	acct        *position.Accountant
	orders      map[string]*models.Order
	nextOrderID int64

	TotalFees   float64
	TradeLog    []models.ClosedTrade
	EquityCurve []float64

	minOrderSize float64

	mu sync.Mutex
}

// NewSimExchange 创建一个新的 SimExchange 实例。
func NewSimExchange(cfg *models.Config) *SimExchange {
	return &SimExchange{
		Instrument:     cfg.Instrument,
		InitialBalance: cfg.InitialBalance,
		TakerFeeRate:   cfg.TakerFeeRate,
		MakerFeeRate:   cfg.MakerFeeRate,
		SpreadPercent:  cfg.SimSpreadPercent,
		acct:           position.NewAccountant(),
		orders:         make(map[string]*models.Order),
		nextOrderID:    1,
		TradeLog:       make([]models.ClosedTrade, 0),
		EquityCurve:    make([]float64, 0, 10000),
		minOrderSize:   0.001,
	}
}

// Step 是回测的核心，按 O->L->H->C 的路径模拟K线内部的价格变动并
// 触发挂单成交检查，比仅使用高低点更接近真实的成交顺序。最后基于
// 收盘价更新盘口和权益曲线。
func (e *SimExchange) Step(open, high, low, close float64, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentTime = timestamp

	e.fillRestingOrdersAt(open)
	e.fillRestingOrdersAt(low)
	e.fillRestingOrdersAt(high)
	e.fillRestingOrdersAt(close)

	e.lastPrice = close
	halfSpread := close * e.SpreadPercent / 200
	e.bestBid = close - halfSpread
	e.bestAsk = close + halfSpread

	e.EquityCurve = append(e.EquityCurve, e.equityLocked())
}

// fillRestingOrdersAt 检查所有挂单是否能在指定价格点成交。
// 必须在持有锁的情况下调用。
func (e *SimExchange) fillRestingOrdersAt(price float64) {
	var ids []int64
	for id := range e.orders {
		n, _ := strconv.ParseInt(id, 10, 64)
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, n := range ids {
		order := e.orders[strconv.FormatInt(n, 10)]
		if order.Status != models.OrderStatusOpen {
			continue
		}
		shouldFill := false
		if order.Side == models.Buy && price <= order.Price {
			shouldFill = true
		} else if order.Side == models.Sell && price >= order.Price {
			shouldFill = true
		}
		if shouldFill {
			// 挂单按限价成交，按 Maker 计费
			e.fillOrder(order, order.Price, e.MakerFeeRate)
		}
	}
}

// fillOrder 处理一笔成交：计费、更新净头寸，平仓时记录一笔完整交易。
// 必须在持有锁的情况下调用。
func (e *SimExchange) fillOrder(order *models.Order, execPrice, feeRate float64) {
	order.Status = models.OrderStatusFilled

	fee := execPrice * order.Size * feeRate
	e.TotalFees += fee

	oldSize := e.acct.Size()
	entryBefore := e.acct.Position(execPrice).EntryPrice
	delta := order.Size
	if order.Side == models.Sell {
		delta = -order.Size
	}
	reducing := oldSize != 0 && (oldSize > 0) != (delta > 0)

	realized := e.acct.ApplyFill(order.Side, execPrice, order.Size)

	if reducing {
		closedSize := math.Min(order.Size, math.Abs(oldSize))
		e.TradeLog = append(e.TradeLog, models.ClosedTrade{
			Instrument: e.Instrument,
			Side:       order.Side,
			Size:       closedSize,
			EntryPrice: entryBefore,
			ExitPrice:  execPrice,
			Pnl:        realized - fee,
			Fee:        fee,
			ClosedAt:   e.currentTime,
		})
	}
}

// equityLocked 计算当前账户总权益。必须在持有锁的情况下调用。
func (e *SimExchange) equityLocked() float64 {
	return e.InitialBalance + e.acct.RealizedPnl() - e.TotalFees + e.acct.Position(e.lastPrice).UnrealizedPnl
}

// --- Exchange 接口实现 ---

func (e *SimExchange) GetOrderBookDepth(ctx context.Context, instrument string, limit int) (*models.OrderBook, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastPrice <= 0 {
		return nil, fmt.Errorf("%w: 回测尚未注入行情", models.ErrQuoteUnavailable)
	}
	return &models.OrderBook{
		Bids: []models.PriceLevel{{Price: e.bestBid, Size: 1000}},
		Asks: []models.PriceLevel{{Price: e.bestAsk, Size: 1000}},
	}, nil
}

func (e *SimExchange) PlaceOrder(ctx context.Context, req *models.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Size < e.minOrderSize {
		return "", &models.APIError{
			Code: "ORDER_SIZE_TOO_SMALL",
			Msg:  fmt.Sprintf("size %v below minimum %v", req.Size, e.minOrderSize),
		}
	}

	orderID := strconv.FormatInt(e.nextOrderID, 10)
	e.nextOrderID++

	order := &models.Order{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Price:         req.Price,
		Size:          req.Size,
		Side:          req.Side,
		Status:        models.OrderStatusOpen,
	}

	switch req.Type {
	case models.OrderTypeMarket:
		if e.lastPrice <= 0 {
			return "", &models.APIError{Code: "NO_MARKET_PRICE", Msg: "no market data yet"}
		}
		execPrice := e.bestAsk
		if req.Side == models.Sell {
			execPrice = e.bestBid
		}
		order.Price = execPrice
		e.orders[orderID] = order
		e.fillOrder(order, execPrice, e.TakerFeeRate)
	case models.OrderTypeLimit:
		e.orders[orderID] = order
		// 跨越盘口的限价单立即按吃单成交
		if e.lastPrice > 0 {
			if req.Side == models.Buy && req.Price >= e.bestAsk {
				e.fillOrder(order, req.Price, e.TakerFeeRate)
			} else if req.Side == models.Sell && req.Price <= e.bestBid {
				e.fillOrder(order, req.Price, e.TakerFeeRate)
			}
		}
	default:
		return "", &models.APIError{Code: "UNSUPPORTED_ORDER_TYPE", Msg: req.Type}
	}

	return orderID, nil
}

func (e *SimExchange) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("订单 %s 在回测中未找到", orderID)
	}
	if order.Status == models.OrderStatusOpen {
		order.Status = models.OrderStatusCanceled
	}
	return nil
}

func (e *SimExchange) GetPosition(ctx context.Context, instrument string) (*models.ExchangePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.acct.Position(e.lastPrice)
	return &models.ExchangePosition{Size: pos.Size, EntryPrice: pos.EntryPrice}, nil
}

func (e *SimExchange) GetOpenOrders(ctx context.Context, instrument string) ([]*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	openOrders := make([]*models.Order, 0)
	for _, order := range e.orders {
		if order.Status == models.OrderStatusOpen {
			orderCopy := *order
			openOrders = append(openOrders, &orderCopy)
		}
	}
	return openOrders, nil
}

// GetInstrumentInfo 为回测提供一个模拟的交易规则，避免网络调用。
func (e *SimExchange) GetInstrumentInfo(ctx context.Context, instrument string) (*models.InstrumentInfo, error) {
	return &models.InstrumentInfo{
		ContractID:   "sim-" + instrument,
		Instrument:   instrument,
		TickSize:     "0.01",
		StepSize:     "0.001",
		MinOrderSize: strconv.FormatFloat(e.minOrderSize, 'f', -1, 64),
	}, nil
}

func (e *SimExchange) GetBalance(ctx context.Context) (*models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.acct.Position(e.lastPrice)
	equity := e.equityLocked()
	return &models.Balance{
		TotalEquity:     equity,
		AvailableAmount: equity,
		UnrealizedPnl:   pos.UnrealizedPnl,
	}, nil
}

func (e *SimExchange) Close() error {
	return nil
}

// Summary 汇总整个回测过程，供报告模块使用。
func (e *SimExchange) Summary() *models.BacktestSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	final := e.InitialBalance
	if len(e.EquityCurve) > 0 {
		final = e.EquityCurve[len(e.EquityCurve)-1]
	}
	trades := make([]models.ClosedTrade, len(e.TradeLog))
	copy(trades, e.TradeLog)
	curve := make([]float64, len(e.EquityCurve))
	copy(curve, e.EquityCurve)

	return &models.BacktestSummary{
		Instrument:     e.Instrument,
		InitialBalance: e.InitialBalance,
		FinalEquity:    final,
		TotalFees:      e.TotalFees,
		Trades:         trades,
		EquityCurve:    curve,
	}
}
