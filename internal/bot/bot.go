package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"edgex-grid-bot-go/internal/exchange"
	"edgex-grid-bot-go/internal/executor"
	"edgex-grid-bot-go/internal/grid"
	"edgex-grid-bot-go/internal/logger"
	"edgex-grid-bot-go/internal/metrics"
	"edgex-grid-bot-go/internal/models"
	"edgex-grid-bot-go/internal/persistence"
	"edgex-grid-bot-go/internal/position"
	"edgex-grid-bot-go/internal/reporter"
	"edgex-grid-bot-go/internal/risk"

	"github.com/google/uuid"
)

const (
	// stateVersion 是持久化状态的格式版本号
	stateVersion = 1
	// depthLimit 是每次拉取订单簿的档位数
	depthLimit = 15
	// liquidationTimeout 是清仓流程的总超时时间
	liquidationTimeout = 2 * time.Minute
	// shutdownTimeout 是优雅关闭时撤单的总超时时间
	shutdownTimeout = 30 * time.Second
)

// GridBot 把价格刷新、成交检测、持仓同步、风控判定和网格对账串成一个
// 严格串行的周期循环。同一时刻最多只有一个周期在运行。
//
// mu 只保护 lifecycle 和 snap 这两个会被外部读取的字段；其余可变字段
// 全部由周期协程独占访问，不加锁。
type GridBot struct {
	cfg  *models.Config
	ex   exchange.Exchange
	repo persistence.StateRepository // 可为 nil，表示不持久化

	ladder *grid.Ladder
	acct   *position.Accountant
	exec   *executor.Executor

	info *models.InstrumentInfo

	// 周期协程独占的字段
	price          models.PriceState
	pricePopulated bool
	cycleID        string
	tickCount      int64
	fillCount      int64

	mu        sync.RWMutex
	lifecycle string
	snap      models.Snapshot
}

// NewGridBot 创建机器人实例并完成启动前的准备：拉取合约交易规则、
// 恢复持久化的仓位账本。此时还不会触碰任何订单。
func NewGridBot(cfg *models.Config, ex exchange.Exchange, repo persistence.StateRepository) (*GridBot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
	defer cancel()

	info, err := ex.GetInstrumentInfo(ctx, cfg.Instrument)
	if err != nil {
		return nil, fmt.Errorf("获取合约 %s 的交易规则失败: %w", cfg.Instrument, err)
	}

	tickSize := info.TickSize
	if cfg.TickSize != "" {
		tickSize = cfg.TickSize
	}

	b := &GridBot{
		cfg:       cfg,
		ex:        ex,
		repo:      repo,
		ladder:    grid.NewLadder(cfg, tickSize),
		acct:      position.NewAccountant(),
		exec:      executor.New(ex, cfg),
		info:      info,
		lifecycle: models.StateInitializing,
		cycleID:   uuid.NewString(),
	}
	metrics.SetLifecycle(b.lifecycle)

	if err := b.restoreState(); err != nil {
		return nil, err
	}
	return b, nil
}

// Run 启动实盘主循环。一个周期完整结束后才会安排下一个周期，绝不会
// 并发执行两个周期。收到取消信号时在周期间隙优雅退出；若取消发生在
// 清仓过程中，清仓会先完成。
func (b *GridBot) Run(ctx context.Context) error {
	interval := time.Duration(b.cfg.CheckIntervalSeconds) * time.Second
	logger.S().Infow("网格引擎启动",
		"instrument", b.cfg.Instrument,
		"interval", interval,
		"grid_count", b.cfg.GridCount,
		"grid_spacing_percent", b.cfg.GridSpacingPercent,
		"max_position_size", b.cfg.MaxPositionSize,
		"cycle_id", b.cycleID)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-timer.C:
		}

		if err := b.ProcessTick(ctx); err != nil {
			// 唯一的致命错误来自清仓失败
			return err
		}
		if b.Lifecycle() == models.StateStopped {
			logger.S().Infow("生命周期已终止, 主循环退出")
			return nil
		}

		timer.Reset(interval)
	}
}

// ProcessTick 执行一个完整的引擎周期。回测驱动器在每根 K 线后也直接
// 调用它。周期顺序固定：
//
//  1. 刷新盘口（失败时沿用上一次有效价格）
//  2. 查询挂单并检测成交
//  3. 以交易所报告的持仓校正内部账本
//  4. 止损判定（先于任何网格动作）
//  5. 网格对账：撤掉多余挂单、补上缺失档位
//
// 返回的错误只在清仓失败这类致命场景出现，其余异常都在周期内消化。
func (b *GridBot) ProcessTick(ctx context.Context) error {
	if state := b.Lifecycle(); state == models.StateStopped || state == models.StateLiquidating {
		return nil
	}

	b.tickCount++

	if err := b.refreshPrice(ctx); err != nil {
		metrics.RecordQuoteFailure()
		logger.S().Warnw("盘口刷新失败, 沿用上一次有效价格", "error", err)
	}
	if !b.pricePopulated {
		// 从未拿到过有效盘口，无法铺设网格
		logger.S().Warnw("尚无有效盘口, 跳过本周期")
		return nil
	}

	open, openErr := b.fetchOpenOrders(ctx)
	if openErr != nil {
		logger.S().Warnw("查询挂单失败, 本周期跳过网格对账", "error", openErr)
	} else {
		b.detectFills(open)
	}

	b.syncPosition(ctx)
	pos := b.acct.Position(b.price.MidPrice)

	if risk.CheckStopLoss(pos, b.price, b.cfg) {
		metrics.RecordStopLoss()
		logger.S().Warnw("触发止损, 开始清仓",
			"entry_price", pos.EntryPrice,
			"mid_price", b.price.MidPrice,
			"position_size", pos.Size,
			"stop_loss_percent", b.cfg.StopLossPercent)
		return b.liquidate(pos)
	}

	if openErr == nil {
		b.applyPlan(ctx, pos, open)
		if b.Lifecycle() == models.StateInitializing {
			b.transition(models.StateGridActive)
		}
	}

	b.persistState()
	b.publishSnapshot()
	return nil
}

// Lifecycle 返回当前生命周期状态。
func (b *GridBot) Lifecycle() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lifecycle
}

// Snapshot 返回最近一次完成周期的只读快照。
func (b *GridBot) Snapshot() models.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// transition 执行一次生命周期变换。非法变换说明存在程序缺陷，记录
// 错误并拒绝执行。
func (b *GridBot) transition(to string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !CanTransition(b.lifecycle, to) {
		logger.S().Errorw("非法的生命周期变换", "from", b.lifecycle, "to", to)
		return false
	}
	logger.S().Infow("生命周期变换", "from", b.lifecycle, "to", to)
	b.lifecycle = to
	metrics.SetLifecycle(to)
	return true
}

// refreshPrice 拉取订单簿并更新价格状态。任何异常都以行情不可用错误
// 返回，调用方保留旧的有效价格。
func (b *GridBot) refreshPrice(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout(b.cfg))
	defer cancel()

	book, err := b.ex.GetOrderBookDepth(callCtx, b.cfg.Instrument, depthLimit)
	if err != nil {
		return err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return fmt.Errorf("%w: 订单簿为空", models.ErrQuoteUnavailable)
	}
	bid, ask := book.Bids[0].Price, book.Asks[0].Price
	if bid <= 0 || ask <= 0 || bid >= ask {
		return fmt.Errorf("%w: 盘口异常 bid=%v ask=%v", models.ErrQuoteUnavailable, bid, ask)
	}

	b.price = models.PriceState{
		BestBid:   bid,
		BestAsk:   ask,
		MidPrice:  (bid + ask) / 2,
		UpdatedAt: time.Now(),
	}
	b.pricePopulated = true
	return nil
}

func (b *GridBot) fetchOpenOrders(ctx context.Context) ([]*models.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout(b.cfg))
	defer cancel()
	return b.ex.GetOpenOrders(callCtx, b.cfg.Instrument)
}

// detectFills 把不在挂单列表中的 OPEN 档位视作已成交，按档位的挂单
// 价格和数量落账。数量和方向随后会被交易所报告的持仓覆盖，这里主要
// 负责已实现盈亏的累计和档位的轮转。
func (b *GridBot) detectFills(open []*models.Order) {
	epoch := b.ladder.Epoch()
	if epoch == nil {
		return
	}

	present := make(map[string]bool, len(open))
	for _, o := range open {
		present[o.OrderID] = true
	}

	var filledIDs []string
	for _, lvl := range epoch.Levels {
		if lvl.Status == models.LevelOpen && lvl.OrderID != "" && !present[lvl.OrderID] {
			filledIDs = append(filledIDs, lvl.OrderID)
		}
	}

	for _, id := range filledIDs {
		fill, ok := b.ladder.MarkFilled(id)
		if !ok {
			continue
		}
		b.fillCount++
		realized := b.acct.ApplyFill(fill.Side, fill.Price, fill.TargetSize)
		metrics.RecordFill(fill.Side)
		logger.S().Infow("检测到网格成交",
			"order_id", id,
			"side", fill.Side,
			"price", fill.Price,
			"size", fill.TargetSize,
			"realized_pnl", realized)
	}
}

// syncPosition 用交易所报告的持仓覆盖内部账本。查询失败只记告警，
// 本周期沿用内部账本。
func (b *GridBot) syncPosition(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout(b.cfg))
	defer cancel()

	reported, err := b.ex.GetPosition(callCtx, b.cfg.Instrument)
	if err != nil {
		logger.S().Warnw("查询持仓失败, 沿用内部账本", "error", err)
		b.acct.SyncExchange(nil, b.price.MidPrice)
		return
	}
	b.acct.SyncExchange(reported, b.price.MidPrice)
}

// applyPlan 执行一次网格对账：先撤掉计划外的挂单，再按离市价从近到
// 远的顺序补齐缺失档位。单笔挂单被拒不是致命错误，该档位留到下一个
// 周期重试。
func (b *GridBot) applyPlan(ctx context.Context, pos models.Position, open []*models.Order) {
	plan := b.ladder.Reconcile(b.price, pos, open)
	if plan.Empty() {
		return
	}

	for _, orderID := range plan.ToCancel {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout(b.cfg))
		err := b.ex.CancelOrder(callCtx, orderID)
		cancel()
		if err != nil {
			logger.S().Warnw("撤单失败, 留待下一周期", "order_id", orderID, "error", err)
			continue
		}
		b.ladder.MarkCancelled(orderID)
		metrics.RecordCancel()
	}

	for _, lvl := range plan.ToPlace {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout(b.cfg))
		orderID, err := b.exec.Place(callCtx, lvl)
		cancel()
		if err != nil {
			logger.S().Warnw("网格挂单被拒, 下一周期重试",
				"side", lvl.Side, "price", lvl.Price, "error", err)
			metrics.RecordPlacementRejection()
			continue
		}
		b.ladder.MarkOpen(lvl, orderID)
		metrics.RecordPlacement(lvl.Side)
		logger.S().Infow("网格挂单成功",
			"order_id", orderID, "side", lvl.Side, "price", lvl.Price, "size", lvl.TargetSize)
	}
}

// liquidate 撤掉全部网格挂单并平掉整个仓位。即使外部 context 已经
// 取消，清仓也必须继续完成，因此这里使用独立的超时上下文。
func (b *GridBot) liquidate(pos models.Position) error {
	if !b.transition(models.StateLiquidating) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), liquidationTimeout)
	defer cancel()

	b.cancelAllOrders(ctx)

	err := b.exec.CloseAll(ctx, pos, b.price)
	b.transition(models.StateStopped)
	b.persistState()
	b.publishSnapshot()

	if err != nil {
		logger.S().Errorw("清仓失败, 机器人停止; 请立即人工处理残留仓位", "error", err)
		return err
	}
	logger.S().Infow("清仓完成, 机器人停止")
	return nil
}

// cancelAllOrders 撤销当前合约在交易所侧的全部挂单。查询失败时退而
// 撤掉本地记录的挂单。
func (b *GridBot) cancelAllOrders(ctx context.Context) {
	ids := b.ladder.OpenOrderIDs()
	if open, err := b.ex.GetOpenOrders(ctx, b.cfg.Instrument); err != nil {
		logger.S().Warnw("撤单前查询挂单失败, 按本地记录撤单", "error", err)
	} else {
		ids = ids[:0]
		for _, o := range open {
			ids = append(ids, o.OrderID)
		}
	}

	for _, id := range ids {
		if err := b.ex.CancelOrder(ctx, id); err != nil {
			logger.S().Warnw("撤单失败", "order_id", id, "error", err)
			continue
		}
		b.ladder.MarkCancelled(id)
		metrics.RecordCancel()
	}
}

// shutdown 在收到退出信号后撤掉挂单并保存状态。仓位保持不动，留给
// 重启后的实例接管。
func (b *GridBot) shutdown() {
	logger.S().Infow("收到退出信号, 开始优雅关闭")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	b.cancelAllOrders(ctx)
	b.transition(models.StateStopped)
	b.persistState()

	if size := b.acct.Size(); size != 0 {
		logger.S().Warnw("关闭时仍持有仓位, 未自动平仓", "position_size", size)
	}
	logger.S().Infow("优雅关闭完成")
}

// restoreState 从持久化存储恢复仓位账本和计数器。网格布局不恢复：
// 启动时总是围绕最新中心价重新铺设。
func (b *GridBot) restoreState() error {
	if b.repo == nil {
		return nil
	}
	state, err := b.repo.LoadState()
	if err != nil {
		return fmt.Errorf("加载持久化状态失败: %w", err)
	}
	if state == nil {
		return nil
	}
	if state.Instrument != "" && state.Instrument != b.cfg.Instrument {
		logger.S().Warnw("持久化状态属于其他合约, 忽略",
			"saved", state.Instrument, "configured", b.cfg.Instrument)
		return nil
	}

	b.acct.Restore(state.PositionSize, state.EntryPrice, state.RealizedPnl)
	b.tickCount = state.TickCount
	b.fillCount = state.FillCount
	if state.CycleID != "" {
		b.cycleID = state.CycleID
	}
	logger.S().Infow("已恢复持久化状态",
		"cycle_id", b.cycleID,
		"position_size", state.PositionSize,
		"entry_price", state.EntryPrice,
		"realized_pnl", state.RealizedPnl,
		"tick_count", state.TickCount)
	return nil
}

func (b *GridBot) persistState() {
	if b.repo == nil {
		return
	}
	pos := b.acct.Position(b.price.MidPrice)
	state := &models.EngineState{
		CycleID:        b.cycleID,
		Version:        stateVersion,
		Instrument:     b.cfg.Instrument,
		Lifecycle:      b.Lifecycle(),
		PositionSize:   pos.Size,
		EntryPrice:     pos.EntryPrice,
		RealizedPnl:    pos.RealizedPnl,
		Epoch:          b.ladder.Epoch(),
		TickCount:      b.tickCount,
		FillCount:      b.fillCount,
		LastUpdateTime: time.Now(),
	}
	if err := b.repo.SaveState(state); err != nil {
		logger.S().Errorw("保存持久化状态失败", "error", err)
	}
}

// publishSnapshot 更新周期快照、上报指标并输出周期日志。
func (b *GridBot) publishSnapshot() {
	pos := b.acct.Position(b.price.MidPrice)
	snap := models.Snapshot{
		CycleID:       b.cycleID,
		Lifecycle:     b.Lifecycle(),
		CenterPrice:   b.price.CenterPrice(),
		BestBid:       b.price.BestBid,
		BestAsk:       b.price.BestAsk,
		PositionSize:  pos.Size,
		EntryPrice:    pos.EntryPrice,
		UnrealizedPnl: pos.UnrealizedPnl,
		RealizedPnl:   pos.RealizedPnl,
		OpenLevels:    b.ladder.OpenLevelCount(),
		TickCount:     b.tickCount,
		FillCount:     b.fillCount,
		UpdatedAt:     time.Now(),
	}

	b.mu.Lock()
	b.snap = snap
	b.mu.Unlock()

	metrics.RecordTick(snap)
	logger.S().Infow("周期完成",
		"lifecycle", snap.Lifecycle,
		"center_price", snap.CenterPrice,
		"position_size", snap.PositionSize,
		"entry_price", snap.EntryPrice,
		"unrealized_pnl", snap.UnrealizedPnl,
		"realized_pnl", snap.RealizedPnl,
		"open_levels", snap.OpenLevels,
		"fills", snap.FillCount,
		"tick", snap.TickCount)

	if b.cfg.StatusReportTicks > 0 && snap.TickCount%int64(b.cfg.StatusReportTicks) == 0 {
		fmt.Println(reporter.SnapshotTable(snap))
	}
}

func requestTimeout(cfg *models.Config) time.Duration {
	t := time.Duration(cfg.Exchange.RequestTimeoutMs) * time.Millisecond
	if t <= 0 {
		t = 10 * time.Second
	}
	return t
}
