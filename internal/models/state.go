package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反的交易方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// 机器人生命周期状态。状态由主循环独占持有，STOPPED 为终态。
const (
	StateInitializing = "INITIALIZING"
	StateGridActive   = "GRID_ACTIVE"
	StateLiquidating  = "LIQUIDATING"
	StateStopped      = "STOPPED"
)

// LadderEpoch 描述一次网格布局的区间周期。
// 档位价格在周期内【不可变】；中心价漂移出区间边界时整体重建。
type LadderEpoch struct {
	EpochID     string       `json:"epoch_id"`
	CenterPrice float64      `json:"center_price"` // 布局时刻的中心价
	LowerBound  float64      `json:"lower_bound"`  // 区间下边界
	UpperBound  float64      `json:"upper_bound"`  // 区间上边界
	Levels      []*GridLevel `json:"levels"`       // 按价格升序排列
	CreatedAt   time.Time    `json:"created_at"`
}

// EngineState 定义了需要持久化的全部引擎状态。
// 进程重启后用于恢复内部持仓记账和已实现盈亏；网格本身在启动时重建。
type EngineState struct {
	CycleID        string       `json:"cycle_id"` // 本次运行周期的唯一标识
	Version        int          `json:"version"`  // 状态模型的版本号，用于未来迁移
	Instrument     string       `json:"instrument"`
	Lifecycle      string       `json:"lifecycle"`
	PositionSize   float64      `json:"position_size"`
	EntryPrice     float64      `json:"entry_price"`
	RealizedPnl    float64      `json:"realized_pnl"`
	Epoch          *LadderEpoch `json:"epoch,omitempty"`
	TickCount      int64        `json:"tick_count"`
	FillCount      int64        `json:"fill_count"`
	LastUpdateTime time.Time    `json:"last_update_time"`
}
