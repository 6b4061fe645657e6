package models

import "time"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Instrument           string  `json:"instrument"`             // 合约名称，如 "ETHUSD"
	GridCount            int     `json:"grid_count"`             // 网格档位总数（中心价上下各一半）
	GridSpacingPercent   float64 `json:"grid_spacing_percent"`   // 相邻档位间距（百分比）
	OrderSize            float64 `json:"order_size"`             // 每个档位的下单数量（基础货币）
	MaxPositionSize      float64 `json:"max_position_size"`      // 最大持仓数量（多空对称）
	PriceRangePercent    float64 `json:"price_range_percent"`    // 网格允许覆盖的价格区间（百分比）
	StopLossPercent      float64 `json:"stop_loss_percent"`      // 止损阈值（百分比）
	CheckIntervalSeconds int     `json:"check_interval_seconds"` // 主循环检查间隔（秒）
	MaxRetries           int     `json:"max_retries"`            // 平仓下单失败时的重试次数

	TickSize            string `json:"tick_size,omitempty"`              // 价格最小变动单位，留空则从交易所元数据获取
	RetryInitialDelayMs int    `json:"retry_initial_delay_ms,omitempty"` // 重试前的初始延迟毫秒数
	StatusReportTicks   int    `json:"status_report_ticks,omitempty"`    // 每隔多少个周期打印一次状态表
	RestartOnError      bool   `json:"restart_on_error,omitempty"`       // 启动失败后是否自动重启
	MaxRestartCount     int    `json:"max_restart_count,omitempty"`      // 自动重启的最大次数
	RestartDelaySeconds int    `json:"restart_delay_seconds,omitempty"`  // 两次重启之间的等待秒数
	DataDir             string `json:"data_dir,omitempty"`               // 状态数据库目录，留空则不持久化
	MetricsListenAddr   string `json:"metrics_listen_addr,omitempty"`    // Prometheus 监听地址，留空则不开启
	EnableDepthStream   bool   `json:"enable_depth_stream,omitempty"`    // 是否开启行情深度 WebSocket 缓存

	// 回测引擎特定配置
	InitialBalance   float64 `json:"initial_balance,omitempty"`    // 回测起始资金 (USD)
	TakerFeeRate     float64 `json:"taker_fee_rate,omitempty"`     // 吃单手续费率
	MakerFeeRate     float64 `json:"maker_fee_rate,omitempty"`     // 挂单手续费率
	SimSpreadPercent float64 `json:"sim_spread_percent,omitempty"` // 模拟盘口的买卖价差（百分比）

	Log      LogConfig      `json:"log"`      // 日志配置
	Exchange ExchangeConfig `json:"exchange"` // 交易所连接配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// ExchangeConfig 定义了交易所 REST/WebSocket 连接参数。
// API 密钥只从环境变量读取，不写入配置文件。
type ExchangeConfig struct {
	BaseURL          string `json:"base_url"`           // REST API 基础地址
	WSBaseURL        string `json:"ws_base_url"`        // 行情 WebSocket 基础地址
	RequestTimeoutMs int    `json:"request_timeout_ms"` // 单次请求超时毫秒数
}

// PriceLevel 表示盘口中的一个价位
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook 表示一次盘口深度快照，双边均按最优价在前排序
type OrderBook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// PriceState 保存从盘口推导出的价格状态。
// CenterPrice 每个周期都等于最新的中间价，不做粘滞锚定。
type PriceState struct {
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	MidPrice  float64   `json:"mid_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CenterPrice 返回网格布局所参照的中心价
func (p PriceState) CenterPrice() float64 {
	return p.MidPrice
}

// LevelStatus 表示网格档位的生命周期状态
type LevelStatus string

const (
	LevelPlanned   LevelStatus = "PLANNED"   // 待挂单
	LevelOpen      LevelStatus = "OPEN"      // 已挂单
	LevelFilled    LevelStatus = "FILLED"    // 已成交
	LevelCancelled LevelStatus = "CANCELLED" // 已撤销
)

// GridLevel 代表网格中的一个价格档位。
// Price 在一个区间周期内固定不变；Side 由档位相对中心价的位置决定，
// 成交后可能被临时翻转以在相邻档位捕获价差。
type GridLevel struct {
	Index      int         `json:"index"`                 // 带符号的档位序号，负数在中心价下方，不为 0
	Price      float64     `json:"price"`                 // 档位价格，已按 tick 对齐
	Side       Side        `json:"side"`                  // 当前生效的挂单方向
	TargetSize float64     `json:"target_size"`           // 挂单数量
	OrderID    string      `json:"order_id,omitempty"`
	Status     LevelStatus `json:"status"`
	CaptureFor int         `json:"capture_for,omitempty"` // 非 0 时表示正在为该序号的成交档位捕获价差
}

// Position 表示当前持仓。Size 为带符号数量，正数为多头。
// UnrealizedPnl 在读取时按最新中间价推导，不落库。
type Position struct {
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
}

// ExchangePosition 是交易所返回的持仓信息。
// EntryPrice 为 0 表示交易所未报告开仓均价。
type ExchangePosition struct {
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
}

// OrderType 表示订单类型
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// 交易所侧的订单状态
const (
	OrderStatusOpen     = "OPEN"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// OrderRequest 描述一次下单请求
type OrderRequest struct {
	Instrument    string  `json:"instrument"`
	Side          Side    `json:"side"`
	Type          string  `json:"type"`  // MARKET 或 LIMIT
	Price         float64 `json:"price"` // 仅 LIMIT 单使用
	Size          float64 `json:"size"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// Order 定义了交易所返回的订单信息
type Order struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	Side          Side    `json:"side"`
	Status        string  `json:"status"`
}

// InstrumentInfo 保存合约的交易规则
type InstrumentInfo struct {
	ContractID   string `json:"contract_id"`
	Instrument   string `json:"instrument"`
	TickSize     string `json:"tick_size"`      // 价格步长，如 "0.01"
	StepSize     string `json:"step_size"`      // 数量步长，如 "0.001"
	MinOrderSize string `json:"min_order_size"` // 最小下单数量
}

// Balance 定义了账户资产信息
type Balance struct {
	TotalEquity     float64 `json:"total_equity"`
	AvailableAmount float64 `json:"available_amount"`
	UnrealizedPnl   float64 `json:"unrealized_pnl"`
}

// Snapshot 是每个周期结束后对外暴露的只读状态快照
type Snapshot struct {
	CycleID       string    `json:"cycle_id"`
	Lifecycle     string    `json:"lifecycle"`
	CenterPrice   float64   `json:"center_price"`
	BestBid       float64   `json:"best_bid"`
	BestAsk       float64   `json:"best_ask"`
	PositionSize  float64   `json:"position_size"`
	EntryPrice    float64   `json:"entry_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	RealizedPnl   float64   `json:"realized_pnl"`
	OpenLevels    int       `json:"open_levels"`
	TickCount     int64     `json:"tick_count"`
	FillCount     int64     `json:"fill_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ClosedTrade 记录回测中一笔已平仓的交易
type ClosedTrade struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"` // 平仓方向
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Pnl        float64   `json:"pnl"`
	Fee        float64   `json:"fee"`
	ClosedAt   time.Time `json:"closed_at"`
}

// BacktestSummary 汇总一次回测的整体表现
type BacktestSummary struct {
	Instrument     string        `json:"instrument"`
	InitialBalance float64       `json:"initial_balance"`
	FinalEquity    float64       `json:"final_equity"`
	TotalFees      float64       `json:"total_fees"`
	Trades         []ClosedTrade `json:"trades"`
	EquityCurve    []float64     `json:"equity_curve"`
}
