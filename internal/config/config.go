package config

import (
	"encoding/json"
	"fmt"
	"os"

	"edgex-grid-bot-go/internal/logger"
	"edgex-grid-bot-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 解析成功后会补全缺省值并做启动校验，校验失败的配置不会交给引擎。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 为未设置的辅助字段补全缺省值
func applyDefaults(cfg *models.Config) {
	if cfg.RetryInitialDelayMs <= 0 {
		cfg.RetryInitialDelayMs = 500
	}
	if cfg.StatusReportTicks <= 0 {
		cfg.StatusReportTicks = 12
	}
	if cfg.MaxRestartCount <= 0 {
		cfg.MaxRestartCount = 5
	}
	if cfg.RestartDelaySeconds <= 0 {
		cfg.RestartDelaySeconds = 10
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.SimSpreadPercent <= 0 {
		cfg.SimSpreadPercent = 0.02
	}
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://pro.edgex.exchange"
	}
	if cfg.Exchange.WSBaseURL == "" {
		cfg.Exchange.WSBaseURL = "wss://quote.edgex.exchange"
	}
	if cfg.Exchange.RequestTimeoutMs <= 0 {
		cfg.Exchange.RequestTimeoutMs = 10000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "console"
	}
}

// Validate 校验核心交易参数，任何一项不满足都会拒绝启动
func Validate(cfg *models.Config) error {
	if cfg.Instrument == "" {
		return fmt.Errorf("%w: instrument 不能为空", models.ErrConfigInvalid)
	}
	if cfg.GridCount < 2 {
		return fmt.Errorf("%w: grid_count 必须 >= 2, 当前为 %d", models.ErrConfigInvalid, cfg.GridCount)
	}
	if cfg.GridSpacingPercent <= 0 {
		return fmt.Errorf("%w: grid_spacing_percent 必须 > 0, 当前为 %v", models.ErrConfigInvalid, cfg.GridSpacingPercent)
	}
	if cfg.OrderSize <= 0 {
		return fmt.Errorf("%w: order_size 必须 > 0, 当前为 %v", models.ErrConfigInvalid, cfg.OrderSize)
	}
	if cfg.MaxPositionSize <= 0 {
		return fmt.Errorf("%w: max_position_size 必须 > 0, 当前为 %v", models.ErrConfigInvalid, cfg.MaxPositionSize)
	}
	if cfg.PriceRangePercent <= 0 {
		return fmt.Errorf("%w: price_range_percent 必须 > 0, 当前为 %v", models.ErrConfigInvalid, cfg.PriceRangePercent)
	}
	if cfg.StopLossPercent <= 0 {
		return fmt.Errorf("%w: stop_loss_percent 必须 > 0, 当前为 %v", models.ErrConfigInvalid, cfg.StopLossPercent)
	}
	if cfg.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("%w: check_interval_seconds 必须 > 0, 当前为 %d", models.ErrConfigInvalid, cfg.CheckIntervalSeconds)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries 不能为负数, 当前为 %d", models.ErrConfigInvalid, cfg.MaxRetries)
	}

	// 半幅网格超出区间时多余的档位会被裁掉，只提醒不拒绝
	halfSpan := float64(cfg.GridCount/2) * cfg.GridSpacingPercent
	if halfSpan > cfg.PriceRangePercent {
		logger.S().Warnf("grid_count*grid_spacing_percent 的半幅 %.2f%% 超出 price_range_percent %.2f%%，区间外的档位将不会挂出",
			halfSpan, cfg.PriceRangePercent)
	}

	return nil
}

// WriteDefault 生成一份带注释缺省值的配置文件模板
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("配置文件 %s 已存在，拒绝覆盖", path)
	}

	cfg := &models.Config{
		Instrument:           "ETHUSD",
		GridCount:            10,
		GridSpacingPercent:   0.5,
		OrderSize:            0.01,
		MaxPositionSize:      0.1,
		PriceRangePercent:    5.0,
		StopLossPercent:      10.0,
		CheckIntervalSeconds: 5,
		MaxRetries:           3,
		RetryInitialDelayMs:  500,
		StatusReportTicks:    12,
		RestartOnError:       true,
		MaxRestartCount:      5,
		RestartDelaySeconds:  10,
		DataDir:              "data/state",
		EnableDepthStream:    false,
		InitialBalance:       10000,
		TakerFeeRate:         0.00038,
		MakerFeeRate:         0.00015,
		SimSpreadPercent:     0.02,
		Log: models.LogConfig{
			Level:      "info",
			Output:     "both",
			File:       "logs/grid-bot.log",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		},
		Exchange: models.ExchangeConfig{
			BaseURL:          "https://pro.edgex.exchange",
			WSBaseURL:        "wss://quote.edgex.exchange",
			RequestTimeoutMs: 10000,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
