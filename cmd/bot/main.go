package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgex-grid-bot-go/internal/bot"
	"edgex-grid-bot-go/internal/config"
	"edgex-grid-bot-go/internal/downloader"
	"edgex-grid-bot-go/internal/exchange"
	"edgex-grid-bot-go/internal/logger"
	"edgex-grid-bot-go/internal/metrics"
	"edgex-grid-bot-go/internal/models"
	"edgex-grid-bot-go/internal/persistence"
	"edgex-grid-bot-go/internal/reporter"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live, backtest, balance, validate or init")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "proxy symbol to download for backtesting (e.g., ETHUSDT)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// 为了在加载 .env 或配置文件阶段就能输出日志，先用默认配置初始化
	// 一个临时 logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载环境变量。")
	}

	// init 模式在配置文件存在之前执行
	if *mode == "init" {
		if err := config.WriteDefault(*configPath); err != nil {
			logger.S().Fatalf("生成默认配置失败: %v", err)
		}
		logger.S().Infof("已生成默认配置文件: %s", *configPath)
		return
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	// --- 根据模式执行 ---
	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		runBacktestMode(cfg, *symbol, *startDate, *endDate, *dataPath)
	case "balance":
		runBalanceMode(cfg)
	case "validate":
		runValidateMode(cfg, *configPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。可选: live, backtest, balance, validate, init。", *mode)
	}
}

// loadCredentials 从环境变量读取 edgeX API 凭证，缺失任何一项都直接退出。
func loadCredentials() (apiKey, secretKey, accountID string) {
	apiKey = os.Getenv("EDGEX_API_KEY")
	secretKey = os.Getenv("EDGEX_SECRET_KEY")
	accountID = os.Getenv("EDGEX_ACCOUNT_ID")
	if apiKey == "" || secretKey == "" || accountID == "" {
		logger.S().Fatal("错误: EDGEX_API_KEY、EDGEX_SECRET_KEY 和 EDGEX_ACCOUNT_ID 环境变量必须被设置。")
	}
	return apiKey, secretKey, accountID
}

// runLiveMode 运行实盘交易机器人，并按配置处理启动失败后的自动重启。
// 清仓失败是唯一绝不重启的退出路径，必须人工介入。
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- 启动实盘交易模式 ---")
	apiKey, secretKey, accountID := loadCredentials()

	if cfg.MetricsListenAddr != "" {
		metrics.Serve(cfg.MetricsListenAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	delay := time.Duration(cfg.RestartDelaySeconds) * time.Second
	for attempt := 0; ; attempt++ {
		err := runLiveOnce(ctx, cfg, apiKey, secretKey, accountID)
		if err == nil {
			logger.S().Info("机器人已退出。")
			return
		}
		if errors.Is(err, models.ErrLiquidationFailed) {
			logger.S().Fatalf("清仓失败, 已停止且不会自动重启, 请立即人工检查仓位: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
		if !cfg.RestartOnError || attempt >= cfg.MaxRestartCount {
			logger.S().Fatalf("机器人异常退出: %v", err)
		}
		logger.S().Warnf("机器人异常退出 (第 %d 次), %s 后重启: %v", attempt+1, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// runLiveOnce 完成一次完整的实盘生命周期：建连、恢复状态、运行主循环。
func runLiveOnce(ctx context.Context, cfg *models.Config, apiKey, secretKey, accountID string) error {
	ex, err := exchange.NewEdgexExchange(apiKey, secretKey, accountID, cfg.Exchange, logger.S().Desugar())
	if err != nil {
		return fmt.Errorf("初始化交易所失败: %w", err)
	}
	defer ex.Close()

	if cfg.EnableDepthStream {
		if err := ex.StartDepthStream(cfg.Instrument); err != nil {
			logger.S().Warnf("行情深度流启动失败, 回退到轮询: %v", err)
		}
	}

	var repo persistence.StateRepository
	if cfg.DataDir != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("打开状态数据库失败: %w", err)
		}
		defer repo.Close()
	}

	gridBot, err := bot.NewGridBot(cfg, ex, repo)
	if err != nil {
		return fmt.Errorf("初始化机器人失败: %w", err)
	}
	return gridBot.Run(ctx)
}

// resolveBacktestData 解析回测数据来源：给定日期区间时自动下载，否则
// 要求显式的数据文件路径。成功后返回数据文件路径。
func resolveBacktestData(cfg *models.Config, symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := startDate != "" && endDate != ""

	if shouldDownload {
		if symbol == "" {
			symbol = downloader.ProxySymbol(cfg.Instrument)
		}
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
		}

		d := downloader.NewKlineDownloader()
		fileName := fmt.Sprintf("data/%s-%s-%s.csv", symbol, startDate, endDate)
		if err := d.DownloadKlines(symbol, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("下载数据失败: %v", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("回测模式需要通过 -data 或 -start/-end 参数指定数据源")
	}
	return dataPath, nil
}

// runBacktestMode 在模拟交易所上重放历史 K 线并输出绩效报告。
func runBacktestMode(cfg *models.Config, symbol, startDate, endDate, dataPath string) {
	logger.S().Info("--- 启动回测模式 ---")

	finalPath, err := resolveBacktestData(cfg, symbol, startDate, endDate, dataPath)
	if err != nil {
		logger.S().Fatal(err)
	}

	candles, err := downloader.LoadCandles(finalPath)
	if err != nil {
		logger.S().Fatalf("加载历史数据失败: %v", err)
	}

	// 回测逐根 K 线驱动，不需要周期状态表
	cfg.StatusReportTicks = 0

	sim := exchange.NewSimExchange(cfg)
	gridBot, err := bot.NewGridBot(cfg, sim, nil)
	if err != nil {
		logger.S().Fatalf("回测机器人初始化失败: %v", err)
	}

	logger.S().Infof("开始回测, 共 %d 根K线...", len(candles))
	ctx := context.Background()
	for _, c := range candles {
		sim.Step(c.Open, c.High, c.Low, c.Close, c.OpenTime)
		if err := gridBot.ProcessTick(ctx); err != nil {
			logger.S().Warnf("回测提前终止: %v", err)
			break
		}
		if gridBot.Lifecycle() == models.StateStopped {
			logger.S().Info("生命周期已终止, 提前结束回测。")
			break
		}
	}
	logger.S().Info("回测结束。")

	startTime := candles[0].OpenTime
	endTime := candles[len(candles)-1].CloseTime
	reporter.GenerateReport(sim.Summary(), finalPath, startTime, endTime)
}

// runBalanceMode 查询账户权益并打印。
func runBalanceMode(cfg *models.Config) {
	apiKey, secretKey, accountID := loadCredentials()

	ex, err := exchange.NewEdgexExchange(apiKey, secretKey, accountID, cfg.Exchange, logger.S().Desugar())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v", err)
	}
	defer ex.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	bal, err := ex.GetBalance(ctx)
	if err != nil {
		logger.S().Fatalf("查询账户余额失败: %v", err)
	}
	fmt.Println(reporter.BalanceTable(bal))
}

// runValidateMode 在配置成功加载后打印关键参数。校验本身已经在
// LoadConfig 中完成。
func runValidateMode(cfg *models.Config, configPath string) {
	logger.S().Infof("配置文件 %s 校验通过。", configPath)
	logger.S().Infow("关键参数",
		"instrument", cfg.Instrument,
		"grid_count", cfg.GridCount,
		"grid_spacing_percent", cfg.GridSpacingPercent,
		"order_size", cfg.OrderSize,
		"max_position_size", cfg.MaxPositionSize,
		"price_range_percent", cfg.PriceRangePercent,
		"stop_loss_percent", cfg.StopLossPercent,
		"check_interval_seconds", cfg.CheckIntervalSeconds,
		"max_retries", cfg.MaxRetries)
}
