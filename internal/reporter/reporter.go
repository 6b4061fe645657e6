package reporter

import (
	"fmt"
	"math"
	"time"

	"edgex-grid-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalEquity      float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalFees        float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport 根据回测汇总计算性能指标并打印报告表格
func GenerateReport(summary *models.BacktestSummary, dataPath string, startTime, endTime time.Time) *Metrics {
	m := calculateMetrics(summary)
	m.StartTime = startTime
	m.EndTime = endTime

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("回测结果报告 " + summary.Instrument)
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"回测周期", fmt.Sprintf("%s 到 %s",
			m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f USD", m.InitialBalance)},
		{"最终权益", fmt.Sprintf("%.2f USD", m.FinalEquity)},
		{"总利润", fmt.Sprintf("%.2f USD", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"总手续费", fmt.Sprintf("%.4f USD", m.TotalFees)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	fmt.Println(t.Render())

	return m
}

func calculateMetrics(s *models.BacktestSummary) *Metrics {
	m := &Metrics{
		InitialBalance: s.InitialBalance,
		FinalEquity:    s.FinalEquity,
		TotalFees:      s.TotalFees,
		TotalTrades:    len(s.Trades),
	}

	var totalProfit, totalLoss float64
	for _, trade := range s.Trades {
		if trade.Pnl > 0 {
			m.WinningTrades++
			totalProfit += trade.Pnl
		} else {
			m.LosingTrades++
			totalLoss += trade.Pnl
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	m.TotalProfit = m.FinalEquity - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(s.EquityCurve) * 100

	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// SnapshotTable 把一次周期快照渲染成适合日志输出的表格
func SnapshotTable(snap models.Snapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"字段", "值"})
	t.AppendRows([]table.Row{
		{"生命周期", snap.Lifecycle},
		{"中心价", fmt.Sprintf("%.4f", snap.CenterPrice)},
		{"买一 / 卖一", fmt.Sprintf("%.4f / %.4f", snap.BestBid, snap.BestAsk)},
		{"持仓数量", fmt.Sprintf("%.6f", snap.PositionSize)},
		{"持仓均价", fmt.Sprintf("%.4f", snap.EntryPrice)},
		{"未实现盈亏", fmt.Sprintf("%.4f", snap.UnrealizedPnl)},
		{"已实现盈亏", fmt.Sprintf("%.4f", snap.RealizedPnl)},
		{"挂单层数", snap.OpenLevels},
		{"周期计数", snap.TickCount},
		{"成交计数", snap.FillCount},
	})
	return t.Render()
}

// BalanceTable 把账户资产渲染成表格
func BalanceTable(bal *models.Balance) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"字段", "值"})
	t.AppendRows([]table.Row{
		{"账户总权益", fmt.Sprintf("%.4f", bal.TotalEquity)},
		{"可用余额", fmt.Sprintf("%.4f", bal.AvailableAmount)},
		{"未实现盈亏", fmt.Sprintf("%.4f", bal.UnrealizedPnl)},
	})
	return t.Render()
}
