package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// Candle 表示回测使用的一根 K 线
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// KlineDownloader 从币安公共行情下载 K 线数据。edgeX 不提供历史 K 线
// 接口，回测统一使用币安现货数据作为代理行情。
type KlineDownloader struct {
	client *binance.Client
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader() *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""), // 公共接口不需要 API Key
	}
}

// ProxySymbol 把合约名映射为币安现货的交易对名，作为回测数据的代理
// 来源，例如 ETHUSD -> ETHUSDT。
func ProxySymbol(instrument string) string {
	if strings.HasSuffix(instrument, "USDT") {
		return instrument
	}
	if strings.HasSuffix(instrument, "USD") {
		return instrument + "T"
	}
	return instrument
}

// DownloadKlines 下载指定交易对和时间范围内的 1 分钟 K 线数据，并保存
// 到 CSV 文件。如果文件已存在，则跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(symbol, filePath string, startTime, endTime time.Time) error {
	// 检查文件是否已存在（缓存）
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		fmt.Printf("从缓存加载数据: %s\n", filePath)
		return nil
	}

	fmt.Printf("开始下载 %s 从 %s 到 %s 的K线数据...\n",
		symbol, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %v", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(t.UnixMilli()).
			EndTime(endTime.UnixMilli()).
			Limit(1000). // 币安单次请求最多1000条
			Do(context.Background())

		if err != nil {
			return fmt.Errorf("下载K线数据失败: %v", err)
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				fmt.Sprintf("%d", k.OpenTime),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				fmt.Sprintf("%d", k.CloseTime),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %v", err)
			}
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		fmt.Printf("已下载数据至 %s\n", t.Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond) // 避免过于频繁的请求
	}

	fmt.Printf("成功下载K线数据到 %s\n", filePath)
	return nil
}

// LoadCandles 读取 DownloadKlines 生成的 CSV 文件并解析为 K 线序列。
func LoadCandles(filePath string) ([]Candle, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据文件 %s: %v", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取CSV失败: %v", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("数据文件 %s 为空", filePath)
	}

	candles := make([]Candle, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := i + 2
		if len(rec) < 7 {
			return nil, fmt.Errorf("数据文件 %s 第 %d 行字段不足", filePath, row)
		}
		openMs, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行 open_time 解析失败: %v", row, err)
		}
		closeMs, err := strconv.ParseInt(rec[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行 close_time 解析失败: %v", row, err)
		}
		var ohlcv [5]float64
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("第 %d 行第 %d 列解析失败: %v", row, j+2, err)
			}
			ohlcv[j] = v
		}
		candles = append(candles, Candle{
			OpenTime:  time.UnixMilli(openMs),
			Open:      ohlcv[0],
			High:      ohlcv[1],
			Low:       ohlcv[2],
			Close:     ohlcv[3],
			Volume:    ohlcv[4],
			CloseTime: time.UnixMilli(closeMs),
		})
	}
	return candles, nil
}
