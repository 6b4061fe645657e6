package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"edgex-grid-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

const (
	// 行情快照的有效期，超时后回退到 REST 拉取
	depthCacheTTL = 3 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EdgexExchange 实现了 Exchange 接口，用于与 edgeX 永续合约交易所进行交互。
type EdgexExchange struct {
	apiKey     string
	secretKey  string
	accountID  string
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
	logger     *zap.Logger
	timeOffset int64

	metaMu      sync.RWMutex
	contractIDs map[string]string
	instruments map[string]*models.InstrumentInfo

	depthMu   sync.RWMutex
	depthBook *models.OrderBook
	depthAt   time.Time
	streamOn  bool
	wsStop    chan struct{}
	wsDone    chan struct{}
}

type priceLevelJSON struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// NewEdgexExchange 创建一个新的 EdgexExchange 实例，并与服务器同步时间。
func NewEdgexExchange(apiKey, secretKey, accountID string, cfg models.ExchangeConfig, logger *zap.Logger) (*EdgexExchange, error) {
	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &EdgexExchange{
		apiKey:      apiKey,
		secretKey:   secretKey,
		accountID:   accountID,
		baseURL:     cfg.BaseURL,
		wsBaseURL:   cfg.WSBaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		contractIDs: make(map[string]string),
		instruments: make(map[string]*models.InstrumentInfo),
	}

	if err := e.syncTime(); err != nil {
		return nil, fmt.Errorf("与 edgeX 服务器同步时间失败: %w", err)
	}

	return e, nil
}

// syncTime 与交易所服务器同步时间，计算本地时钟偏移。
func (e *EdgexExchange) syncTime() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.httpClient.Timeout)
	defer cancel()

	serverTime, err := e.GetServerTime(ctx)
	if err != nil {
		return err
	}
	localTime := time.Now().UnixMilli()
	e.timeOffset = serverTime - localTime
	e.logger.Info("与 edgeX 服务器时间同步完成", zap.Int64("timeOffset (ms)", e.timeOffset))
	return nil
}

// doRequest 是一个通用的请求处理函数，用于向 edgeX API 发送请求。
// 成功时返回响应信封中的 data 部分。
func (e *EdgexExchange) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	if params != nil {
		for k, v := range params {
			queryParams[k] = v
		}
	}
	encodedParams := queryParams.Encode()

	var req *http.Request
	var err error

	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		e.logger.Debug("发送GET请求", zap.String("url", finalURL))
		req, err = http.NewRequestWithContext(ctx, method, finalURL, nil)
	} else { // POST, PUT, DELETE
		e.logger.Debug("发送POST请求", zap.String("url", fullURL), zap.String("body", encodedParams))
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(encodedParams))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	if signed {
		// 签名内容为 时间戳+方法+路径+已编码参数
		timestamp := strconv.FormatInt(time.Now().UnixMilli()+e.timeOffset, 10)
		req.Header.Set("X-edgeX-Api-Key", e.apiKey)
		req.Header.Set("X-edgeX-Api-Timestamp", timestamp)
		req.Header.Set("X-edgeX-Api-Signature", e.sign(timestamp+method+endpoint+encodedParams))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	// edgeX 的所有响应都包裹在 {code, data, msg} 信封中
	var envelope struct {
		Code string          `json:"code"`
		Data json.RawMessage `json:"data"`
		Msg  string          `json:"msg"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Code != "" && envelope.Code != "SUCCESS" {
			return body, &models.APIError{Code: envelope.Code, Msg: envelope.Msg}
		}
		if envelope.Code == "SUCCESS" {
			return envelope.Data, nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		// 当API返回非200状态码时，将响应体和错误一起返回
		// 以便上层调用者可以记录详细的错误信息。
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign 对请求参数进行签名。
func (e *EdgexExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// getContract 查询合约元数据并缓存，返回合约ID。
func (e *EdgexExchange) getContract(ctx context.Context, instrument string) (string, *models.InstrumentInfo, error) {
	e.metaMu.RLock()
	id, ok := e.contractIDs[instrument]
	info := e.instruments[instrument]
	e.metaMu.RUnlock()
	if ok {
		return id, info, nil
	}

	data, err := e.doRequest(ctx, http.MethodGet, "/api/v1/public/meta/getMetaData", nil, false)
	if err != nil {
		return "", nil, err
	}

	var meta struct {
		ContractList []struct {
			ContractID   string `json:"contractId"`
			ContractName string `json:"contractName"`
			TickSize     string `json:"tickSize"`
			StepSize     string `json:"stepSize"`
			MinOrderSize string `json:"minOrderSize"`
		} `json:"contractList"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", nil, fmt.Errorf("解析合约元数据失败: %w", err)
	}

	e.metaMu.Lock()
	for _, c := range meta.ContractList {
		e.contractIDs[c.ContractName] = c.ContractID
		e.instruments[c.ContractName] = &models.InstrumentInfo{
			ContractID:   c.ContractID,
			Instrument:   c.ContractName,
			TickSize:     c.TickSize,
			StepSize:     c.StepSize,
			MinOrderSize: c.MinOrderSize,
		}
	}
	id, ok = e.contractIDs[instrument]
	info = e.instruments[instrument]
	e.metaMu.Unlock()

	if !ok {
		return "", nil, fmt.Errorf("未找到合约 %s 的信息", instrument)
	}
	return id, info, nil
}

// --- Exchange 接口实现 ---

// GetInstrumentInfo 获取合约的交易规则。
func (e *EdgexExchange) GetInstrumentInfo(ctx context.Context, instrument string) (*models.InstrumentInfo, error) {
	_, info, err := e.getContract(ctx, instrument)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetOrderBookDepth 获取盘口深度。行情推送开启且快照足够新鲜时直接使用
// 本地缓存，否则回退到 REST 拉取。
func (e *EdgexExchange) GetOrderBookDepth(ctx context.Context, instrument string, limit int) (*models.OrderBook, error) {
	e.depthMu.RLock()
	if e.streamOn && e.depthBook != nil && time.Since(e.depthAt) < depthCacheTTL {
		book := cloneOrderBook(e.depthBook)
		e.depthMu.RUnlock()
		return book, nil
	}
	e.depthMu.RUnlock()

	contractID, _, err := e.getContract(ctx, instrument)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("contractId", contractID)
	params.Set("level", strconv.Itoa(limit))
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v1/public/quote/getDepth", params, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQuoteUnavailable, err)
	}

	var payload struct {
		Bids []priceLevelJSON `json:"bids"`
		Asks []priceLevelJSON `json:"asks"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: 解析深度数据失败: %v", models.ErrQuoteUnavailable, err)
	}

	return bookFromLevels(payload.Bids, payload.Asks)
}

// PlaceOrder 下单并返回订单ID。
func (e *EdgexExchange) PlaceOrder(ctx context.Context, req *models.OrderRequest) (string, error) {
	contractID, _, err := e.getContract(ctx, req.Instrument)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("accountId", e.accountID)
	params.Set("contractId", contractID)
	params.Set("side", string(req.Side))
	params.Set("type", req.Type)
	params.Set("size", strconv.FormatFloat(req.Size, 'f', -1, 64))
	if req.Type == models.OrderTypeLimit {
		params.Set("timeInForce", "GOOD_TIL_CANCEL")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	if req.ClientOrderID != "" {
		params.Set("clientOrderId", req.ClientOrderID)
	}

	data, err := e.doRequest(ctx, http.MethodPost, "/api/v1/private/order/createOrder", params, true)
	if err != nil {
		e.logger.Error("下单请求失败，交易所返回错误", zap.Error(err), zap.String("raw_response", string(data)))
		return "", err
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("解析下单响应失败: %w", err)
	}
	if result.OrderID == "" {
		return "", fmt.Errorf("下单响应缺少订单ID: %s", string(data))
	}
	return result.OrderID, nil
}

// CancelOrder 按订单ID撤单。
func (e *EdgexExchange) CancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("accountId", e.accountID)
	params.Set("orderIdList", orderID)
	_, err := e.doRequest(ctx, http.MethodPost, "/api/v1/private/order/cancelOrderById", params, true)
	return err
}

// GetOpenOrders 获取指定合约的全部挂单。
func (e *EdgexExchange) GetOpenOrders(ctx context.Context, instrument string) ([]*models.Order, error) {
	contractID, _, err := e.getContract(ctx, instrument)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("accountId", e.accountID)
	params.Set("filterContractIdList", contractID)
	params.Set("size", "200")
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v1/private/order/getActiveOrderPage", params, true)
	if err != nil {
		return nil, err
	}

	var page struct {
		DataList []struct {
			OrderID       string `json:"orderId"`
			ClientOrderID string `json:"clientOrderId"`
			Price         string `json:"price"`
			Size          string `json:"size"`
			Side          string `json:"side"`
			Status        string `json:"status"`
		} `json:"dataList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("解析挂单列表失败: %w", err)
	}

	orders := make([]*models.Order, 0, len(page.DataList))
	for _, o := range page.DataList {
		orders = append(orders, &models.Order{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Price:         parseF(o.Price),
			Size:          parseF(o.Size),
			Side:          models.Side(o.Side),
			Status:        o.Status,
		})
	}
	return orders, nil
}

// GetPosition 获取指定合约的净持仓。edgeX 返回带符号的 openSize，
// 空仓时返回 Size 为 0 的结果，该结果同样是权威的。
func (e *EdgexExchange) GetPosition(ctx context.Context, instrument string) (*models.ExchangePosition, error) {
	contractID, _, err := e.getContract(ctx, instrument)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("accountId", e.accountID)
	params.Set("filterContractIdList", contractID)
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v1/private/account/getPositionPage", params, true)
	if err != nil {
		return nil, err
	}

	var page struct {
		DataList []struct {
			ContractID    string `json:"contractId"`
			OpenSize      string `json:"openSize"`
			AvgEntryPrice string `json:"avgEntryPrice"`
		} `json:"dataList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("解析持仓数据失败: %w", err)
	}

	for _, p := range page.DataList {
		if p.ContractID == contractID {
			return &models.ExchangePosition{
				Size:       parseF(p.OpenSize),
				EntryPrice: parseF(p.AvgEntryPrice),
			}, nil
		}
	}
	return &models.ExchangePosition{Size: 0}, nil
}

// GetBalance 获取账户权益信息。
func (e *EdgexExchange) GetBalance(ctx context.Context) (*models.Balance, error) {
	params := url.Values{}
	params.Set("accountId", e.accountID)
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v1/private/account/getAccountAsset", params, true)
	if err != nil {
		return nil, fmt.Errorf("获取账户资产失败: %w", err)
	}

	var asset struct {
		TotalEquity     string `json:"totalEquity"`
		AvailableAmount string `json:"availableAmount"`
		UnrealizePnl    string `json:"unrealizePnl"`
	}
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("解析账户资产失败: %w", err)
	}

	return &models.Balance{
		TotalEquity:     parseF(asset.TotalEquity),
		AvailableAmount: parseF(asset.AvailableAmount),
		UnrealizedPnl:   parseF(asset.UnrealizePnl),
	}, nil
}

// GetServerTime 获取服务器时间（毫秒）。
func (e *EdgexExchange) GetServerTime(ctx context.Context) (int64, error) {
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v1/public/meta/getServerTime", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		TimeMillis int64 `json:"timeMillis"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, err
	}
	return serverTime.TimeMillis, nil
}

// --- 行情 WebSocket ---

// StartDepthStream 启动深度行情订阅，之后 GetOrderBookDepth 优先使用
// 推送缓存。重复调用是无害的。
func (e *EdgexExchange) StartDepthStream(instrument string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.httpClient.Timeout)
	defer cancel()

	contractID, _, err := e.getContract(ctx, instrument)
	if err != nil {
		return err
	}

	e.depthMu.Lock()
	if e.streamOn {
		e.depthMu.Unlock()
		return nil
	}
	e.streamOn = true
	e.wsStop = make(chan struct{})
	e.wsDone = make(chan struct{})
	e.depthMu.Unlock()

	go e.depthStreamLoop(contractID)
	return nil
}

// depthStreamLoop 维持行情连接，断开后按指数退避重连。
func (e *EdgexExchange) depthStreamLoop(contractID string) {
	defer close(e.wsDone)

	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	for {
		err := e.runDepthSocket(contractID, b)
		select {
		case <-e.wsStop:
			return
		default:
		}

		wait := b.Duration()
		e.logger.Warn("行情WebSocket断开, 准备重连",
			zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-e.wsStop:
			return
		case <-time.After(wait):
		}
	}
}

func (e *EdgexExchange) runDepthSocket(contractID string, b *backoff.Backoff) error {
	wsURL := fmt.Sprintf("%s/api/v1/public/ws", e.wsBaseURL)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("无法连接行情WebSocket: %w", err)
	}
	defer conn.Close()

	channel := fmt.Sprintf("depth.%s.15", contractID)
	sub := map[string]string{"type": "subscribe", "channel": channel}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("订阅深度频道失败: %w", err)
	}
	b.Reset()
	e.logger.Info("行情WebSocket已连接", zap.String("channel", channel))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-e.wsStop:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-e.wsStop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("发送Ping失败: %w", err)
			}
		case err := <-errCh:
			return fmt.Errorf("读取行情消息失败: %w", err)
		case msg := <-msgCh:
			e.handleDepthMessage(msg)
		}
	}
}

func (e *EdgexExchange) handleDepthMessage(msg []byte) {
	var event struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		Data    struct {
			Bids []priceLevelJSON `json:"bids"`
			Asks []priceLevelJSON `json:"asks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		e.logger.Warn("无法解析行情消息", zap.Error(err))
		return
	}
	if event.Type != "quote-event" {
		return
	}

	book, err := bookFromLevels(event.Data.Bids, event.Data.Asks)
	if err != nil {
		return
	}

	e.depthMu.Lock()
	e.depthBook = book
	e.depthAt = time.Now()
	e.depthMu.Unlock()
}

// Close 停止行情订阅并等待其退出。
func (e *EdgexExchange) Close() error {
	e.depthMu.Lock()
	if !e.streamOn {
		e.depthMu.Unlock()
		return nil
	}
	e.streamOn = false
	close(e.wsStop)
	done := e.wsDone
	e.depthMu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// --- 辅助函数 ---

func bookFromLevels(bids, asks []priceLevelJSON) (*models.OrderBook, error) {
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("%w: 订单簿为空", models.ErrQuoteUnavailable)
	}
	book := &models.OrderBook{
		Bids: toPriceLevels(bids),
		Asks: toPriceLevels(asks),
	}
	if book.Bids[0].Price <= 0 || book.Asks[0].Price <= 0 || book.Bids[0].Price >= book.Asks[0].Price {
		return nil, fmt.Errorf("%w: 订单簿数据异常", models.ErrQuoteUnavailable)
	}
	return book, nil
}

func toPriceLevels(levels []priceLevelJSON) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, models.PriceLevel{Price: parseF(l.Price), Size: parseF(l.Size)})
	}
	return out
}

func cloneOrderBook(book *models.OrderBook) *models.OrderBook {
	cp := &models.OrderBook{
		Bids: make([]models.PriceLevel, len(book.Bids)),
		Asks: make([]models.PriceLevel, len(book.Asks)),
	}
	copy(cp.Bids, book.Bids)
	copy(cp.Asks, book.Asks)
	return cp
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
