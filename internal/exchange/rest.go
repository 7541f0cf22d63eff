package exchange

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradebot/gobinance/internal/domain"
)

// parseDec 把交易所返回的十进制字符串精确解析为 float64。
// 余额/成交数量这类字段交易所统一用字符串下发，避免 JSON number 精度问题。
func parseDec(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// Ping 测试连通性
func (c *Client) Ping(ctx context.Context) error {
	res := c.Call(ctx, "/api/v3/ping", http.MethodGet, nil, false)
	if !res.Success {
		return errors.Errorf("ping: %s", res.Error)
	}
	return nil
}

// ServerTime 获取交易所服务器时间
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	res := c.Call(ctx, "/api/v3/time", http.MethodGet, nil, false)
	if !res.Success {
		return time.Time{}, errors.Errorf("server time: %s", res.Error)
	}
	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(body.ServerTime), nil
}

// ExchangeInfo 获取可交易的交易对列表
func (c *Client) ExchangeInfo(ctx context.Context) ([]domain.SymbolInfo, error) {
	res := c.Call(ctx, "/api/v3/exchangeInfo", http.MethodGet, nil, false)
	if !res.Success {
		return nil, errors.Errorf("exchange info: %s", res.Error)
	}
	var body struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return nil, err
	}
	infos := make([]domain.SymbolInfo, 0, len(body.Symbols))
	for _, s := range body.Symbols {
		infos = append(infos, domain.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Trading:    s.Status == "TRADING",
		})
	}
	return infos, nil
}

// TickerPrice 获取单个交易对的最新价格
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	res := c.Call(ctx, "/api/v3/ticker/price", http.MethodGet, map[string]string{"symbol": symbol}, false)
	if !res.Success {
		return 0, errors.Errorf("ticker price %s: %s", symbol, res.Error)
	}
	var body struct {
		Price string `json:"price"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return 0, err
	}
	return parseDec(body.Price), nil
}

// AllTickerPrices 获取全部交易对的最新价格（估值用，一次调用拿全量）
func (c *Client) AllTickerPrices(ctx context.Context) (map[string]float64, error) {
	res := c.Call(ctx, "/api/v3/ticker/price", http.MethodGet, nil, false)
	if !res.Success {
		return nil, errors.Errorf("all ticker prices: %s", res.Error)
	}
	var body []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(body))
	for _, p := range body {
		prices[p.Symbol] = parseDec(p.Price)
	}
	return prices, nil
}

// Klines 获取最近的 K 线
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	res := c.Call(ctx, "/api/v3/klines", http.MethodGet, params, false)
	if !res.Success {
		return nil, errors.Errorf("klines %s: %s", symbol, res.Error)
	}

	// K 线行是混合类型数组: [openTime, "o", "h", "l", "c", "v", closeTime, ...]
	var rows [][]interface{}
	if err := res.Unmarshal(&rows); err != nil {
		return nil, err
	}

	now := time.Now()
	klines := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		k := domain.Kline{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(int64(asFloat(row[0]))),
			Open:      parseDec(asString(row[1])),
			High:      parseDec(asString(row[2])),
			Low:       parseDec(asString(row[3])),
			Close:     parseDec(asString(row[4])),
			Volume:    parseDec(asString(row[5])),
			CloseTime: time.UnixMilli(int64(asFloat(row[6]))),
		}
		k.Closed = k.CloseTime.Before(now)
		klines = append(klines, k)
	}
	return klines, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Account 获取账户余额（签名接口），零余额资产被过滤
func (c *Client) Account(ctx context.Context) ([]domain.Balance, error) {
	res := c.Call(ctx, "/api/v3/account", http.MethodGet, nil, true)
	if !res.Success {
		return nil, errors.Errorf("account: %s", res.Error)
	}
	var body struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return nil, err
	}
	balances := make([]domain.Balance, 0, len(body.Balances))
	for _, b := range body.Balances {
		bal := domain.Balance{Asset: b.Asset, Free: parseDec(b.Free), Locked: parseDec(b.Locked)}
		if bal.Total() <= 0 {
			continue
		}
		balances = append(balances, bal)
	}
	return balances, nil
}

// OrderRequest 下单参数
type OrderRequest struct {
	Symbol    string
	Side      domain.Side
	Type      domain.OrderType
	Quantity  float64
	Price     float64 // LIMIT 有效
	ClientRef string  // 为空则自动生成
}

// NewClientRef 生成客户端订单引用
func NewClientRef() string {
	return "gb-" + uuid.NewString()[:18]
}

// OrderAck 下单/查询/撤单的统一响应
type OrderAck struct {
	Symbol          string
	ExchangeOrderID string
	ClientRef       string
	Status          domain.OrderStatus
	ExecutedQty     float64
	Price           float64
	TransactTime    time.Time
}

type rawOrderAck struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	OrigClientID  string `json:"origClientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	UpdateTime    int64  `json:"updateTime"`
	Price         string `json:"price"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
}

func (r rawOrderAck) toAck() *OrderAck {
	clientRef := r.ClientOrderID
	if clientRef == "" {
		clientRef = r.OrigClientID
	}
	ts := r.TransactTime
	if ts == 0 {
		ts = r.UpdateTime
	}
	return &OrderAck{
		Symbol:          r.Symbol,
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		ClientRef:       clientRef,
		Status:          domain.OrderStatus(r.Status),
		ExecutedQty:     parseDec(r.ExecutedQty),
		Price:           parseDec(r.Price),
		TransactTime:    time.UnixMilli(ts),
	}
}

// PlaceOrder 下单。LIMIT 单带 GTC，市价单不带价格。
// 返回交易所确认；交易所拒绝时 ack 为 nil，调用方通过 Result 区分错误类别。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, *Result) {
	params := map[string]string{
		"symbol":           req.Symbol,
		"side":             string(req.Side),
		"type":             string(req.Type),
		"quantity":         formatQty(req.Quantity),
		"newOrderRespType": "RESULT",
	}
	if req.ClientRef != "" {
		params["newClientOrderId"] = req.ClientRef
	}
	if req.Type == domain.OrderTypeLimit {
		params["price"] = formatQty(req.Price)
		params["timeInForce"] = "GTC"
	}

	res := c.Call(ctx, "/api/v3/order", http.MethodPost, params, true)
	if !res.Success {
		return nil, res
	}
	var raw rawOrderAck
	if err := res.Unmarshal(&raw); err != nil {
		return nil, &Result{Success: false, Error: err.Error()}
	}
	return raw.toAck(), res
}

// QueryOrder 查询订单当前状态
func (c *Client) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (*OrderAck, *Result) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": exchangeOrderID,
	}
	res := c.Call(ctx, "/api/v3/order", http.MethodGet, params, true)
	if !res.Success {
		return nil, res
	}
	var raw rawOrderAck
	if err := res.Unmarshal(&raw); err != nil {
		return nil, &Result{Success: false, Error: err.Error()}
	}
	return raw.toAck(), res
}

// QueryOrderByRef 按客户端引用查询订单（下单响应丢失时的对账通道）
func (c *Client) QueryOrderByRef(ctx context.Context, symbol, clientRef string) (*OrderAck, *Result) {
	params := map[string]string{
		"symbol":            symbol,
		"origClientOrderId": clientRef,
	}
	res := c.Call(ctx, "/api/v3/order", http.MethodGet, params, true)
	if !res.Success {
		return nil, res
	}
	var raw rawOrderAck
	if err := res.Unmarshal(&raw); err != nil {
		return nil, &Result{Success: false, Error: err.Error()}
	}
	return raw.toAck(), res
}

// CancelOrder 撤销单个订单
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) (*OrderAck, *Result) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": exchangeOrderID,
	}
	res := c.Call(ctx, "/api/v3/order", http.MethodDelete, params, true)
	if !res.Success {
		return nil, res
	}
	var raw rawOrderAck
	if err := res.Unmarshal(&raw); err != nil {
		return nil, &Result{Success: false, Error: err.Error()}
	}
	return raw.toAck(), res
}

// CancelAllOrders 撤销一个交易对的全部挂单
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) ([]*OrderAck, *Result) {
	params := map[string]string{"symbol": symbol}
	res := c.Call(ctx, "/api/v3/openOrders", http.MethodDelete, params, true)
	if !res.Success {
		return nil, res
	}
	var raws []rawOrderAck
	if err := res.Unmarshal(&raws); err != nil {
		return nil, &Result{Success: false, Error: err.Error()}
	}
	acks := make([]*OrderAck, 0, len(raws))
	for _, r := range raws {
		acks = append(acks, r.toAck())
	}
	return acks, res
}

// OCORequest OCO 下单参数（限价止盈 + 止损）
type OCORequest struct {
	Symbol         string
	Side           domain.Side
	Quantity       float64
	Price          float64 // 限价腿
	StopPrice      float64 // 止损触发价
	StopLimitPrice float64 // 止损限价（0 表示用 StopPrice）
	ClientRefBase  string  // 为空则自动生成
}

// OCOAck OCO 下单响应：两条腿共享一个组 ID
type OCOAck struct {
	GroupID string
	Orders  []*OrderAck
}

// PlaceOCO 提交一对 OCO 订单，两条腿共享组 ID，一腿成交另一腿自动撤销
func (c *Client) PlaceOCO(ctx context.Context, req OCORequest) (*OCOAck, *Result) {
	stopLimit := req.StopLimitPrice
	if stopLimit <= 0 {
		stopLimit = req.StopPrice
	}
	params := map[string]string{
		"symbol":               req.Symbol,
		"side":                 string(req.Side),
		"quantity":             formatQty(req.Quantity),
		"price":                formatQty(req.Price),
		"stopPrice":            formatQty(req.StopPrice),
		"stopLimitPrice":       formatQty(stopLimit),
		"stopLimitTimeInForce": "GTC",
	}
	if req.ClientRefBase != "" {
		params["listClientOrderId"] = req.ClientRefBase
	}

	res := c.Call(ctx, "/api/v3/order/oco", http.MethodPost, params, true)
	if !res.Success {
		return nil, res
	}
	var body struct {
		OrderListID  int64 `json:"orderListId"`
		OrderReports []rawOrderAck `json:"orderReports"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return nil, &Result{Success: false, Error: err.Error()}
	}
	ack := &OCOAck{GroupID: strconv.FormatInt(body.OrderListID, 10)}
	for _, r := range body.OrderReports {
		ack.Orders = append(ack.Orders, r.toAck())
	}
	return ack, res
}

// CreateListenKey 创建用户数据流 listenKey
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	// listenKey 接口只要 API key，不要求签名
	res := c.Call(ctx, "/api/v3/userDataStream", http.MethodPost, map[string]string{}, true)
	if !res.Success {
		return "", errors.Errorf("create listen key: %s", res.Error)
	}
	var body struct {
		ListenKey string `json:"listenKey"`
	}
	if err := res.Unmarshal(&body); err != nil {
		return "", err
	}
	return body.ListenKey, nil
}

// KeepAliveListenKey 延长 listenKey 有效期（交易所要求 60 分钟内续期）
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	res := c.Call(ctx, "/api/v3/userDataStream", http.MethodPut, map[string]string{"listenKey": listenKey}, true)
	if !res.Success {
		return errors.Errorf("keepalive listen key: %s", res.Error)
	}
	return nil
}

// formatQty 数量/价格格式化（去掉多余的尾零）
func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
