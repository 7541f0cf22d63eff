package stream

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebot/gobinance/internal/domain"
)

// 频道名构造。组合流的频道名是小写交易对 + 流类型后缀。

// TickerChannel 返回精简 ticker 频道名
func TickerChannel(symbol string) string {
	return lower(symbol) + "@miniTicker"
}

// KlineChannel 返回 K 线频道名
func KlineChannel(symbol, interval string) string {
	return lower(symbol) + "@kline_" + interval
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func dec(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// eventEnvelope 消息公共头，用于路由。
// 必须带上 "E" 字段：不带的话大写的事件时间键会大小写不敏感地
// 落到 "e" 字符串字段上，整条消息反序列化失败。
type eventEnvelope struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

// EventType 返回消息的事件类型（kline / 24hrMiniTicker / executionReport / ...）
func EventType(msg []byte) string {
	var env eventEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return ""
	}
	return env.Event
}

// ParseMiniTicker 解析精简 ticker 消息
func ParseMiniTicker(msg []byte) (*domain.Ticker, error) {
	var raw struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Close     string `json:"c"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	return &domain.Ticker{
		Symbol:    raw.Symbol,
		Price:     dec(raw.Close),
		Timestamp: time.UnixMilli(raw.EventTime),
	}, nil
}

// ParseKline 解析 K 线消息。k.x 为 true 表示该根 K 线已收盘，
// 收盘标志用于触发策略执行。
func ParseKline(msg []byte) (*domain.Kline, error) {
	var raw struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		K         struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Interval  string `json:"i"`
			// 必须带上 "L"（末笔成交 ID，数字）：不带的话它会大小写
			// 不敏感地落到 "l" 最低价字符串字段上，整条消息反序列化失败。
			LastTradeID int64  `json:"L"`
			Open        string `json:"o"`
			Close       string `json:"c"`
			High        string `json:"h"`
			Low         string `json:"l"`
			Volume      string `json:"v"`
			Closed      bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	return &domain.Kline{
		Symbol:    raw.Symbol,
		Interval:  raw.K.Interval,
		OpenTime:  time.UnixMilli(raw.K.OpenTime),
		CloseTime: time.UnixMilli(raw.K.CloseTime),
		Open:      dec(raw.K.Open),
		High:      dec(raw.K.High),
		Low:       dec(raw.K.Low),
		Close:     dec(raw.K.Close),
		Volume:    dec(raw.K.Volume),
		Closed:    raw.K.Closed,
	}, nil
}

// ParseExecutionReport 解析用户数据流的订单执行回报
func ParseExecutionReport(msg []byte) (*domain.OrderUpdate, error) {
	var raw struct {
		Event         string `json:"e"`
		EventTime     int64  `json:"E"`
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		OrderStatus   string `json:"X"`
		OrderID       int64  `json:"i"`
		CumFilledQty  string `json:"z"`
		CumQuoteQty   string `json:"Z"`
		LastFillPrice string `json:"L"`
		TransactTime  int64  `json:"T"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}

	update := &domain.OrderUpdate{
		ExchangeOrderID: strconv.FormatInt(raw.OrderID, 10),
		ClientRef:       raw.ClientOrderID,
		Symbol:          raw.Symbol,
		Status:          domain.OrderStatus(raw.OrderStatus),
		FilledQty:       dec(raw.CumFilledQty),
		EventTime:       time.UnixMilli(raw.TransactTime),
	}
	// 平均成交价 = 累计成交额 / 累计成交量，没有成交时退回最后一笔价格
	if update.FilledQty > 0 {
		if quote := dec(raw.CumQuoteQty); quote > 0 {
			update.AvgFillPrice = quote / update.FilledQty
		} else {
			update.AvgFillPrice = dec(raw.LastFillPrice)
		}
	}
	return update, nil
}
