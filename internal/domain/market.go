package domain

import "time"

// Ticker 最新成交价
type Ticker struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// Kline 一根 K 线（OHLCV）。Closed 为 true 表示该周期已收盘，数值不再变化。
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// Balance 账户余额（单一资产）
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total 返回可用+冻结的总量
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// SymbolInfo 交易对信息（来自 exchangeInfo）
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Trading    bool // status == TRADING
}
