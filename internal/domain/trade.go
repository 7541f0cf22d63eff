package domain

import "time"

// Trade 一笔成交
type Trade struct {
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	StrategyID string
	Timestamp  time.Time
}

// Notional 返回成交的名义价值（计价币种）
func (t Trade) Notional() float64 {
	return t.Quantity * t.Price
}
