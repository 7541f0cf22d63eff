package domain

import "time"

// Position 仓位领域模型（每个交易对一个，首次成交时创建，数量归零后不删除）
type Position struct {
	Symbol          string  // 交易对
	Quantity        float64 // 当前持仓数量
	AvgEntryPrice   float64 // 加权平均入场价，数量归零时清零
	RealizedProfit  float64 // 累计已实现盈亏（计价币种）
	TotalBuyCost    float64 // 当前持仓的总成本（计价币种）
	UpdatedAt       time.Time
}

// AddBuy 累加一笔买入成交，更新加权平均入场价
func (p *Position) AddBuy(qty, price float64) {
	if qty <= 0 {
		return
	}
	p.TotalBuyCost += qty * price
	p.Quantity += qty
	if p.Quantity > 0 {
		p.AvgEntryPrice = p.TotalBuyCost / p.Quantity
	}
	p.UpdatedAt = time.Now()
}

// AddSell 记录一笔卖出成交，按平均入场价计提已实现盈亏。
// 返回本笔的已实现盈亏。卖出数量超出持仓时只按持仓部分计提。
func (p *Position) AddSell(qty, price float64) float64 {
	if qty <= 0 {
		return 0
	}
	closed := qty
	if closed > p.Quantity {
		closed = p.Quantity
	}
	realized := (price - p.AvgEntryPrice) * closed
	p.RealizedProfit += realized

	p.Quantity -= closed
	p.TotalBuyCost -= closed * p.AvgEntryPrice
	if p.Quantity <= 0 {
		// 数量归零后平均价清零，下一轮重新累计
		p.Quantity = 0
		p.TotalBuyCost = 0
		p.AvgEntryPrice = 0
	}
	p.UpdatedAt = time.Now()
	return realized
}

// UnrealizedProfit 按当前价格计算未实现盈亏
func (p *Position) UnrealizedProfit(currentPrice float64) float64 {
	if p.Quantity <= 0 {
		return 0
	}
	return (currentPrice - p.AvgEntryPrice) * p.Quantity
}
