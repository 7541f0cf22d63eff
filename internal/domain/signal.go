package domain

// SignalType 信号类型
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// Signal 策略产生的交易信号（短生命周期，被风控消费一次）
type Signal struct {
	Type         SignalType
	Symbol       string
	DesiredPrice float64 // 期望成交价
	QuantityHint float64 // 策略建议数量（0 表示由风控决定）
	StopLoss     float64 // 止损价（0 表示未设置）
	TakeProfit   float64 // 止盈价（0 表示未设置）
	StrategyID   string
}

// HasStopLoss 检查信号是否携带止损
func (s *Signal) HasStopLoss() bool {
	return s.StopLoss > 0
}

// RiskRewardRatio 计算收益风险比 (takeProfit-entry)/(entry-stopLoss)。
// 缺少止损/止盈或止损不低于入场价时返回 0。
func (s *Signal) RiskRewardRatio() float64 {
	if s.StopLoss <= 0 || s.TakeProfit <= 0 {
		return 0
	}
	risk := s.DesiredPrice - s.StopLoss
	if risk <= 0 {
		return 0
	}
	return (s.TakeProfit - s.DesiredPrice) / risk
}
