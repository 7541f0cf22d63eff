package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
)

var gateLog = logrus.WithField("component", "risk")

// Settings 风控参数。来源的波动率折减系数等常量没有可靠推导，
// 因此全部做成可配置项，不把具体数值当正确性前提。
type Settings struct {
	MaxDailyLossPct           float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`                     // 当日最大亏损百分比（3.0 = 3%）
	MaxDailyTrades            int     `yaml:"max_daily_trades" json:"max_daily_trades"`                         // 当日成交上限
	MaxHourlyTrades           int     `yaml:"max_hourly_trades" json:"max_hourly_trades"`                       // 每小时成交上限
	MaxOpenPositions          int     `yaml:"max_open_positions" json:"max_open_positions"`                     // 持仓交易对上限
	MinRiskRewardRatio        float64 `yaml:"min_risk_reward_ratio" json:"min_risk_reward_ratio"`               // 最低收益风险比
	MaxPositionSizePct        float64 `yaml:"max_position_size_pct" json:"max_position_size_pct"`               // 单笔名义价值占可用资金比例（0.1 = 10%）
	MaxRiskPerTradePct        float64 `yaml:"max_risk_per_trade_pct" json:"max_risk_per_trade_pct"`             // 单笔最大风险占可用资金比例
	VolatilityThresholdPct    float64 `yaml:"volatility_threshold_pct" json:"volatility_threshold_pct"`         // 触发折减的已实现波动率阈值（%）
	VolatilityReductionFactor float64 `yaml:"volatility_reduction_factor" json:"volatility_reduction_factor"`   // 波动率折减系数
	RequireStopLossOnBuy      bool    `yaml:"require_stop_loss_on_buy" json:"require_stop_loss_on_buy"`         // BUY 信号必须带止损
	MaxConsecutiveAPIErrors   int64   `yaml:"max_consecutive_api_errors" json:"max_consecutive_api_errors"`     // 连通性熔断阈值
}

// DefaultSettings 默认风控参数
func DefaultSettings() Settings {
	return Settings{
		MaxDailyLossPct:           3.0,
		MaxDailyTrades:            50,
		MaxHourlyTrades:           10,
		MaxOpenPositions:          5,
		MinRiskRewardRatio:        1.5,
		MaxPositionSizePct:        0.10,
		MaxRiskPerTradePct:        0.01,
		VolatilityThresholdPct:    5.0,
		VolatilityReductionFactor: 0.5,
		RequireStopLossOnBuy:      true,
		MaxConsecutiveAPIErrors:   5,
	}
}

// Denial 风控拒绝。拒绝是正常决策结果，带具体原因，不走 error 通道。
type Denial struct {
	Reason string
}

func deny(format string, args ...interface{}) *Denial {
	return &Denial{Reason: fmt.Sprintf(format, args...)}
}

// Stats 风控状态快照（控制面查询用）
type Stats struct {
	TradingEnabled    bool              `json:"trading_enabled"`
	DisableReason     string            `json:"disable_reason,omitempty"`
	DailyPnL          float64           `json:"daily_pnl"`
	DailyLossPct      float64           `json:"daily_loss_pct"`
	DailyTradeCount   int               `json:"daily_trade_count"`
	HourlyTradeCount  int               `json:"hourly_trade_count"`
	ConsecutiveErrors int64             `json:"consecutive_api_errors"`
	HaltedSymbols     map[string]string `json:"halted_symbols,omitempty"`
}

// Gate 交易前风控闸门。纯决策逻辑，不做任何 I/O；
// 可用资金、持仓数、近期波动率通过注入的快照函数获取。
type Gate struct {
	mu       sync.Mutex
	settings Settings

	cb *CircuitBreaker

	tradingEnabled bool
	disableReason  string

	dayKey    int64 // YYYYMMDD
	hourKey   int64 // YYYYMMDDHH
	dailyPnL  float64
	dayBase   float64 // 当日起始可用资金（亏损百分比的分母）
	dailyTrades  int
	hourlyTrades int

	// 一致性违规后被停牌的交易对，需显式清除
	haltedSymbols map[string]string

	// 快照提供方（由装配层注入）
	capital       func() float64        // 当前可用资金（计价币种）
	positionCount func() int            // 当前持仓交易对数量
	volatility    func(symbol string) float64 // 近期已实现波动率（%）
}

// NewGate 创建风控闸门
func NewGate(settings Settings) *Gate {
	return &Gate{
		settings:       settings,
		cb:             NewCircuitBreaker(settings.MaxConsecutiveAPIErrors),
		tradingEnabled: true,
		haltedSymbols:  make(map[string]string),
	}
}

// SetProviders 注入账本/组合快照函数。任何一个为 nil 表示对应检查跳过。
func (g *Gate) SetProviders(capital func() float64, positionCount func() int, volatility func(string) float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.capital = capital
	g.positionCount = positionCount
	g.volatility = volatility
}

// UpdateSettings 热更新风控参数
func (g *Gate) UpdateSettings(s Settings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings = s
	g.cb.SetMaxErrors(s.MaxConsecutiveAPIErrors)
	gateLog.Infof("风控参数已更新: %+v", s)
}

// Settings 返回当前风控参数
func (g *Gate) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// CheckGlobalLimits 全局限制检查。任何一条不满足即拒绝并给出具体原因。
func (g *Gate) CheckGlobalLimits() *Denial {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollWindows(time.Now())

	if !g.tradingEnabled {
		return deny("trading disabled: %s", g.disableReason)
	}
	if err := g.cb.Allow(); err != nil {
		return deny("connectivity circuit breaker tripped (%d consecutive api errors)", g.cb.ErrorCount())
	}
	if g.settings.MaxDailyLossPct > 0 && g.dayBase > 0 {
		lossPct := -g.dailyPnL / g.dayBase * 100
		if lossPct >= g.settings.MaxDailyLossPct {
			return deny("daily loss limit reached: %.2f%% >= %.2f%%", lossPct, g.settings.MaxDailyLossPct)
		}
	}
	if g.settings.MaxDailyTrades > 0 && g.dailyTrades >= g.settings.MaxDailyTrades {
		return deny("daily trade count at cap (%d)", g.settings.MaxDailyTrades)
	}
	if g.settings.MaxHourlyTrades > 0 && g.hourlyTrades >= g.settings.MaxHourlyTrades {
		return deny("hourly trade count at cap (%d)", g.settings.MaxHourlyTrades)
	}
	if g.settings.MaxOpenPositions > 0 && g.positionCount != nil {
		if n := g.positionCount(); n >= g.settings.MaxOpenPositions {
			return deny("open position count at cap (%d)", n)
		}
	}
	return nil
}

// CheckSymbol 检查交易对是否因一致性违规被停牌
func (g *Gate) CheckSymbol(symbol string) *Denial {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason, ok := g.haltedSymbols[symbol]; ok {
		return deny("symbol %s halted: %s", symbol, reason)
	}
	return nil
}

// AssessSignal 单信号评估：BUY 必须带止损（若启用），收益风险比必须达标。
func (g *Gate) AssessSignal(sig domain.Signal) *Denial {
	g.mu.Lock()
	settings := g.settings
	g.mu.Unlock()

	if sig.Type == domain.SignalBuy && settings.RequireStopLossOnBuy && !sig.HasStopLoss() {
		return deny("buy signal for %s lacks required stop loss", sig.Symbol)
	}
	if sig.HasStopLoss() && sig.TakeProfit > 0 && settings.MinRiskRewardRatio > 0 {
		ratio := sig.RiskRewardRatio()
		if ratio < settings.MinRiskRewardRatio {
			return deny("reward/risk ratio %.2f below minimum %.2f", ratio, settings.MinRiskRewardRatio)
		}
	}
	return nil
}

// SizePosition 计算仓位大小（数量）。
// 基础 = 可用资金 * MaxPositionSizePct；带止损时按单笔风险上限进一步收缩；
// 近期波动率超阈值时乘以折减系数。结果不为负，名义价值不超过基础上限。
func (g *Gate) SizePosition(sig domain.Signal) float64 {
	g.mu.Lock()
	settings := g.settings
	capitalFn := g.capital
	volFn := g.volatility
	g.mu.Unlock()

	if sig.DesiredPrice <= 0 || capitalFn == nil {
		return 0
	}
	available := capitalFn()
	if available <= 0 {
		return 0
	}

	notional := available * settings.MaxPositionSizePct

	if sig.HasStopLoss() && settings.MaxRiskPerTradePct > 0 {
		stopDistancePct := (sig.DesiredPrice - sig.StopLoss) / sig.DesiredPrice
		if stopDistancePct > 0 {
			riskCapped := available * settings.MaxRiskPerTradePct / stopDistancePct
			if riskCapped < notional {
				notional = riskCapped
			}
		}
	}

	if volFn != nil && settings.VolatilityThresholdPct > 0 && settings.VolatilityReductionFactor > 0 {
		if vol := volFn(sig.Symbol); vol > settings.VolatilityThresholdPct {
			notional *= settings.VolatilityReductionFactor
		}
	}

	if notional <= 0 {
		return 0
	}
	if notional > available {
		notional = available
	}
	return notional / sig.DesiredPrice
}

// RegisterFill 记录一笔成交，推进日/小时计数
func (g *Gate) RegisterFill(trade domain.Trade) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindows(time.Now())
	g.dailyTrades++
	g.hourlyTrades++
}

// RecordPnL 累计当日已实现盈亏（组合在计提已实现盈亏时调用）
func (g *Gate) RecordPnL(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindows(time.Now())
	g.dailyPnL += delta
}

// RegisterAPIError 记录一次网络/交易所错误。
// 连续错误达到阈值时触发单向的交易停用。
func (g *Gate) RegisterAPIError() {
	if tripped := g.cb.OnError(); tripped {
		g.DisableTrading("consecutive api errors over threshold")
	}
}

// RegisterAPISuccess 记录一次成功调用，清空连续错误计数
func (g *Gate) RegisterAPISuccess() {
	g.cb.OnSuccess()
}

// DisableTrading 停用交易（单向翻转，需要显式 EnableTrading 恢复）
func (g *Gate) DisableTrading(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.tradingEnabled {
		return
	}
	g.tradingEnabled = false
	g.disableReason = reason
	gateLog.Errorf("交易已停用: %s", reason)
}

// EnableTrading 显式恢复交易，同时复位断路器
func (g *Gate) EnableTrading() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradingEnabled = true
	g.disableReason = ""
	g.cb.Resume()
	gateLog.Info("交易已恢复")
}

// HaltSymbol 因一致性违规停牌一个交易对（需显式清除）
func (g *Gate) HaltSymbol(symbol, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.haltedSymbols[symbol] = reason
	gateLog.Errorf("交易对 %s 已停牌: %s", symbol, reason)
}

// ClearSymbolHalt 清除交易对停牌
func (g *Gate) ClearSymbolHalt(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.haltedSymbols, symbol)
}

// Stats 返回风控状态快照
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindows(time.Now())

	halted := make(map[string]string, len(g.haltedSymbols))
	for k, v := range g.haltedSymbols {
		halted[k] = v
	}
	lossPct := 0.0
	if g.dayBase > 0 {
		lossPct = -g.dailyPnL / g.dayBase * 100
	}
	return Stats{
		TradingEnabled:    g.tradingEnabled,
		DisableReason:     g.disableReason,
		DailyPnL:          g.dailyPnL,
		DailyLossPct:      lossPct,
		DailyTradeCount:   g.dailyTrades,
		HourlyTradeCount:  g.hourlyTrades,
		ConsecutiveErrors: g.cb.ErrorCount(),
		HaltedSymbols:     halted,
	}
}

// rollWindows 日/小时窗口翻转（调用方持锁）。
// 新的一天重置当日盈亏和成交计数，并重新采样资金基数。
func (g *Gate) rollWindows(now time.Time) {
	dayKey := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	hourKey := dayKey*100 + int64(now.Hour())

	if g.dayKey != dayKey {
		g.dayKey = dayKey
		g.dailyPnL = 0
		g.dailyTrades = 0
		if g.capital != nil {
			g.dayBase = g.capital()
		}
	}
	if g.hourKey != hourKey {
		g.hourKey = hourKey
		g.hourlyTrades = 0
	}
}
