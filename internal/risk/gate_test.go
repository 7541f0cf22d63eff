package risk

import (
	"math"
	"strings"
	"testing"
	"testing/quick"

	"github.com/tradebot/gobinance/internal/domain"
)

// 测试收益风险比达标的 BUY 信号能通过评估
func TestAssessSignalGoodRatio(t *testing.T) {
	g := NewGate(DefaultSettings())

	sig := domain.Signal{
		Type:         domain.SignalBuy,
		Symbol:       "BTCUSDT",
		DesiredPrice: 30000,
		StopLoss:     29700, // 风险 300
		TakeProfit:   30900, // 收益 900，比率 3.0
	}
	if d := g.AssessSignal(sig); d != nil {
		t.Fatalf("比率 3.0 的信号不应被拒绝: %s", d.Reason)
	}
}

// 测试收益风险比不足被拒绝且原因包含比率
func TestAssessSignalPoorRatio(t *testing.T) {
	g := NewGate(DefaultSettings())

	sig := domain.Signal{
		Type:         domain.SignalBuy,
		Symbol:       "BTCUSDT",
		DesiredPrice: 30000,
		StopLoss:     29700, // 风险 300
		TakeProfit:   30150, // 收益 150，比率 0.5
	}
	d := g.AssessSignal(sig)
	if d == nil {
		t.Fatal("比率 0.5 的信号应被拒绝")
	}
	if !strings.Contains(d.Reason, "0.50") {
		t.Errorf("拒绝原因应包含比率数值: %s", d.Reason)
	}
}

// 测试 BUY 信号缺少止损被拒绝
func TestAssessSignalRequiresStopLoss(t *testing.T) {
	g := NewGate(DefaultSettings())

	sig := domain.Signal{
		Type:         domain.SignalBuy,
		Symbol:       "ETHUSDT",
		DesiredPrice: 2000,
	}
	if d := g.AssessSignal(sig); d == nil {
		t.Fatal("缺少止损的 BUY 信号应被拒绝")
	}

	// 关闭强制止损后放行
	s := DefaultSettings()
	s.RequireStopLossOnBuy = false
	g.UpdateSettings(s)
	if d := g.AssessSignal(sig); d != nil {
		t.Fatalf("关闭强制止损后不应被拒绝: %s", d.Reason)
	}
}

// 测试当日亏损超限触发全局拒绝
func TestCheckGlobalLimitsDailyLoss(t *testing.T) {
	g := NewGate(DefaultSettings())
	g.SetProviders(func() float64 { return 10000 }, nil, nil)

	if d := g.CheckGlobalLimits(); d != nil {
		t.Fatalf("初始状态不应被拒绝: %s", d.Reason)
	}

	// 亏损 3.1%，超过 3.0% 上限
	g.RecordPnL(-310)
	d := g.CheckGlobalLimits()
	if d == nil {
		t.Fatal("当日亏损超限应被拒绝")
	}
	if !strings.Contains(d.Reason, "daily loss limit") {
		t.Errorf("拒绝原因应指明亏损限制: %s", d.Reason)
	}
}

// 测试成交计数上限
func TestCheckGlobalLimitsTradeCounts(t *testing.T) {
	s := DefaultSettings()
	s.MaxHourlyTrades = 2
	g := NewGate(s)

	g.RegisterFill(domain.Trade{Symbol: "BTCUSDT"})
	g.RegisterFill(domain.Trade{Symbol: "BTCUSDT"})

	d := g.CheckGlobalLimits()
	if d == nil {
		t.Fatal("小时成交计数达到上限应被拒绝")
	}
	if !strings.Contains(d.Reason, "hourly") {
		t.Errorf("拒绝原因应指明小时上限: %s", d.Reason)
	}
}

// 测试持仓数量上限
func TestCheckGlobalLimitsOpenPositions(t *testing.T) {
	s := DefaultSettings()
	s.MaxOpenPositions = 3
	g := NewGate(s)
	g.SetProviders(func() float64 { return 10000 }, func() int { return 3 }, nil)

	if d := g.CheckGlobalLimits(); d == nil {
		t.Fatal("持仓数量达到上限应被拒绝")
	}
}

// 测试连续 API 错误触发单向停用，显式恢复后放行
func TestAPIErrorsDisableTrading(t *testing.T) {
	s := DefaultSettings()
	s.MaxConsecutiveAPIErrors = 3
	g := NewGate(s)

	g.RegisterAPIError()
	g.RegisterAPIError()
	if d := g.CheckGlobalLimits(); d != nil {
		t.Fatalf("阈值之下不应停用: %s", d.Reason)
	}

	g.RegisterAPIError()
	if d := g.CheckGlobalLimits(); d == nil {
		t.Fatal("连续错误达到阈值应停用交易")
	}

	// 成功调用不会自动恢复，停用是单向的
	g.RegisterAPISuccess()
	if d := g.CheckGlobalLimits(); d == nil {
		t.Fatal("停用后成功调用不应自动恢复")
	}

	g.EnableTrading()
	if d := g.CheckGlobalLimits(); d != nil {
		t.Fatalf("显式恢复后应放行: %s", d.Reason)
	}
}

// 测试交易对停牌与清除
func TestSymbolHalt(t *testing.T) {
	g := NewGate(DefaultSettings())

	g.HaltSymbol("BTCUSDT", "position mismatch")
	if d := g.CheckSymbol("BTCUSDT"); d == nil {
		t.Fatal("被停牌的交易对应被拒绝")
	}
	if d := g.CheckSymbol("ETHUSDT"); d != nil {
		t.Fatalf("未停牌的交易对不应被拒绝: %s", d.Reason)
	}

	g.ClearSymbolHalt("BTCUSDT")
	if d := g.CheckSymbol("BTCUSDT"); d != nil {
		t.Fatalf("清除停牌后应放行: %s", d.Reason)
	}
}

// 测试止损距离收缩仓位
func TestSizePositionStopDistance(t *testing.T) {
	s := DefaultSettings()
	s.MaxPositionSizePct = 0.10
	s.MaxRiskPerTradePct = 0.01
	g := NewGate(s)
	g.SetProviders(func() float64 { return 10000 }, nil, nil)

	// 止损距离 2%：风险上限 10000*0.01/0.02 = 5000，大于基础 1000，不收缩
	sig := domain.Signal{Type: domain.SignalBuy, Symbol: "BTCUSDT", DesiredPrice: 100, StopLoss: 98}
	qty := g.SizePosition(sig)
	if math.Abs(qty*100-1000) > 1e-6 {
		t.Errorf("名义价值应为 1000, got %.4f", qty*100)
	}

	// 止损距离 20%：风险上限 10000*0.01/0.20 = 500，收缩到 500
	sig.StopLoss = 80
	qty = g.SizePosition(sig)
	if math.Abs(qty*100-500) > 1e-6 {
		t.Errorf("名义价值应收缩到 500, got %.4f", qty*100)
	}
}

// 测试高波动率折减仓位
func TestSizePositionVolatilityReduction(t *testing.T) {
	s := DefaultSettings()
	s.VolatilityThresholdPct = 5.0
	s.VolatilityReductionFactor = 0.5
	g := NewGate(s)
	g.SetProviders(func() float64 { return 10000 }, nil, func(string) float64 { return 8.0 })

	sig := domain.Signal{Type: domain.SignalBuy, Symbol: "BTCUSDT", DesiredPrice: 100}
	qty := g.SizePosition(sig)
	if math.Abs(qty*100-500) > 1e-6 {
		t.Errorf("高波动率下名义价值应折半到 500, got %.4f", qty*100)
	}
}

// 性质测试：仓位永不为负，名义价值永不超过可用资金
func TestSizePositionProperties(t *testing.T) {
	s := DefaultSettings()
	g := NewGate(s)

	f := func(capital, price, stop float64) bool {
		capital = math.Abs(math.Mod(capital, 1e7))
		price = math.Abs(math.Mod(price, 1e5))
		stop = math.Abs(math.Mod(stop, 1e5))
		g.SetProviders(func() float64 { return capital }, nil, nil)

		sig := domain.Signal{Type: domain.SignalBuy, Symbol: "X", DesiredPrice: price, StopLoss: stop}
		qty := g.SizePosition(sig)
		if qty < 0 {
			return false
		}
		return qty*price <= capital+1e-6
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
