package threshold

import (
	"context"
	"testing"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/strategies"
)

func newStrategy(t *testing.T) *Strategy {
	t.Helper()
	s := &Strategy{Config: Config{Symbol: "BTCUSDT", QuoteAmount: 100}}
	if err := s.Defaults(); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func feed(t *testing.T, s *Strategy, mc *strategies.MarketContext, price float64) []domain.Signal {
	t.Helper()
	mc.Ticker = domain.Ticker{Symbol: "BTCUSDT", Price: price}
	sigs, err := s.Execute(context.Background(), mc)
	if err != nil {
		t.Fatal(err)
	}
	return sigs
}

// 测试相对高点回落触发买入
func TestBuyOnDrop(t *testing.T) {
	s := newStrategy(t)
	mc := &strategies.MarketContext{Symbol: "BTCUSDT"}

	// 高点 30000，回落 0.4% 不触发
	if sigs := feed(t, s, mc, 30000); len(sigs) != 0 {
		t.Fatal("首个价格不应触发")
	}
	if sigs := feed(t, s, mc, 29880); len(sigs) != 0 {
		t.Fatal("回落 0.4% 不应触发买入")
	}

	// 回落 0.6% 触发
	sigs := feed(t, s, mc, 29820)
	if len(sigs) != 1 {
		t.Fatal("回落 0.6% 应触发买入")
	}
	sig := sigs[0]
	if sig.Type != domain.SignalBuy {
		t.Errorf("信号类型 = %s, want BUY", sig.Type)
	}
	if sig.StopLoss <= 0 || sig.StopLoss >= sig.DesiredPrice {
		t.Errorf("买入信号应带低于入场价的止损: %.2f", sig.StopLoss)
	}
	if sig.TakeProfit <= sig.DesiredPrice {
		t.Errorf("止盈应高于入场价: %.2f", sig.TakeProfit)
	}
}

// 测试持仓上涨触发卖出
func TestSellOnRise(t *testing.T) {
	s := newStrategy(t)
	mc := &strategies.MarketContext{
		Symbol:   "BTCUSDT",
		Position: domain.Position{Symbol: "BTCUSDT", Quantity: 0.5, AvgEntryPrice: 30000},
	}

	// 上涨 0.5% 不触发（阈值 1.0%）
	if sigs := feed(t, s, mc, 30150); len(sigs) != 0 {
		t.Fatal("上涨 0.5% 不应触发卖出")
	}

	sigs := feed(t, s, mc, 30300)
	if len(sigs) != 1 {
		t.Fatal("上涨 1.0% 应触发卖出")
	}
	if sigs[0].Type != domain.SignalSell {
		t.Errorf("信号类型 = %s, want SELL", sigs[0].Type)
	}
	if sigs[0].QuantityHint != 0.5 {
		t.Errorf("卖出数量应为全部持仓, got %.4f", sigs[0].QuantityHint)
	}
}

// 测试价格历史有界保留
func TestHistoryBounded(t *testing.T) {
	s := newStrategy(t)
	s.HistoryLimit = 100
	mc := &strategies.MarketContext{Symbol: "BTCUSDT"}

	for i := 0; i < 250; i++ {
		feed(t, s, mc, 30000)
	}
	if len(s.history) != 100 {
		t.Errorf("历史长度 = %d, want 100", len(s.history))
	}
}

// 测试配置校验
func TestConfigValidate(t *testing.T) {
	c := &Config{Symbol: "", QuoteAmount: 100}
	_ = c.Defaults()
	if err := c.Validate(); err == nil {
		t.Error("空交易对应校验失败")
	}

	c = &Config{Symbol: "BTCUSDT", QuoteAmount: 0}
	_ = c.Defaults()
	if err := c.Validate(); err == nil {
		t.Error("单笔金额为 0 应校验失败")
	}
}
