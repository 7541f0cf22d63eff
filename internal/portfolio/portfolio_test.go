package portfolio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/tradebot/gobinance/internal/domain"
)

type fakeMarketData struct {
	balances []domain.Balance
	prices   map[string]float64
}

func (f *fakeMarketData) Account(ctx context.Context) ([]domain.Balance, error) {
	return f.balances, nil
}

func (f *fakeMarketData) AllTickerPrices(ctx context.Context) (map[string]float64, error) {
	return f.prices, nil
}

// 测试直接交易对与两跳桥接估值
func TestRefreshBalancesValuation(t *testing.T) {
	md := &fakeMarketData{
		balances: []domain.Balance{
			{Asset: "USDT", Free: 1000},
			{Asset: "ETH", Free: 2},       // 直接 ETHUSDT
			{Asset: "ALT", Free: 100},     // 经 ALTBTC -> BTCUSDT 两跳
			{Asset: "WEIRD", Free: 5},     // 无法定价，按 0 计
		},
		prices: map[string]float64{
			"ETHUSDT": 2000,
			"ALTBTC":  0.0001,
			"BTCUSDT": 50000,
		},
	}
	p := New(DefaultConfig(), md)

	if err := p.RefreshBalances(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 1000 + 2*2000 + 100*0.0001*50000 + 0 = 5500
	want := 5500.0
	if got := p.TotalValue(); math.Abs(got-want) > 1e-6 {
		t.Errorf("组合价值 = %.2f, want %.2f", got, want)
	}
}

// 测试等量买卖往返后未实现盈亏归零、均价复位
func TestRecordFillRoundTrip(t *testing.T) {
	p := New(DefaultConfig(), &fakeMarketData{})

	p.RecordFill(domain.Trade{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 1, Price: 30000})
	realized := p.RecordFill(domain.Trade{Symbol: "BTCUSDT", Side: domain.SideSell, Quantity: 1, Price: 31000})

	if math.Abs(realized-1000) > 1e-6 {
		t.Errorf("已实现盈亏 = %.2f, want 1000", realized)
	}
	pos, _ := p.Position("BTCUSDT")
	if pos.Quantity != 0 {
		t.Errorf("往返后持仓数量应为 0, got %.8f", pos.Quantity)
	}
	if pos.AvgEntryPrice != 0 {
		t.Errorf("清仓后均价应复位为 0, got %.8f", pos.AvgEntryPrice)
	}
	if pos.UnrealizedProfit(32000) != 0 {
		t.Error("空仓的未实现盈亏应为 0")
	}
}

// 测试加权平均入场价
func TestRecordFillWeightedAverage(t *testing.T) {
	p := New(DefaultConfig(), &fakeMarketData{})

	p.RecordFill(domain.Trade{Symbol: "ETHUSDT", Side: domain.SideBuy, Quantity: 1, Price: 2000})
	p.RecordFill(domain.Trade{Symbol: "ETHUSDT", Side: domain.SideBuy, Quantity: 3, Price: 2400})

	pos, _ := p.Position("ETHUSDT")
	// (1*2000 + 3*2400) / 4 = 2300
	if math.Abs(pos.AvgEntryPrice-2300) > 1e-6 {
		t.Errorf("加权均价 = %.2f, want 2300", pos.AvgEntryPrice)
	}
	if math.Abs(pos.UnrealizedProfit(2500)-800) > 1e-6 {
		t.Errorf("未实现盈亏 = %.2f, want 800", pos.UnrealizedProfit(2500))
	}
}

// 测试估值历史有界保留
func TestHistoryRetention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 3
	md := &fakeMarketData{
		balances: []domain.Balance{{Asset: "USDT", Free: 100}},
		prices:   map[string]float64{},
	}
	p := New(cfg, md)

	for i := 0; i < 5; i++ {
		if err := p.RefreshBalances(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(p.history) != 3 {
		t.Errorf("历史长度 = %d, want 3", len(p.history))
	}
}

// 测试估值快照点留存当时的可用计价资产和持仓
func TestHistoryPointCarriesState(t *testing.T) {
	md := &fakeMarketData{
		balances: []domain.Balance{{Asset: "USDT", Free: 500}},
		prices:   map[string]float64{},
	}
	p := New(DefaultConfig(), md)
	p.RecordFill(domain.Trade{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 1, Price: 30000})

	if err := p.RefreshBalances(context.Background()); err != nil {
		t.Fatal(err)
	}

	pt := p.history[len(p.history)-1]
	if pt.AvailableQuote != 500 {
		t.Errorf("快照可用计价资产 = %.2f, want 500", pt.AvailableQuote)
	}
	pos, ok := pt.Positions["BTCUSDT"]
	if !ok || pos.Quantity != 1 {
		t.Errorf("快照应留存持仓: %+v", pt.Positions)
	}
}

// 测试回看窗口表现计算
func TestPerformanceSince(t *testing.T) {
	p := New(DefaultConfig(), &fakeMarketData{})

	now := time.Now()
	p.history = []ValuationPoint{
		{TotalValue: 900, Timestamp: now.Add(-2 * time.Hour)},  // 窗口外
		{TotalValue: 1000, Timestamp: now.Add(-30 * time.Minute)},
		{TotalValue: 1100, Timestamp: now.Add(-1 * time.Minute)},
	}

	start, end, changePct, ok := p.PerformanceSince(time.Hour)
	if !ok {
		t.Fatal("窗口内有历史应返回 ok")
	}
	if start != 1000 || end != 1100 {
		t.Errorf("start=%.0f end=%.0f, want 1000/1100", start, end)
	}
	if math.Abs(changePct-10) > 1e-6 {
		t.Errorf("changePct = %.2f, want 10", changePct)
	}

	if _, _, _, ok := p.PerformanceSince(30 * time.Second); ok {
		t.Error("窗口内没有历史时应返回 ok=false")
	}
}

// 测试持仓与账本净成交核对
func TestVerifyAgainstLedger(t *testing.T) {
	p := New(DefaultConfig(), &fakeMarketData{})
	p.RecordFill(domain.Trade{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 1.5, Price: 30000})

	violations := p.VerifyAgainstLedger(map[string]float64{"BTCUSDT": 1.5}, 1e-8)
	if len(violations) != 0 {
		t.Errorf("一致时不应有违规: %v", violations)
	}

	violations = p.VerifyAgainstLedger(map[string]float64{"BTCUSDT": 2.0}, 1e-8)
	if len(violations) != 1 {
		t.Fatalf("不一致时应报一条违规, got %v", violations)
	}
	if violations[0].Symbol != "BTCUSDT" {
		t.Errorf("违规交易对 = %s", violations[0].Symbol)
	}
}
