package portfolio

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
)

var log = logrus.WithField("component", "portfolio")

// MarketData 组合估值需要的行情与账户能力
type MarketData interface {
	Account(ctx context.Context) ([]domain.Balance, error)
	AllTickerPrices(ctx context.Context) (map[string]float64, error)
}

// Config 组合配置
type Config struct {
	QuoteAsset   string // 计价资产，默认 USDT
	BridgeAsset  string // 两跳估值的桥接资产，默认 BTC
	HistoryLimit int    // 估值历史保留条数
}

// DefaultConfig 默认组合配置
func DefaultConfig() Config {
	return Config{
		QuoteAsset:   "USDT",
		BridgeAsset:  "BTC",
		HistoryLimit: 288, // 5 分钟一次约等于一天
	}
}

// ValuationPoint 一次估值快照点，连同当时的可用计价资产和持仓一起留存
type ValuationPoint struct {
	TotalValue     float64                    `json:"total_value"`
	AvailableQuote float64                    `json:"available_quote"`
	Positions      map[string]domain.Position `json:"positions,omitempty"`
	Timestamp      time.Time                  `json:"timestamp"`
}

// Snapshot 组合快照（控制面查询用）
type Snapshot struct {
	TotalValue    float64                     `json:"total_value"`
	QuoteAsset    string                      `json:"quote_asset"`
	Balances      []domain.Balance            `json:"balances"`
	Positions     map[string]domain.Position  `json:"positions"`
	RealizedTotal float64                     `json:"realized_total"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// Portfolio 组合与持仓管理。持仓按加权平均入场价计提，
// 估值以计价资产为单位，无法定价的资产按零计入并告警。
type Portfolio struct {
	cfg Config
	md  MarketData

	mu            sync.Mutex
	positions     map[string]*domain.Position
	balances      []domain.Balance
	prices        map[string]float64
	totalValue    float64
	realizedTotal float64
	updatedAt     time.Time
	history       []ValuationPoint
}

// New 创建组合管理器
func New(cfg Config, md MarketData) *Portfolio {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.BridgeAsset == "" {
		cfg.BridgeAsset = "BTC"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 288
	}
	return &Portfolio{
		cfg:       cfg,
		md:        md,
		positions: make(map[string]*domain.Position),
		prices:    make(map[string]float64),
	}
}

// RefreshBalances 拉取账户余额与全量行情，重算组合总价值并记入历史
func (p *Portfolio) RefreshBalances(ctx context.Context) error {
	balances, err := p.md.Account(ctx)
	if err != nil {
		return errors.Wrap(err, "获取账户余额失败")
	}
	prices, err := p.md.AllTickerPrices(ctx)
	if err != nil {
		return errors.Wrap(err, "获取行情失败")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances = balances
	p.prices = prices

	total := 0.0
	for _, b := range balances {
		v, ok := p.valueOfLocked(b.Asset, b.Total())
		if !ok {
			log.Warnf("资产 %s 无法定价，按 0 计入组合价值", b.Asset)
			continue
		}
		total += v
	}
	p.totalValue = total
	p.updatedAt = time.Now()

	available := 0.0
	for _, b := range balances {
		if strings.EqualFold(b.Asset, p.cfg.QuoteAsset) {
			available = b.Free
			break
		}
	}
	positions := make(map[string]domain.Position, len(p.positions))
	for sym, pos := range p.positions {
		positions[sym] = *pos
	}
	p.history = append(p.history, ValuationPoint{
		TotalValue:     total,
		AvailableQuote: available,
		Positions:      positions,
		Timestamp:      p.updatedAt,
	})
	if len(p.history) > p.cfg.HistoryLimit {
		p.history = p.history[len(p.history)-p.cfg.HistoryLimit:]
	}

	log.Debugf("组合估值完成: %.2f %s, %d 项资产", total, p.cfg.QuoteAsset, len(balances))
	return nil
}

// valueOfLocked 把某资产的数量换算成计价资产价值。
// 优先直接交易对，其次经桥接资产两跳换算。调用方持锁。
func (p *Portfolio) valueOfLocked(asset string, amount float64) (float64, bool) {
	if amount == 0 {
		return 0, true
	}
	if strings.EqualFold(asset, p.cfg.QuoteAsset) {
		return amount, true
	}
	if px, ok := p.prices[asset+p.cfg.QuoteAsset]; ok && px > 0 {
		return amount * px, true
	}
	// 两跳：asset -> bridge -> quote
	if bridgePx, ok := p.prices[asset+p.cfg.BridgeAsset]; ok && bridgePx > 0 {
		if quotePx, ok2 := p.prices[p.cfg.BridgeAsset+p.cfg.QuoteAsset]; ok2 && quotePx > 0 {
			return amount * bridgePx * quotePx, true
		}
	}
	return 0, false
}

// RecordFill 记录一笔成交，更新对应持仓，返回本笔产生的已实现盈亏
func (p *Portfolio) RecordFill(trade domain.Trade) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[trade.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: trade.Symbol}
		p.positions[trade.Symbol] = pos
	}

	var realized float64
	switch trade.Side {
	case domain.SideBuy:
		pos.AddBuy(trade.Quantity, trade.Price)
	case domain.SideSell:
		realized = pos.AddSell(trade.Quantity, trade.Price)
		p.realizedTotal += realized
	}
	log.Infof("持仓更新 %s: 数量=%.8f 均价=%.8f 已实现=%.8f",
		trade.Symbol, pos.Quantity, pos.AvgEntryPrice, realized)
	return realized
}

// Position 返回某交易对持仓副本
func (p *Portfolio) Position(symbol string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// OpenPositionCount 非零持仓的交易对数量
func (p *Portfolio) OpenPositionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pos := range p.positions {
		if pos.Quantity > 0 {
			n++
		}
	}
	return n
}

// AvailableQuote 计价资产的可用余额
func (p *Portfolio) AvailableQuote() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.balances {
		if strings.EqualFold(b.Asset, p.cfg.QuoteAsset) {
			return b.Free
		}
	}
	return 0
}

// TotalValue 最近一次估值的组合总价值
func (p *Portfolio) TotalValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalValue
}

// Snapshot 返回组合完整快照
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make(map[string]domain.Position, len(p.positions))
	for sym, pos := range p.positions {
		positions[sym] = *pos
	}
	balances := make([]domain.Balance, len(p.balances))
	copy(balances, p.balances)

	return Snapshot{
		TotalValue:    p.totalValue,
		QuoteAsset:    p.cfg.QuoteAsset,
		Balances:      balances,
		Positions:     positions,
		RealizedTotal: p.realizedTotal,
		UpdatedAt:     p.updatedAt,
	}
}

// PerformanceSince 回看窗口内的组合价值变化。
// 取窗口内最早的点作为基准；窗口内没有历史时返回 ok=false。
func (p *Portfolio) PerformanceSince(lookback time.Duration) (start, end, changePct float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-lookback)
	for _, pt := range p.history {
		if !pt.Timestamp.Before(cutoff) {
			start = pt.TotalValue
			ok = true
			break
		}
	}
	if !ok || len(p.history) == 0 {
		return 0, 0, 0, false
	}
	end = p.history[len(p.history)-1].TotalValue
	if start > 0 {
		changePct = (end - start) / start * 100
	}
	return start, end, changePct, true
}

// Violation 一条持仓/账本不一致记录
type Violation struct {
	Symbol string
	Detail string
}

// VerifyAgainstLedger 用账本的净成交量核对持仓数量，
// 返回超出容差的交易对及差异描述。调用方决定是否停牌。
func (p *Portfolio) VerifyAgainstLedger(netFilled map[string]float64, tolerance float64) []Violation {
	p.mu.Lock()
	defer p.mu.Unlock()

	var violations []Violation
	for sym, expected := range netFilled {
		held := 0.0
		if pos, ok := p.positions[sym]; ok {
			held = pos.Quantity
		}
		if math.Abs(held-expected) > tolerance {
			violations = append(violations, Violation{
				Symbol: sym,
				Detail: fmt.Sprintf("持仓 %.8f 与账本净成交 %.8f 不一致", held, expected),
			})
		}
	}
	return violations
}
