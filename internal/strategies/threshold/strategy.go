package threshold

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/strategies"
)

const ID = "threshold"

var log = logrus.WithField("strategy", ID)

func init() {
	strategies.RegisterStrategy(ID, func() strategies.Strategy {
		return &Strategy{}
	})
}

// Strategy 价格阈值策略：
// - 空仓时，价格相对近期高点回落超过 BuyDropPct 则买入
// - 持仓时，价格相对持仓均价上涨超过 SellRisePct 则全量卖出
// 价格历史有界保留，只看最近 HistoryLimit 个点。
type Strategy struct {
	Config `yaml:",inline" json:",inline"`

	history []float64
}

func (s *Strategy) ID() string { return ID }

func (s *Strategy) Execute(ctx context.Context, mc *strategies.MarketContext) ([]domain.Signal, error) {
	price := mc.Ticker.Price
	if price <= 0 {
		return nil, nil
	}

	s.history = append(s.history, price)
	if len(s.history) > s.HistoryLimit {
		s.history = s.history[len(s.history)-s.HistoryLimit:]
	}

	// 持仓时判断卖出
	if mc.Position.Quantity > 0 {
		target := mc.Position.AvgEntryPrice * (1 + s.SellRisePct/100)
		if price >= target {
			log.Infof("%s 价格 %.8f 超出均价 %.8f 的 %.2f%%，产生卖出信号",
				s.Symbol, price, mc.Position.AvgEntryPrice, s.SellRisePct)
			return []domain.Signal{{
				Type:         domain.SignalSell,
				Symbol:       s.Symbol,
				DesiredPrice: price,
				QuantityHint: mc.Position.Quantity,
				StrategyID:   ID,
			}}, nil
		}
		return nil, nil
	}

	// 空仓时判断买入：相对近期高点回落
	high := recentHigh(s.history)
	if high <= 0 {
		return nil, nil
	}
	dropPct := (high - price) / high * 100
	if dropPct < s.BuyDropPct {
		return nil, nil
	}

	log.Infof("%s 价格 %.8f 相对高点 %.8f 回落 %.2f%%，产生买入信号",
		s.Symbol, price, high, dropPct)
	return []domain.Signal{{
		Type:         domain.SignalBuy,
		Symbol:       s.Symbol,
		DesiredPrice: price,
		QuantityHint: s.QuoteAmount / price,
		StopLoss:     price * (1 - s.StopLossPct/100),
		TakeProfit:   price * (1 + s.TakeProfitPct/100),
		StrategyID:   ID,
	}}, nil
}

func recentHigh(history []float64) float64 {
	high := 0.0
	for _, p := range history {
		if p > high {
			high = p
		}
	}
	return high
}
