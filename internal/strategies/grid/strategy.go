package grid

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/strategies"
)

const ID = "grid"

var log = logrus.WithField("strategy", ID)

func init() {
	strategies.RegisterStrategy(ID, func() strategies.Strategy {
		return &Strategy{}
	})
}

// Strategy 网格策略：把 [LowerPrice, UpperPrice] 等分成 GridCount 格，
// 价格下穿一条网格线时在该格买入，上穿已持有格的上一条线时卖出该格。
// 出区间不动作。
type Strategy struct {
	Config `yaml:",inline" json:",inline"`

	// 每格持有的基础资产数量，key 为网格线下标
	holdings map[int]float64
	lastLevel int
	primed    bool
}

func (s *Strategy) ID() string { return ID }

// step 单格价差
func (s *Strategy) step() float64 {
	return (s.UpperPrice - s.LowerPrice) / float64(s.GridCount)
}

// levelOf 价格所在的网格下标，[0, GridCount)，区间外返回 -1
func (s *Strategy) levelOf(price float64) int {
	if price < s.LowerPrice || price > s.UpperPrice {
		return -1
	}
	lv := int(math.Floor((price - s.LowerPrice) / s.step()))
	if lv >= s.GridCount {
		lv = s.GridCount - 1
	}
	return lv
}

func (s *Strategy) Execute(ctx context.Context, mc *strategies.MarketContext) ([]domain.Signal, error) {
	price := mc.Ticker.Price
	if price <= 0 {
		return nil, nil
	}
	if s.holdings == nil {
		s.holdings = make(map[int]float64)
	}

	level := s.levelOf(price)
	if level < 0 {
		return nil, nil
	}
	if !s.primed {
		s.primed = true
		s.lastLevel = level
		return nil, nil
	}
	prev := s.lastLevel
	s.lastLevel = level
	if level == prev {
		return nil, nil
	}

	var signals []domain.Signal

	if level < prev {
		// 下穿：当前格未持有则买入
		if s.holdings[level] == 0 {
			qty := s.QuoteAmount / price
			s.holdings[level] = qty
			log.Infof("%s 下穿网格 %d (%.8f)，买入 %.8f", s.Symbol, level, price, qty)
			signals = append(signals, domain.Signal{
				Type:         domain.SignalBuy,
				Symbol:       s.Symbol,
				DesiredPrice: price,
				QuantityHint: qty,
				StopLoss:     s.LowerPrice * (1 - s.StopLossPct/100),
				TakeProfit:   price + s.step(),
				StrategyID:   ID,
			})
		}
	} else {
		// 上穿：下方已持有的格全部卖出
		for lv, qty := range s.holdings {
			if lv < level && qty > 0 {
				delete(s.holdings, lv)
				log.Infof("%s 上穿网格 %d (%.8f)，卖出第 %d 格 %.8f", s.Symbol, level, price, lv, qty)
				signals = append(signals, domain.Signal{
					Type:         domain.SignalSell,
					Symbol:       s.Symbol,
					DesiredPrice: price,
					QuantityHint: qty,
					StrategyID:   ID,
				})
			}
		}
	}
	return signals, nil
}
