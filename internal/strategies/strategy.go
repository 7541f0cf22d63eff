package strategies

import (
	"context"

	"github.com/tradebot/gobinance/internal/domain"
)

// MarketContext 一次策略评估可见的市场与账户快照
type MarketContext struct {
	Symbol         string
	Ticker         domain.Ticker
	Klines         []domain.Kline
	OpenOrders     []domain.Order
	Position       domain.Position
	AvailableQuote float64
}

// Strategy 策略契约。Execute 是纯决策：读快照、产信号，不做任何下单 I/O。
type Strategy interface {
	ID() string
	Validate() error
	Execute(ctx context.Context, mc *MarketContext) ([]domain.Signal, error)
}

// Defaulter 可选接口：在 Validate 之前填充默认参数
type Defaulter interface {
	Defaults() error
}
