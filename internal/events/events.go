package events

import (
	"sync"
	"time"

	"github.com/tradebot/gobinance/internal/domain"
)

// FillEvent 订单成交事件（含部分成交的增量）
type FillEvent struct {
	Trade     domain.Trade
	Timestamp time.Time
}

// OrderUpdateEvent 订单状态更新事件
type OrderUpdateEvent struct {
	Update    domain.OrderUpdate
	Timestamp time.Time
}

// KlineClosedEvent K 线收盘事件
type KlineClosedEvent struct {
	Kline     domain.Kline
	Timestamp time.Time
}

// TradingHaltedEvent 交易停用事件（熔断或一致性违规）
type TradingHaltedEvent struct {
	Reason    string
	Symbol    string // 为空表示全局停用
	Timestamp time.Time
}

// Bus 进程内事件总线。发布是同步的，订阅者按注册顺序依次执行；
// 订阅者不应阻塞。
type Bus struct {
	mu             sync.RWMutex
	fillHandlers   []func(FillEvent)
	updateHandlers []func(OrderUpdateEvent)
	klineHandlers  []func(KlineClosedEvent)
	haltHandlers   []func(TradingHaltedEvent)
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{}
}

// OnFill 订阅成交事件
func (b *Bus) OnFill(fn func(FillEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillHandlers = append(b.fillHandlers, fn)
}

// OnOrderUpdate 订阅订单更新事件
func (b *Bus) OnOrderUpdate(fn func(OrderUpdateEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateHandlers = append(b.updateHandlers, fn)
}

// OnKlineClosed 订阅 K 线收盘事件
func (b *Bus) OnKlineClosed(fn func(KlineClosedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.klineHandlers = append(b.klineHandlers, fn)
}

// OnTradingHalted 订阅交易停用事件
func (b *Bus) OnTradingHalted(fn func(TradingHaltedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.haltHandlers = append(b.haltHandlers, fn)
}

// PublishFill 发布成交事件
func (b *Bus) PublishFill(e FillEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := b.fillHandlers
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

// PublishOrderUpdate 发布订单更新事件
func (b *Bus) PublishOrderUpdate(e OrderUpdateEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := b.updateHandlers
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

// PublishKlineClosed 发布 K 线收盘事件
func (b *Bus) PublishKlineClosed(e KlineClosedEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := b.klineHandlers
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

// PublishTradingHalted 发布交易停用事件
func (b *Bus) PublishTradingHalted(e TradingHaltedEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := b.haltHandlers
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}
