package risk

import (
	"fmt"
	"sync/atomic"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续交易。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreaker 连通性断路器。
// 连续的网络/交易所错误达到阈值后熔断；熔断是单向翻转，
// 需要显式 Resume 才能恢复。快路径全部用原子变量。
type CircuitBreaker struct {
	halted            atomic.Bool
	consecutiveErrors atomic.Int64
	maxErrors         atomic.Int64
}

// NewCircuitBreaker 创建断路器。maxErrors <= 0 表示关闭熔断。
func NewCircuitBreaker(maxErrors int64) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.maxErrors.Store(maxErrors)
	return cb
}

// SetMaxErrors 更新连续错误阈值
func (cb *CircuitBreaker) SetMaxErrors(n int64) {
	if cb == nil {
		return
	}
	cb.maxErrors.Store(n)
}

// Halt 手动熔断（人工介入或检测到严重异常）
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复，同时清空连续错误计数
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Allow 快路径检查是否允许交易
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	max := cb.maxErrors.Load()
	if max > 0 && cb.consecutiveErrors.Load() >= max {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 一次关键调用成功后清空连续错误计数
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 一次关键调用失败后累计连续错误计数。
// 返回当前计数是否已达到阈值。
func (cb *CircuitBreaker) OnError() bool {
	if cb == nil {
		return false
	}
	n := cb.consecutiveErrors.Add(1)
	max := cb.maxErrors.Load()
	return max > 0 && n >= max
}

// ErrorCount 当前连续错误计数
func (cb *CircuitBreaker) ErrorCount() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

// Halted 断路器是否处于熔断态
func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}
