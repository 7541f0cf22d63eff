package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// Budget 固定窗口预算限制器。
//
// 交易所的请求权重按固定窗口计数（例如 1200 请求/分钟），
// 窗口内计数到达上限后，后续请求必须等到窗口重置，不能被拒绝或丢弃。
// 调用方（REST 派发循环）串行调用 Wait，天然保证 FIFO 顺序。
type Budget struct {
	limit       int           // 窗口内允许的请求数
	windowSize  time.Duration // 窗口大小
	count       int           // 当前窗口已用计数
	windowStart time.Time     // 当前窗口起点
	mu          sync.Mutex
}

// NewBudget 创建固定窗口预算限制器
func NewBudget(limit int, windowSize time.Duration) *Budget {
	return &Budget{
		limit:       limit,
		windowSize:  windowSize,
		windowStart: time.Now(),
	}
}

// rollIfExpired 窗口过期则重置计数
func (b *Budget) rollIfExpired(now time.Time) {
	if now.Sub(b.windowStart) >= b.windowSize {
		b.count = 0
		b.windowStart = now
	}
}

// Allow 检查是否允许请求（允许则占用一个计数）
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollIfExpired(time.Now())
	if b.count < b.limit {
		b.count++
		return true
	}
	return false
}

// Wait 等待直到窗口允许请求。
// 窗口已满时睡到窗口重置，而不是返回错误。
func (b *Budget) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.rollIfExpired(now)

		if b.count < b.limit {
			b.count++
			b.mu.Unlock()
			return nil
		}

		waitTime := b.windowStart.Add(b.windowSize).Sub(now)
		b.mu.Unlock()

		if waitTime <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetRemaining 获取当前窗口剩余请求数
func (b *Budget) GetRemaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollIfExpired(time.Now())
	remaining := b.limit - b.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetResetTime 获取当前窗口重置时间
func (b *Budget) GetResetTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollIfExpired(time.Now())
	return b.windowStart.Add(b.windowSize)
}
