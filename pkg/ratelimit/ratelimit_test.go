package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBudget_AllowWithinWindow(t *testing.T) {
	b := NewBudget(3, time.Second)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("第 %d 个请求应该被允许", i+1)
		}
	}
	if b.Allow() {
		t.Fatal("超出预算的请求不应该被允许")
	}
	if got := b.GetRemaining(); got != 0 {
		t.Fatalf("GetRemaining = %d, want 0", got)
	}
}

// 窗口内发出 limit+1 个请求时，第 limit+1 个必须被延迟到窗口重置，
// 而不是被拒绝或丢弃。
func TestBudget_WaitDelaysOverLimit(t *testing.T) {
	window := 200 * time.Millisecond
	b := NewBudget(3, window)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait 失败: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > window/2 {
		t.Fatalf("窗口内的请求不应该被延迟, elapsed=%v", elapsed)
	}

	// 第 4 个请求必须等到窗口重置
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait 失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed < window {
		t.Fatalf("超出预算的请求应该被延迟到窗口重置, elapsed=%v", elapsed)
	}
}

func TestBudget_WaitRespectsContext(t *testing.T) {
	b := NewBudget(1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx); err != nil {
		t.Fatalf("第一个请求不应该失败: %v", err)
	}
	if err := b.Wait(ctx); err == nil {
		t.Fatal("context 超时后 Wait 应该返回错误")
	}
}

func TestBudget_WindowRollsOver(t *testing.T) {
	window := 100 * time.Millisecond
	b := NewBudget(2, window)

	if !b.Allow() || !b.Allow() {
		t.Fatal("窗口内的请求应该被允许")
	}
	if b.Allow() {
		t.Fatal("窗口已满")
	}

	time.Sleep(window + 20*time.Millisecond)
	if !b.Allow() {
		t.Fatal("窗口重置后请求应该被允许")
	}
	if got := b.GetRemaining(); got != 1 {
		t.Fatalf("GetRemaining = %d, want 1", got)
	}
}
