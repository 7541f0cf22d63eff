package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn 送完脚本里的消息后按 failWith 断开
type fakeConn struct {
	msgs     [][]byte
	failWith error
	closed   atomic.Bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if len(c.msgs) > 0 {
		msg := c.msgs[0]
		c.msgs = c.msgs[1:]
		return 1, msg, nil
	}
	if c.closed.Load() {
		return 0, nil, errors.New("use of closed connection")
	}
	if c.failWith != nil {
		return 0, nil, c.failWith
	}
	// 无脚本消息时挂起，等 Close
	for !c.closed.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	return 0, nil, errors.New("use of closed connection")
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func fastConfig(dial DialFunc) Config {
	return Config{
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    5 * time.Millisecond,
		Dial:                 dial,
	}
}

// 测试消息送达回调
func TestSubscribeDeliversMessages(t *testing.T) {
	dial := func(ctx context.Context, channel string) (Conn, error) {
		return &fakeConn{msgs: [][]byte{[]byte("one"), []byte("two")}}, nil
	}
	m := NewManager(fastConfig(dial))
	defer m.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	_, err := m.Subscribe(context.Background(), "btcusdt@miniTicker", func(msg []byte) {
		mu.Lock()
		got = append(got, string(msg))
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("消息未送达")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "one" || got[1] != "two" {
		t.Errorf("got %v", got)
	}
}

// 测试断开后重连，重连耗尽后只通知一次终结
func TestReconnectExhaustionNotifiesOnce(t *testing.T) {
	var dials atomic.Int64
	dial := func(ctx context.Context, channel string) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	m := NewManager(fastConfig(dial))
	defer m.Close()

	var terminals atomic.Int64
	notified := make(chan struct{})
	sub, err := m.Subscribe(context.Background(), "btcusdt@kline_1m", nil, func(err error) {
		terminals.Add(1)
		close(notified)
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("重连耗尽后应通知终结")
	}
	// 等主循环退出后确认不再重拨
	time.Sleep(50 * time.Millisecond)

	if !sub.Terminated() {
		t.Error("订阅应标记为终止")
	}
	if got := terminals.Load(); got != 1 {
		t.Errorf("终结通知应只发一次, got %d", got)
	}
	// 初次连接 + MaxReconnectAttempts 次重试之内
	if got := dials.Load(); got > 4 {
		t.Errorf("拨号次数超出上限: %d", got)
	}
}

// 测试断线重连后恢复收消息
func TestReconnectResumes(t *testing.T) {
	var dials atomic.Int64
	dial := func(ctx context.Context, channel string) (Conn, error) {
		n := dials.Add(1)
		if n == 1 {
			return &fakeConn{msgs: [][]byte{[]byte("before")}, failWith: errors.New("reset")}, nil
		}
		return &fakeConn{msgs: [][]byte{[]byte("after")}}, nil
	}
	m := NewManager(fastConfig(dial))
	defer m.Close()

	got := make(chan string, 4)
	if _, err := m.Subscribe(context.Background(), "ch", func(msg []byte) {
		got <- string(msg)
	}, nil); err != nil {
		t.Fatal(err)
	}

	want := []string{"before", "after"}
	for _, w := range want {
		select {
		case g := <-got:
			if g != w {
				t.Errorf("got %s, want %s", g, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("等待消息 %s 超时", w)
		}
	}
}

// 测试显式退订幂等且不触发终结通知
func TestUnsubscribeIdempotent(t *testing.T) {
	dial := func(ctx context.Context, channel string) (Conn, error) {
		return &fakeConn{}, nil
	}
	m := NewManager(fastConfig(dial))

	var terminals atomic.Int64
	sub, err := m.Subscribe(context.Background(), "ch", nil, func(err error) { terminals.Add(1) })
	if err != nil {
		t.Fatal(err)
	}

	m.Unsubscribe(sub)
	m.Unsubscribe(sub) // 幂等
	m.Close()

	if terminals.Load() != 0 {
		t.Error("显式退订不应触发终结通知")
	}
	if !sub.Terminated() {
		t.Error("退订后应标记终止")
	}
}
