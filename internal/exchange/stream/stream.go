package stream

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/pkg/syncgroup"
)

var streamLog = logrus.WithField("component", "stream")

// MessageHandler 收到一条原始消息时的回调
type MessageHandler func(msg []byte)

// TerminalHandler 订阅永久失败时的回调（整个订阅生命周期最多触发一次）
type TerminalHandler func(err error)

// Conn 订阅持有的连接（gorilla conn 的最小子集，可注入假实现测试重连）
type Conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// DialFunc 建立一条到指定频道的连接
type DialFunc func(ctx context.Context, channel string) (Conn, error)

// Config 流管理器配置
type Config struct {
	BaseURL              string        // 例如 wss://stream.binance.com:9443/ws
	MaxReconnectAttempts int           // 连续重连失败上限
	ReconnectBaseDelay   time.Duration // 重连退避基数
	ReconnectMaxDelay    time.Duration // 重连退避上限
	Dial                 DialFunc      // 为空时使用 gorilla 直连
}

// Subscription 一条逻辑订阅（ticker/kline/depth/user-data）。
// 每条订阅一个 goroutine 负责连接、读取和重连。
type Subscription struct {
	ID           string
	Channel      string
	attempts     int
	lastActivity atomic.Int64 // UnixNano
	terminated   atomic.Bool

	connMu sync.Mutex
	conn   Conn

	onMessage    MessageHandler
	onTerminal   TerminalHandler
	terminalOnce sync.Once

	cancel context.CancelFunc
}

// Terminated 检查订阅是否已终止（显式退订或重连耗尽）
func (s *Subscription) Terminated() bool {
	return s.terminated.Load()
}

// LastActivity 最近一次收到消息的时间
func (s *Subscription) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// setConn 替换当前连接（旧连接先关）
func (s *Subscription) setConn(c Conn) {
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = c
	s.connMu.Unlock()
}

// notifyTerminal 永久失败通知，只发一次
func (s *Subscription) notifyTerminal(err error) {
	s.terminalOnce.Do(func() {
		if s.onTerminal != nil {
			s.onTerminal(err)
		}
	})
}

// Manager 流订阅管理器。每个频道一条持久连接，断开后指数退避重连。
type Manager struct {
	cfg  Config
	subs map[string]*Subscription
	mu   sync.RWMutex
	sg   *syncgroup.SyncGroup
}

// NewManager 创建流管理器
func NewManager(cfg Config) *Manager {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = time.Minute
	}
	if cfg.Dial == nil {
		base := cfg.BaseURL
		cfg.Dial = func(ctx context.Context, channel string) (Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
			conn, _, err := dialer.DialContext(ctx, base+"/"+channel, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	return &Manager{
		cfg:  cfg,
		subs: make(map[string]*Subscription),
		sg:   syncgroup.NewSyncGroup(),
	}
}

// Subscribe 建立一条频道订阅并返回句柄。
// onTerminal 在重连耗尽后被调用一次；之后不会再静默重试。
func (m *Manager) Subscribe(ctx context.Context, channel string, onMessage MessageHandler, onTerminal TerminalHandler) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:         uuid.NewString(),
		Channel:    channel,
		onMessage:  onMessage,
		onTerminal: onTerminal,
		cancel:     cancel,
	}
	sub.lastActivity.Store(time.Now().UnixNano())

	m.mu.Lock()
	m.subs[sub.ID] = sub
	m.mu.Unlock()

	m.sg.Go(func() { m.run(subCtx, sub) })

	streamLog.Infof("订阅频道: %s (id=%s)", channel, sub.ID)
	return sub, nil
}

// Unsubscribe 终止订阅并阻止后续重连。幂等。
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.terminated.CompareAndSwap(false, true) {
		return
	}
	sub.cancel()
	sub.connMu.Lock()
	if sub.conn != nil {
		_ = sub.conn.Close()
		sub.conn = nil
	}
	sub.connMu.Unlock()

	m.mu.Lock()
	delete(m.subs, sub.ID)
	m.mu.Unlock()

	streamLog.Infof("退订频道: %s (id=%s)", sub.Channel, sub.ID)
}

// Close 终止全部订阅
func (m *Manager) Close() {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, s := range subs {
		m.Unsubscribe(s)
	}
	m.sg.Wait()
}

// run 订阅主循环：连接 -> 读取 -> 断开后退避重连。
// 连续失败超过上限后标记永久失败并通知一次。
func (m *Manager) run(ctx context.Context, sub *Subscription) {
	for {
		if ctx.Err() != nil || sub.Terminated() {
			return
		}

		conn, err := m.cfg.Dial(ctx, sub.Channel)
		if err != nil {
			if !m.backoff(ctx, sub, err) {
				return
			}
			continue
		}

		sub.setConn(conn)
		sub.attempts = 0 // 连上即重置退避计数
		streamLog.Infof("频道已连接: %s", sub.Channel)

		readErr := m.readLoop(ctx, sub, conn)
		if ctx.Err() != nil || sub.Terminated() {
			return
		}
		if !m.backoff(ctx, sub, readErr) {
			return
		}
	}
}

// readLoop 读取消息直到连接断开
func (m *Manager) readLoop(ctx context.Context, sub *Subscription, conn Conn) error {
	for {
		if ctx.Err() != nil || sub.Terminated() {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		sub.lastActivity.Store(time.Now().UnixNano())
		if sub.onMessage != nil {
			sub.onMessage(msg)
		}
	}
}

// backoff 执行一次重连退避。返回 false 表示不应继续重连
// （context 取消、显式退订、或重连次数耗尽）。
func (m *Manager) backoff(ctx context.Context, sub *Subscription, cause error) bool {
	sub.attempts++
	if sub.attempts > m.cfg.MaxReconnectAttempts {
		streamLog.Errorf("频道 %s 重连 %d 次后放弃: %v", sub.Channel, m.cfg.MaxReconnectAttempts, cause)
		sub.terminated.Store(true)
		sub.notifyTerminal(cause)
		return false
	}

	// delay = base * 2^(attempt-1)，封顶后加抖动
	delay := m.cfg.ReconnectBaseDelay << uint(sub.attempts-1)
	if delay > m.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = m.cfg.ReconnectMaxDelay
	}
	delay += time.Duration(rand.Int63n(int64(m.cfg.ReconnectBaseDelay)/2 + 1))

	streamLog.Warnf("频道 %s 断开 (%v)，%v 后第 %d/%d 次重连",
		sub.Channel, cause, delay, sub.attempts, m.cfg.MaxReconnectAttempts)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
