package feed

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/events"
	"github.com/tradebot/gobinance/internal/exchange"
	"github.com/tradebot/gobinance/internal/exchange/stream"
	"github.com/tradebot/gobinance/pkg/syncgroup"
)

var log = logrus.WithField("component", "feed")

// listenKey 需要周期性续期，交易所侧 60 分钟过期
const listenKeyKeepAlive = 30 * time.Minute

// Feed 行情/账户数据接入层：订阅行情流与用户数据流，
// 解析后发布到事件总线，并维护最新价缓存。
// 任何一路流重连超限都会触发交易停用事件。
type Feed struct {
	streams *stream.Manager
	client  *exchange.Client
	bus     *events.Bus

	mu     sync.RWMutex
	prices map[string]float64

	listenKey string
	cancel    context.CancelFunc
	sg        syncgroup.SyncGroup
}

// New 创建数据接入层
func New(streams *stream.Manager, client *exchange.Client, bus *events.Bus) *Feed {
	return &Feed{
		streams: streams,
		client:  client,
		bus:     bus,
		prices:  make(map[string]float64),
	}
}

// Start 订阅给定交易对的行情流和账户的用户数据流
func (f *Feed) Start(ctx context.Context, symbols []string, klineInterval string) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	// 单个交易对的行情流死掉只停该交易对；用户数据流没有交易对维度，全局停
	for _, symbol := range symbols {
		sym := symbol
		if _, err := f.streams.Subscribe(runCtx, stream.TickerChannel(sym), f.onTicker, f.terminal("ticker:"+sym, sym)); err != nil {
			return err
		}
		if _, err := f.streams.Subscribe(runCtx, stream.KlineChannel(sym, klineInterval), f.onKline, f.terminal("kline:"+sym, sym)); err != nil {
			return err
		}
	}

	key, err := f.client.CreateListenKey(runCtx)
	if err != nil {
		return err
	}
	f.listenKey = key
	if _, err := f.streams.Subscribe(runCtx, key, f.onUserData, f.terminal("userdata", "")); err != nil {
		return err
	}
	f.sg.Go(func() { f.keepAliveLoop(runCtx) })

	log.Infof("数据接入已启动: %d 个交易对, K 线周期 %s", len(symbols), klineInterval)
	return nil
}

// Close 停止所有订阅
func (f *Feed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.sg.Wait()
}

// LastPrice 最新价缓存。没收到过该交易对的行情时返回 false。
func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.prices[symbol]
	return px, ok
}

func (f *Feed) onTicker(msg []byte) {
	t, err := stream.ParseMiniTicker(msg)
	if err != nil {
		log.Debugf("解析 ticker 失败: %v", err)
		return
	}
	f.mu.Lock()
	f.prices[t.Symbol] = t.Price
	f.mu.Unlock()
}

func (f *Feed) onKline(msg []byte) {
	k, err := stream.ParseKline(msg)
	if err != nil {
		log.Debugf("解析 kline 失败: %v", err)
		return
	}
	// 只有收盘的 K 线才触发下游评估
	if k.Closed {
		f.bus.PublishKlineClosed(events.KlineClosedEvent{Kline: *k})
	}
}

func (f *Feed) onUserData(msg []byte) {
	if stream.EventType(msg) != "executionReport" {
		return
	}
	update, err := stream.ParseExecutionReport(msg)
	if err != nil {
		log.Errorf("解析 executionReport 失败: %v", err)
		return
	}
	f.bus.PublishOrderUpdate(events.OrderUpdateEvent{Update: *update})
}

// terminal 某路流重连超限后的终结回调
func (f *Feed) terminal(name, symbol string) stream.TerminalHandler {
	return func(err error) {
		log.Errorf("数据流 %s 终结: %v", name, err)
		f.bus.PublishTradingHalted(events.TradingHaltedEvent{
			Reason: "stream " + name + " terminated: " + err.Error(),
			Symbol: symbol,
		})
	}
}

func (f *Feed) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.client.KeepAliveListenKey(ctx, f.listenKey); err != nil {
				log.Errorf("listenKey 续期失败: %v", err)
			}
		}
	}
}

// TickerPrice 优先返回流缓存里的最新价，缓存未命中退回 REST
func (f *Feed) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	if px, ok := f.LastPrice(symbol); ok && px > 0 {
		return px, nil
	}
	return f.client.TickerPrice(ctx, symbol)
}

// Klines 直接透传 REST
func (f *Feed) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	return f.client.Klines(ctx, symbol, interval, limit)
}
