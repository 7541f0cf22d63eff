package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/ledger"
	"github.com/tradebot/gobinance/internal/risk"
	"github.com/tradebot/gobinance/internal/strategies"
	"github.com/tradebot/gobinance/pkg/syncgroup"
)

var log = logrus.WithField("component", "scheduler")

// MarketData 构建策略快照所需的行情能力
type MarketData interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error)
}

// OrderPlacer 信号通过风控后的下单出口
type OrderPlacer interface {
	Place(ctx context.Context, params ledger.PlaceParams) (*domain.Order, error)
	OpenOrders(symbol string) []domain.Order
}

// RiskGate 信号管线依赖的风控决策面
type RiskGate interface {
	CheckGlobalLimits() *risk.Denial
	CheckSymbol(symbol string) *risk.Denial
	AssessSignal(sig domain.Signal) *risk.Denial
	SizePosition(sig domain.Signal) float64
}

// PortfolioView 构建策略快照所需的组合视图
type PortfolioView interface {
	Position(symbol string) (domain.Position, bool)
	AvailableQuote() float64
}

// Config 调度器配置
type Config struct {
	Interval      time.Duration // 周期评估间隔
	KlineInterval string        // 快照拉取的 K 线周期
	KlineLimit    int           // 快照拉取的 K 线数量
}

// DefaultConfig 默认调度配置
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		KlineInterval: "1m",
		KlineLimit:    100,
	}
}

// RunnerStatus 单个策略运行器的状态快照
type RunnerStatus struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Running    bool      `json:"running"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastDenial string    `json:"last_denial,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Evaluated  int64     `json:"evaluated"`
	Placed     int64     `json:"placed"`
}

// runner 单个策略实例的运行器。
// 周期 tick 和 K 线收盘事件都会触发一次评估；
// 上一次评估未结束时再次触发被直接跳过，不排队。
type runner struct {
	id       string // 运行实例 ID（策略 ID + 交易对）
	symbol   string
	strategy strategies.Strategy
	sched    *Scheduler

	inFlight atomic.Bool
	trigger  chan struct{}
	cancel   context.CancelFunc

	mu         sync.Mutex
	lastRunAt  time.Time
	lastDenial string
	lastError  string
	evaluated  int64
	placed     int64
}

// Scheduler 策略调度器：管理策略运行器，负责信号管线
// （策略 -> 风控 -> 仓位 -> 下单）。
type Scheduler struct {
	cfg    Config
	md     MarketData
	placer OrderPlacer
	gate   RiskGate
	pf     PortfolioView

	mu      sync.Mutex
	runners map[string]*runner
	sg      syncgroup.SyncGroup
}

// New 创建调度器
func New(cfg Config, md MarketData, placer OrderPlacer, gate RiskGate, pf PortfolioView) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Scheduler{
		cfg:     cfg,
		md:      md,
		placer:  placer,
		gate:    gate,
		pf:      pf,
		runners: make(map[string]*runner),
	}
}

// StartStrategy 启动一个策略实例。同一 (策略, 交易对) 只允许一个运行器。
func (s *Scheduler) StartStrategy(ctx context.Context, strat strategies.Strategy, symbol string) error {
	if v, ok := strat.(strategies.Defaulter); ok {
		if err := v.Defaults(); err != nil {
			return err
		}
	}
	if err := strat.Validate(); err != nil {
		return err
	}

	id := strat.ID() + ":" + symbol

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runners[id]; exists {
		return fmt.Errorf("策略 %s 已在运行", id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{
		id:       id,
		symbol:   symbol,
		strategy: strat,
		sched:    s,
		trigger:  make(chan struct{}, 1),
		cancel:   cancel,
	}
	s.runners[id] = r
	s.sg.Go(func() { r.loop(runCtx) })

	log.Infof("策略 %s 已启动", id)
	return nil
}

// StopStrategy 协作式停止一个策略实例
func (s *Scheduler) StopStrategy(id string) error {
	s.mu.Lock()
	r, ok := s.runners[id]
	if ok {
		delete(s.runners, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("策略 %s 不在运行", id)
	}
	r.cancel()
	log.Infof("策略 %s 已停止", id)
	return nil
}

// NotifyKlineClosed K 线收盘事件触发对应交易对的策略评估
func (s *Scheduler) NotifyKlineClosed(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runners {
		if r.symbol == symbol {
			select {
			case r.trigger <- struct{}{}:
			default:
			}
		}
	}
}

// Statuses 所有运行器的状态快照
func (s *Scheduler) Statuses() []RunnerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunnerStatus, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, r.status())
	}
	return out
}

// Close 停止所有运行器并等待退出
func (s *Scheduler) Close() {
	s.mu.Lock()
	for id, r := range s.runners {
		r.cancel()
		delete(s.runners, id)
	}
	s.mu.Unlock()
	s.sg.Wait()
}

func (r *runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.sched.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluate(ctx)
		case <-r.trigger:
			r.evaluate(ctx)
		}
	}
}

// evaluate 一次完整的评估。重入保护：上一轮还在跑时直接跳过。
func (r *runner) evaluate(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		log.Debugf("策略 %s 上一轮评估未结束，跳过本次触发", r.id)
		return
	}
	defer r.inFlight.Store(false)

	r.mu.Lock()
	r.lastRunAt = time.Now()
	r.evaluated++
	r.mu.Unlock()

	mc, err := r.buildContext(ctx)
	if err != nil {
		r.setError(err)
		return
	}

	signals, err := r.strategy.Execute(ctx, mc)
	if err != nil {
		r.setError(err)
		return
	}
	r.setError(nil)

	for _, sig := range signals {
		r.runPipeline(ctx, sig)
	}
}

func (r *runner) buildContext(ctx context.Context) (*strategies.MarketContext, error) {
	price, err := r.sched.md.TickerPrice(ctx, r.symbol)
	if err != nil {
		return nil, err
	}
	klines, err := r.sched.md.Klines(ctx, r.symbol, r.sched.cfg.KlineInterval, r.sched.cfg.KlineLimit)
	if err != nil {
		return nil, err
	}
	pos, _ := r.sched.pf.Position(r.symbol)
	return &strategies.MarketContext{
		Symbol:         r.symbol,
		Ticker:         domain.Ticker{Symbol: r.symbol, Price: price, Timestamp: time.Now()},
		Klines:         klines,
		OpenOrders:     r.sched.placer.OpenOrders(r.symbol),
		Position:       pos,
		AvailableQuote: r.sched.pf.AvailableQuote(),
	}, nil
}

// runPipeline 信号管线：全局限制 -> 交易对停牌 -> 单信号评估 -> 仓位 -> 下单。
// 任何一步拒绝都短路，并保留原因供查询。
func (r *runner) runPipeline(ctx context.Context, sig domain.Signal) {
	gate := r.sched.gate

	if d := gate.CheckGlobalLimits(); d != nil {
		r.setDenial(d.Reason)
		return
	}
	if d := gate.CheckSymbol(sig.Symbol); d != nil {
		r.setDenial(d.Reason)
		return
	}
	if d := gate.AssessSignal(sig); d != nil {
		r.setDenial(d.Reason)
		return
	}

	// 买入数量由风控测算；策略给了提示值时只向下收紧，不放大
	qty := sig.QuantityHint
	if sig.Type == domain.SignalBuy {
		sized := gate.SizePosition(sig)
		if qty <= 0 || (sized > 0 && sized < qty) {
			qty = sized
		}
	}
	if qty <= 0 {
		r.setDenial("sized quantity is zero")
		return
	}

	_, err := r.sched.placer.Place(ctx, ledger.PlaceParams{
		Symbol:     sig.Symbol,
		Side:       domain.Side(sig.Type),
		Type:       domain.OrderTypeLimit,
		Quantity:   qty,
		Price:      sig.DesiredPrice,
		StrategyID: sig.StrategyID,
	})
	if err != nil {
		r.setError(err)
		return
	}

	r.mu.Lock()
	r.placed++
	r.lastDenial = ""
	r.mu.Unlock()
}

func (r *runner) setDenial(reason string) {
	log.Warnf("策略 %s 信号被风控拒绝: %s", r.id, reason)
	r.mu.Lock()
	r.lastDenial = reason
	r.mu.Unlock()
}

func (r *runner) setError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		log.Errorf("策略 %s 评估出错: %v", r.id, err)
		r.lastError = err.Error()
		return
	}
	r.lastError = ""
}

func (r *runner) status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunnerStatus{
		StrategyID: r.strategy.ID(),
		Symbol:     r.symbol,
		Running:    true,
		LastRunAt:  r.lastRunAt,
		LastDenial: r.lastDenial,
		LastError:  r.lastError,
		Evaluated:  r.evaluated,
		Placed:     r.placed,
	}
}
