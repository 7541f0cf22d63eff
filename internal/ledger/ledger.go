package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/exchange"
)

var ledgerLog = logrus.WithField("component", "ledger")

// ErrInvalidOrder 下单参数校验失败
var ErrInvalidOrder = errors.New("invalid order params")

// Exchange 账本对交易所客户端的窄依赖（测试时注入假实现）
type Exchange interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, *exchange.Result)
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (*exchange.OrderAck, *exchange.Result)
	QueryOrderByRef(ctx context.Context, symbol, clientRef string) (*exchange.OrderAck, *exchange.Result)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) (*exchange.OrderAck, *exchange.Result)
	CancelAllOrders(ctx context.Context, symbol string) ([]*exchange.OrderAck, *exchange.Result)
	PlaceOCO(ctx context.Context, req exchange.OCORequest) (*exchange.OCOAck, *exchange.Result)
}

// FillHandler 成交回调。delta 为本次新增的成交数量。
type FillHandler func(trade domain.Trade)

// PlaceParams 下单参数
type PlaceParams struct {
	Symbol     string
	Side       domain.Side
	Type       domain.OrderType
	Quantity   float64
	Price      float64
	StrategyID string
}

// Ledger 订单账本。
// 每笔订单的生命周期 PENDING -> NEW -> (PARTIALLY_FILLED) -> 终态，
// 状态只能前进。轮询和用户数据流两个来源的更新都走 Reconcile，
// 落后于当前状态的更新被丢弃。
type Ledger struct {
	ex Exchange

	mu           sync.Mutex
	byExchangeID map[string]*domain.Order
	byClientRef  map[string]*domain.Order

	onFill FillHandler

	pollInterval time.Duration
}

// New 创建订单账本
func New(ex Exchange, pollInterval time.Duration) *Ledger {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Ledger{
		ex:           ex,
		byExchangeID: make(map[string]*domain.Order),
		byClientRef:  make(map[string]*domain.Order),
		pollInterval: pollInterval,
	}
}

// OnFill 注册成交回调（新增成交量出现时触发）
func (l *Ledger) OnFill(fn FillHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFill = fn
}

// Place 下单：校验参数、插入 PENDING 记录、提交交易所、
// 按同步响应迁移到 NEW 或终态。返回交易所订单 ID。
func (l *Ledger) Place(ctx context.Context, params PlaceParams) (*domain.Order, error) {
	if err := validate(params); err != nil {
		return nil, err
	}

	clientRef := exchange.NewClientRef()
	order := &domain.Order{
		ClientRef:    clientRef,
		Symbol:       params.Symbol,
		Side:         params.Side,
		Type:         params.Type,
		RequestedQty: params.Quantity,
		Price:        params.Price,
		Status:       domain.OrderStatusPending,
		StrategyID:   params.StrategyID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	l.mu.Lock()
	l.byClientRef[clientRef] = order
	l.mu.Unlock()

	ack, res := l.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:    params.Symbol,
		Side:      params.Side,
		Type:      params.Type,
		Quantity:  params.Quantity,
		Price:     params.Price,
		ClientRef: clientRef,
	})

	if ack == nil {
		if res.IsVenueRejection() {
			// 交易所明确拒绝，订单不存在，直接落终态
			l.applyUpdate(domain.OrderUpdate{
				ClientRef: clientRef,
				Symbol:    params.Symbol,
				Status:    domain.OrderStatusRejected,
				EventTime: time.Now(),
			})
			return l.snapshotByRef(clientRef), errors.Errorf("venue rejected order: %s (code=%d)", res.Error, res.Code)
		}
		// 网络错误：订单可能已到达交易所，保持 PENDING，由轮询按 clientRef 对账
		ledgerLog.Warnf("下单结果未知（网络错误），保持 PENDING 等待对账: ref=%s err=%s", clientRef, res.Error)
		return l.snapshotByRef(clientRef), errors.Errorf("order submit inconclusive: %s", res.Error)
	}

	l.applyUpdate(ackToUpdate(ack))
	snap := l.snapshotByRef(clientRef)
	if snap.Status == domain.OrderStatusRejected {
		return snap, errors.New("venue rejected order")
	}

	ledgerLog.Infof("下单成功: %s %s %s qty=%v id=%s strategy=%s",
		params.Symbol, params.Side, params.Type, params.Quantity, snap.ExchangeOrderID, params.StrategyID)
	return snap, nil
}

// snapshotByRef 返回订单当前状态的副本。
// 账本内的活对象会被对账持续改写，绝不能交到调用方手里。
func (l *Ledger) snapshotByRef(clientRef string) *domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.byClientRef[clientRef]; ok {
		cp := *o
		return &cp
	}
	return nil
}

// PlaceOCO 提交一对 OCO 订单。两条腿共享组 ID；
// 一腿撤销/成交后，另一腿由交易所撤销，经对账落到 CANCELED。
func (l *Ledger) PlaceOCO(ctx context.Context, params PlaceParams, stopPrice, stopLimitPrice float64) ([]*domain.Order, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	if stopPrice <= 0 {
		return nil, errors.Wrap(ErrInvalidOrder, "oco requires stop price")
	}

	ack, res := l.ex.PlaceOCO(ctx, exchange.OCORequest{
		Symbol:         params.Symbol,
		Side:           params.Side,
		Quantity:       params.Quantity,
		Price:          params.Price,
		StopPrice:      stopPrice,
		StopLimitPrice: stopLimitPrice,
	})
	if ack == nil {
		return nil, errors.Errorf("oco submit failed: %s", res.Error)
	}

	l.mu.Lock()
	orders := make([]*domain.Order, 0, len(ack.Orders))
	for _, legAck := range ack.Orders {
		leg := &domain.Order{
			ClientRef:       legAck.ClientRef,
			ExchangeOrderID: legAck.ExchangeOrderID,
			Symbol:          legAck.Symbol,
			Side:            params.Side,
			Type:            domain.OrderTypeLimit,
			RequestedQty:    params.Quantity,
			Price:           legAck.Price,
			Status:          legAck.Status,
			OCOGroupID:      ack.GroupID,
			StrategyID:      params.StrategyID,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if leg.Status == "" {
			leg.Status = domain.OrderStatusOpen
		}
		l.byExchangeID[leg.ExchangeOrderID] = leg
		if leg.ClientRef != "" {
			l.byClientRef[leg.ClientRef] = leg
		}
		cp := *leg
		orders = append(orders, &cp)
	}
	l.mu.Unlock()

	ledgerLog.Infof("OCO 下单成功: %s group=%s legs=%d", params.Symbol, ack.GroupID, len(orders))
	return orders, nil
}

// Reconcile 应用一条状态更新（来自轮询或用户数据流）。
// 状态只前进：落后的更新被丢弃，防止双通道乱序把终态改回去。
func (l *Ledger) Reconcile(update domain.OrderUpdate) {
	l.applyUpdate(update)
}

// applyUpdate 加锁应用更新
func (l *Ledger) applyUpdate(update domain.OrderUpdate) {
	l.mu.Lock()

	order := l.find(update)
	if order == nil {
		l.mu.Unlock()
		ledgerLog.Debugf("收到未知订单的更新，忽略: id=%s ref=%s", update.ExchangeOrderID, update.ClientRef)
		return
	}

	if !shouldApply(order, update) {
		l.mu.Unlock()
		ledgerLog.Debugf("丢弃乱序/过期更新: id=%s %s -> %s", order.Key(), order.Status, update.Status)
		return
	}

	prevFilled := order.FilledQty

	if update.ExchangeOrderID != "" && order.ExchangeOrderID == "" {
		order.ExchangeOrderID = update.ExchangeOrderID
		l.byExchangeID[order.ExchangeOrderID] = order
	}
	if update.Status.Rank() > order.Status.Rank() {
		order.Status = update.Status
	}
	if update.FilledQty > order.FilledQty {
		order.FilledQty = update.FilledQty
	}
	order.UpdatedAt = time.Now()

	fillDelta := order.FilledQty - prevFilled
	fillPrice := update.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = order.Price
	}
	onFill := l.onFill
	trade := domain.Trade{
		OrderID:    order.Key(),
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   fillDelta,
		Price:      fillPrice,
		StrategyID: order.StrategyID,
		Timestamp:  update.EventTime,
	}
	l.mu.Unlock()

	if fillDelta > 0 && onFill != nil {
		onFill(trade)
	}
}

// find 按交易所 ID 或客户端引用定位订单（调用方持锁）
func (l *Ledger) find(update domain.OrderUpdate) *domain.Order {
	if update.ExchangeOrderID != "" {
		if o, ok := l.byExchangeID[update.ExchangeOrderID]; ok {
			return o
		}
	}
	if update.ClientRef != "" {
		if o, ok := l.byClientRef[update.ClientRef]; ok {
			return o
		}
	}
	return nil
}

// shouldApply 判断更新是否还有新信息
func shouldApply(order *domain.Order, update domain.OrderUpdate) bool {
	if order.Status.IsTerminal() {
		return false
	}
	if update.Status.Rank() < order.Status.Rank() {
		return false
	}
	if update.Status.Rank() == order.Status.Rank() && update.FilledQty <= order.FilledQty {
		return false
	}
	return true
}

// Cancel 撤销单个订单
func (l *Ledger) Cancel(ctx context.Context, exchangeOrderID string) error {
	l.mu.Lock()
	order, ok := l.byExchangeID[exchangeOrderID]
	l.mu.Unlock()
	if !ok {
		return errors.Errorf("order %s not found", exchangeOrderID)
	}
	if order.IsTerminal() {
		return nil // 已到终态，无事可做
	}

	ack, res := l.ex.CancelOrder(ctx, order.Symbol, exchangeOrderID)
	if ack == nil {
		return errors.Errorf("cancel %s failed: %s", exchangeOrderID, res.Error)
	}
	l.applyUpdate(ackToUpdate(ack))
	return nil
}

// CancelAll 撤销一个交易对的全部挂单
func (l *Ledger) CancelAll(ctx context.Context, symbol string) error {
	acks, res := l.ex.CancelAllOrders(ctx, symbol)
	if acks == nil && !res.Success {
		return errors.Errorf("cancel all %s failed: %s", symbol, res.Error)
	}
	for _, ack := range acks {
		l.applyUpdate(ackToUpdate(ack))
	}
	return nil
}

// Get 按交易所 ID 查找订单（返回副本）
func (l *Ledger) Get(exchangeOrderID string) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.byExchangeID[exchangeOrderID]; ok {
		return *o, true
	}
	return domain.Order{}, false
}

// GetByRef 按客户端引用查找订单（返回副本）
func (l *Ledger) GetByRef(clientRef string) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.byClientRef[clientRef]; ok {
		return *o, true
	}
	return domain.Order{}, false
}

// OpenOrders 返回全部未到终态的订单副本（symbol 为空表示全部）
func (l *Ledger) OpenOrders(symbol string) []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Order
	for _, o := range l.byClientRef {
		if o.Status.IsTerminal() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// OpenPositionCount 统计有未终态订单的交易对数量（风控用）
func (l *Ledger) OpenPositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbols := make(map[string]struct{})
	for _, o := range l.byClientRef {
		if !o.Status.IsTerminal() {
			symbols[o.Symbol] = struct{}{}
		}
	}
	return len(symbols)
}

// NetFilledBySymbol 返回每个交易对的净成交量（买为正，卖为负）。
// 用于和仓位跟踪器的数量对账，发现不一致即为状态一致性缺陷。
func (l *Ledger) NetFilledBySymbol() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	net := make(map[string]float64)
	for _, o := range l.byClientRef {
		if o.FilledQty <= 0 {
			continue
		}
		if o.Side == domain.SideBuy {
			net[o.Symbol] += o.FilledQty
		} else {
			net[o.Symbol] -= o.FilledQty
		}
	}
	return net
}

func validate(params PlaceParams) error {
	switch {
	case params.Symbol == "":
		return errors.Wrap(ErrInvalidOrder, "symbol required")
	case params.Side != domain.SideBuy && params.Side != domain.SideSell:
		return errors.Wrap(ErrInvalidOrder, "side must be BUY or SELL")
	case params.Type != domain.OrderTypeLimit && params.Type != domain.OrderTypeMarket:
		return errors.Wrap(ErrInvalidOrder, "type must be LIMIT or MARKET")
	case params.Quantity <= 0:
		return errors.Wrap(ErrInvalidOrder, "quantity must be positive")
	case params.Type == domain.OrderTypeLimit && params.Price <= 0:
		return errors.Wrap(ErrInvalidOrder, "limit order requires price")
	}
	return nil
}

// ackToUpdate 把 REST 响应转成统一的状态更新
func ackToUpdate(ack *exchange.OrderAck) domain.OrderUpdate {
	return domain.OrderUpdate{
		ExchangeOrderID: ack.ExchangeOrderID,
		ClientRef:       ack.ClientRef,
		Symbol:          ack.Symbol,
		Status:          ack.Status,
		FilledQty:       ack.ExecutedQty,
		AvgFillPrice:    ack.Price,
		EventTime:       ack.TransactTime,
	}
}
