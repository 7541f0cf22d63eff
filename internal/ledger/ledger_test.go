package ledger

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/exchange"
)

// fakeExchange 可编排响应的假交易所
type fakeExchange struct {
	mu      sync.Mutex
	nextID  int64
	placeFn func(req exchange.OrderRequest) (*exchange.OrderAck, *exchange.Result)
	queried []string
}

func okResult() *exchange.Result { return &exchange.Result{Success: true} }

func netErr() *exchange.Result {
	return &exchange.Result{Success: false, HTTPStatus: 0, Error: "connection reset"}
}

func rejection(code int) *exchange.Result {
	return &exchange.Result{Success: false, HTTPStatus: 400, Code: code, Error: "rejected"}
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, *exchange.Result) {
	if f.placeFn != nil {
		return f.placeFn(req)
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return &exchange.OrderAck{
		Symbol:          req.Symbol,
		ExchangeOrderID: strconv.FormatInt(id, 10),
		ClientRef:       req.ClientRef,
		Status:          domain.OrderStatusOpen,
		TransactTime:    time.Now(),
	}, okResult()
}

func (f *fakeExchange) QueryOrder(ctx context.Context, symbol, id string) (*exchange.OrderAck, *exchange.Result) {
	f.mu.Lock()
	f.queried = append(f.queried, id)
	f.mu.Unlock()
	return &exchange.OrderAck{Symbol: symbol, ExchangeOrderID: id, Status: domain.OrderStatusOpen}, okResult()
}

func (f *fakeExchange) QueryOrderByRef(ctx context.Context, symbol, ref string) (*exchange.OrderAck, *exchange.Result) {
	return nil, rejection(-2013)
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, id string) (*exchange.OrderAck, *exchange.Result) {
	return &exchange.OrderAck{Symbol: symbol, ExchangeOrderID: id, Status: domain.OrderStatusCanceled}, okResult()
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) ([]*exchange.OrderAck, *exchange.Result) {
	return nil, okResult()
}

func (f *fakeExchange) PlaceOCO(ctx context.Context, req exchange.OCORequest) (*exchange.OCOAck, *exchange.Result) {
	return &exchange.OCOAck{
		GroupID: "grp-1",
		Orders: []*exchange.OrderAck{
			{Symbol: req.Symbol, ExchangeOrderID: "101", ClientRef: "gb-leg1", Status: domain.OrderStatusOpen, Price: req.Price},
			{Symbol: req.Symbol, ExchangeOrderID: "102", ClientRef: "gb-leg2", Status: domain.OrderStatusOpen, Price: req.StopPrice},
		},
	}, okResult()
}

func place(t *testing.T, l *Ledger) *domain.Order {
	t.Helper()
	order, err := l.Place(context.Background(), PlaceParams{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 30000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return order
}

// 测试下单成功后订单进入 NEW 状态
func TestPlaceSuccess(t *testing.T) {
	l := New(&fakeExchange{}, 0)
	order := place(t, l)

	if order.Status != domain.OrderStatusOpen {
		t.Errorf("status = %s, want NEW", order.Status)
	}
	if order.ExchangeOrderID == "" {
		t.Error("应回填交易所订单 ID")
	}
	if got, ok := l.Get(order.ExchangeOrderID); !ok || got.ClientRef != order.ClientRef {
		t.Error("账本应能按交易所 ID 查到订单")
	}
}

// 测试 Place 返回的是副本：之后的对账不会改写调用方手里的订单
func TestPlaceReturnsDetachedCopy(t *testing.T) {
	l := New(&fakeExchange{}, 0)
	order := place(t, l)

	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          domain.OrderStatusFilled,
		FilledQty:       1,
		AvgFillPrice:    30000,
		EventTime:       time.Now(),
	})

	if order.Status != domain.OrderStatusOpen {
		t.Errorf("返回值不应随账本变动, status = %s", order.Status)
	}
	if got, _ := l.Get(order.ExchangeOrderID); got.Status != domain.OrderStatusFilled {
		t.Errorf("账本内状态应已前进到 FILLED, got %s", got.Status)
	}
}

// 测试参数校验
func TestPlaceValidation(t *testing.T) {
	l := New(&fakeExchange{}, 0)

	cases := []PlaceParams{
		{Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 1},            // 缺 symbol
		{Symbol: "BTCUSDT", Side: "HOLD", Type: domain.OrderTypeLimit, Quantity: 1, Price: 1}, // 非法方向
		{Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 0, Price: 1},
		{Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 0}, // 限价单缺价格
	}
	for i, params := range cases {
		if _, err := l.Place(context.Background(), params); err == nil {
			t.Errorf("用例 %d 应校验失败", i)
		}
	}
}

// 测试交易所拒绝后订单落 REJECTED 终态
func TestPlaceVenueRejection(t *testing.T) {
	ex := &fakeExchange{placeFn: func(req exchange.OrderRequest) (*exchange.OrderAck, *exchange.Result) {
		return nil, rejection(-2010)
	}}
	l := New(ex, 0)

	order, err := l.Place(context.Background(), PlaceParams{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 30000,
	})
	if err == nil {
		t.Fatal("交易所拒绝应返回错误")
	}
	if order.Status != domain.OrderStatusRejected {
		t.Errorf("status = %s, want REJECTED", order.Status)
	}
}

// 测试网络错误后订单保持 PENDING 等待对账
func TestPlaceNetworkErrorStaysPending(t *testing.T) {
	ex := &fakeExchange{placeFn: func(req exchange.OrderRequest) (*exchange.OrderAck, *exchange.Result) {
		return nil, netErr()
	}}
	l := New(ex, 0)

	order, err := l.Place(context.Background(), PlaceParams{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 30000,
	})
	if err == nil {
		t.Fatal("结果未知应返回错误")
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("status = %s, want PENDING", order.Status)
	}
	if got, ok := l.GetByRef(order.ClientRef); !ok || got.Status != domain.OrderStatusPending {
		t.Error("账本应保留 PENDING 订单供对账")
	}
}

// 测试状态只前进：终态之后的更新被丢弃
func TestReconcileForwardOnly(t *testing.T) {
	l := New(&fakeExchange{}, 0)
	order := place(t, l)

	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          domain.OrderStatusCanceled,
		EventTime:       time.Now(),
	})
	got, _ := l.Get(order.ExchangeOrderID)
	if got.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}

	// 迟到的 FILLED 不能把 CANCELED 改掉
	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          domain.OrderStatusFilled,
		FilledQty:       1,
		EventTime:       time.Now(),
	})
	got, _ = l.Get(order.ExchangeOrderID)
	if got.Status != domain.OrderStatusCanceled {
		t.Errorf("终态后更新应被丢弃, status = %s", got.Status)
	}

	// 落后状态的更新同样被丢弃
	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          domain.OrderStatusOpen,
		EventTime:       time.Now(),
	})
	got, _ = l.Get(order.ExchangeOrderID)
	if got.Status != domain.OrderStatusCanceled {
		t.Errorf("落后更新应被丢弃, status = %s", got.Status)
	}
}

// 测试成交增量触发回调，重复更新不重复计量
func TestReconcileFillDelta(t *testing.T) {
	l := New(&fakeExchange{}, 0)

	var fills []domain.Trade
	l.OnFill(func(trade domain.Trade) { fills = append(fills, trade) })

	order := place(t, l)

	update := domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          domain.OrderStatusPartial,
		FilledQty:       0.4,
		AvgFillPrice:    30000,
		EventTime:       time.Now(),
	}
	l.Reconcile(update)
	l.Reconcile(update) // 同一更新到达两次（轮询 + 流）

	if len(fills) != 1 {
		t.Fatalf("重复更新不应重复触发成交, fills = %d", len(fills))
	}
	if fills[0].Quantity != 0.4 {
		t.Errorf("成交增量 = %.2f, want 0.4", fills[0].Quantity)
	}

	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          domain.OrderStatusFilled,
		FilledQty:       1,
		AvgFillPrice:    30010,
		EventTime:       time.Now(),
	})
	if len(fills) != 2 {
		t.Fatalf("全部成交应再触发一次, fills = %d", len(fills))
	}
	if fills[1].Quantity != 0.6 {
		t.Errorf("第二次成交增量 = %.2f, want 0.6", fills[1].Quantity)
	}
}

// 测试 OCO 两条腿共享组 ID，一腿成交另一腿经对账撤销
func TestPlaceOCO(t *testing.T) {
	l := New(&fakeExchange{}, 0)

	legs, err := l.PlaceOCO(context.Background(), PlaceParams{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit, Quantity: 1, Price: 31000,
	}, 29000, 28900)
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 2 {
		t.Fatalf("应有两条腿, got %d", len(legs))
	}
	if legs[0].OCOGroupID != legs[1].OCOGroupID || legs[0].OCOGroupID == "" {
		t.Error("两条腿应共享组 ID")
	}

	// 一腿成交
	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: legs[0].ExchangeOrderID,
		Status:          domain.OrderStatusFilled,
		FilledQty:       1,
		EventTime:       time.Now(),
	})
	// 交易所确认另一腿撤销
	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: legs[1].ExchangeOrderID,
		Status:          domain.OrderStatusCanceled,
		EventTime:       time.Now(),
	})

	a, _ := l.Get(legs[0].ExchangeOrderID)
	b, _ := l.Get(legs[1].ExchangeOrderID)
	if a.Status != domain.OrderStatusFilled || b.Status != domain.OrderStatusCanceled {
		t.Errorf("legs = %s/%s, want FILLED/CANCELED", a.Status, b.Status)
	}
}

// 测试净成交量统计（买正卖负）
func TestNetFilledBySymbol(t *testing.T) {
	l := New(&fakeExchange{}, 0)

	buy := place(t, l)
	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: buy.ExchangeOrderID, Status: domain.OrderStatusFilled, FilledQty: 1, EventTime: time.Now(),
	})

	sell, err := l.Place(context.Background(), PlaceParams{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeLimit, Quantity: 0.4, Price: 31000,
	})
	if err != nil {
		t.Fatal(err)
	}
	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: sell.ExchangeOrderID, Status: domain.OrderStatusFilled, FilledQty: 0.4, EventTime: time.Now(),
	})

	net := l.NetFilledBySymbol()
	if got := net["BTCUSDT"]; got != 0.6 {
		t.Errorf("净成交 = %.2f, want 0.6", got)
	}
}

// 测试已到终态的订单撤销是空操作
func TestCancelTerminalNoop(t *testing.T) {
	l := New(&fakeExchange{}, 0)
	order := place(t, l)

	l.Reconcile(domain.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID, Status: domain.OrderStatusFilled, FilledQty: 1, EventTime: time.Now(),
	})
	if err := l.Cancel(context.Background(), order.ExchangeOrderID); err != nil {
		t.Errorf("终态订单撤销应为空操作: %v", err)
	}
}
