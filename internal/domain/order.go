package domain

import (
	"time"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"          // 已提交，等待交易所确认
	OrderStatusOpen      OrderStatus = "NEW"              // 交易所已接受
	OrderStatusPartial   OrderStatus = "PARTIALLY_FILLED" // 部分成交
	OrderStatusFilled    OrderStatus = "FILLED"           // 全部成交
	OrderStatusCanceled  OrderStatus = "CANCELED"         // 已取消
	OrderStatusRejected  OrderStatus = "REJECTED"         // 被拒绝
	OrderStatusExpired   OrderStatus = "EXPIRED"          // 已过期
)

// statusRank 状态单调序。状态只能前进，不能后退，
// 用于丢弃轮询/推送双通道带来的乱序更新。
var statusRank = map[OrderStatus]int{
	OrderStatusPending:  0,
	OrderStatusOpen:     1,
	OrderStatusPartial:  2,
	OrderStatusFilled:   3,
	OrderStatusCanceled: 3,
	OrderStatusRejected: 3,
	OrderStatusExpired:  3,
}

// Rank 返回状态的单调序号，未知状态返回 -1
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal 检查状态是否为终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo 检查从当前状态迁移到 next 是否合法。
// 终态不可再迁移；其余状态只允许前进（相同终序号之间不互转）。
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.Rank() > s.Rank()
}

// Order 订单领域模型
type Order struct {
	ClientRef       string      // 客户端引用（下单前的唯一键）
	ExchangeOrderID string      // 交易所订单 ID（确认后的唯一键）
	Symbol          string      // 交易对（例如 BTCUSDT）
	Side            Side        // 订单方向
	Type            OrderType   // 订单类型
	RequestedQty    float64     // 请求数量
	FilledQty       float64     // 已成交数量（累计）
	Price           float64     // 订单价格（市价单为 0）
	Status          OrderStatus // 订单状态
	OCOGroupID      string      // OCO 组 ID（可选）
	StrategyID      string      // 产生该订单的策略 ID（手动下单为 "manual"）
	CreatedAt       time.Time   // 创建时间
	UpdatedAt       time.Time   // 最后更新时间
}

// IsOpen 检查订单是否仍在交易所挂着（含部分成交）
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartial
}

// IsTerminal 检查订单是否已到终态
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Key 返回订单的当前唯一键：分配了交易所 ID 后用交易所 ID，否则用客户端引用
func (o *Order) Key() string {
	if o.ExchangeOrderID != "" {
		return o.ExchangeOrderID
	}
	return o.ClientRef
}

// OrderUpdate 订单状态更新（来自轮询或用户数据流）
type OrderUpdate struct {
	ExchangeOrderID string
	ClientRef       string
	Symbol          string
	Status          OrderStatus
	FilledQty       float64     // 累计成交数量
	AvgFillPrice    float64     // 平均成交价（可选，0 表示未知）
	EventTime       time.Time
}
