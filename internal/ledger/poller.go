package ledger

import (
	"context"
	"time"

	"github.com/tradebot/gobinance/internal/domain"
)

// pendingGrace PENDING 订单开始按 clientRef 对账前的宽限期。
// 同步响应通常在几秒内到达，过早查询只是浪费请求预算。
const pendingGrace = 10 * time.Second

// RunPoller 启动后台对账轮询。
// 即使用户数据流在线也照常轮询：流可能静默丢消息，
// 轮询是正确性兜底，不是降级通道。
func (l *Ledger) RunPoller(ctx context.Context) {
	ledgerLog.Infof("订单对账轮询启动: interval=%s", l.pollInterval)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ledgerLog.Info("订单对账轮询退出")
			return
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

// pollOnce 查询一轮所有未到终态的订单
func (l *Ledger) pollOnce(ctx context.Context) {
	for _, order := range l.OpenOrders("") {
		if ctx.Err() != nil {
			return
		}
		switch {
		case order.ExchangeOrderID != "":
			l.pollByID(ctx, order)
		case order.Status == domain.OrderStatusPending && time.Since(order.CreatedAt) > pendingGrace:
			l.pollByRef(ctx, order)
		}
	}
}

func (l *Ledger) pollByID(ctx context.Context, order domain.Order) {
	ack, res := l.ex.QueryOrder(ctx, order.Symbol, order.ExchangeOrderID)
	if ack == nil {
		ledgerLog.Debugf("轮询订单 %s 失败: %s", order.ExchangeOrderID, res.Error)
		return
	}
	l.applyUpdate(ackToUpdate(ack))
}

// pollByRef 处理下单响应丢失的 PENDING 订单：
// 交易所查得到就正常对账，查不到（-2013 不存在）说明请求从未到达，落 REJECTED。
func (l *Ledger) pollByRef(ctx context.Context, order domain.Order) {
	ack, res := l.ex.QueryOrderByRef(ctx, order.Symbol, order.ClientRef)
	if ack != nil {
		l.applyUpdate(ackToUpdate(ack))
		return
	}
	if res.IsVenueRejection() {
		ledgerLog.Warnf("PENDING 订单在交易所不存在，判定提交失败: ref=%s", order.ClientRef)
		l.applyUpdate(domain.OrderUpdate{
			ClientRef: order.ClientRef,
			Symbol:    order.Symbol,
			Status:    domain.OrderStatusRejected,
			EventTime: time.Now(),
		})
	}
}
