package ledger

import (
	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/pkg/persistence"
)

// State 落盘的账本状态
type State struct {
	Orders []domain.Order `json:"orders"`
}

// SaveState 把全部订单写入存储
func (l *Ledger) SaveState(store persistence.Store) error {
	l.mu.Lock()
	state := State{Orders: make([]domain.Order, 0, len(l.byClientRef))}
	for _, o := range l.byClientRef {
		state.Orders = append(state.Orders, *o)
	}
	l.mu.Unlock()
	return store.Save(state)
}

// LoadState 从存储恢复订单。重启后非终态订单会被轮询器对账收敛。
func (l *Ledger) LoadState(store persistence.Store) error {
	var state State
	if err := store.Load(&state); err != nil {
		if err == persistence.ErrNotExists {
			return nil
		}
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range state.Orders {
		o := state.Orders[i]
		l.byClientRef[o.ClientRef] = &o
		if o.ExchangeOrderID != "" {
			l.byExchangeID[o.ExchangeOrderID] = &o
		}
	}
	ledgerLog.Infof("账本已恢复 %d 笔订单", len(state.Orders))
	return nil
}
