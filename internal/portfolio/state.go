package portfolio

import (
	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/pkg/persistence"
)

// State 落盘的组合状态。余额和估值不落盘，重启后重新拉取。
type State struct {
	Positions     []domain.Position `json:"positions"`
	RealizedTotal float64           `json:"realized_total"`
}

// SaveState 把持仓和累计已实现盈亏写入存储
func (p *Portfolio) SaveState(store persistence.Store) error {
	p.mu.Lock()
	state := State{RealizedTotal: p.realizedTotal}
	for _, pos := range p.positions {
		state.Positions = append(state.Positions, *pos)
	}
	p.mu.Unlock()
	return store.Save(state)
}

// LoadState 从存储恢复持仓
func (p *Portfolio) LoadState(store persistence.Store) error {
	var state State
	if err := store.Load(&state); err != nil {
		if err == persistence.ErrNotExists {
			return nil
		}
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.realizedTotal = state.RealizedTotal
	for i := range state.Positions {
		pos := state.Positions[i]
		p.positions[pos.Symbol] = &pos
	}
	log.Infof("组合已恢复 %d 个持仓", len(state.Positions))
	return nil
}
