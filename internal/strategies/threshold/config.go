package threshold

import (
	"fmt"
)

// Config 价格阈值策略配置
type Config struct {
	Symbol        string  `yaml:"symbol" json:"symbol"`                 // 交易对，例如 BTCUSDT
	BuyDropPct    float64 `yaml:"buy_drop_pct" json:"buy_drop_pct"`     // 相对近期高点的回落买入阈值（%）
	SellRisePct   float64 `yaml:"sell_rise_pct" json:"sell_rise_pct"`   // 相对持仓均价的上涨卖出阈值（%）
	QuoteAmount   float64 `yaml:"quote_amount" json:"quote_amount"`     // 单笔买入的计价资产金额
	HistoryLimit  int     `yaml:"history_limit" json:"history_limit"`   // 价格历史保留条数
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`   // 买入信号附带的止损距离（%）
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct"` // 买入信号附带的止盈距离（%）
}

// Defaults 填充默认参数
func (c *Config) Defaults() error {
	if c.BuyDropPct == 0 {
		c.BuyDropPct = 0.5
	}
	if c.SellRisePct == 0 {
		c.SellRisePct = 1.0
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 100
	}
	if c.StopLossPct == 0 {
		c.StopLossPct = 2.0
	}
	if c.TakeProfitPct == 0 {
		c.TakeProfitPct = 4.0
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("交易对不能为空")
	}
	if c.BuyDropPct <= 0 {
		return fmt.Errorf("买入回落阈值必须大于 0")
	}
	if c.SellRisePct <= 0 {
		return fmt.Errorf("卖出上涨阈值必须大于 0")
	}
	if c.QuoteAmount <= 0 {
		return fmt.Errorf("单笔金额必须大于 0")
	}
	if c.StopLossPct < 0 || c.TakeProfitPct < 0 {
		return fmt.Errorf("止损/止盈距离不能为负数")
	}
	return nil
}
