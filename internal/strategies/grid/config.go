package grid

import (
	"fmt"
)

// Config 网格策略配置
type Config struct {
	Symbol      string  `yaml:"symbol" json:"symbol"`             // 交易对
	LowerPrice  float64 `yaml:"lower_price" json:"lower_price"`   // 网格下边界
	UpperPrice  float64 `yaml:"upper_price" json:"upper_price"`   // 网格上边界
	GridCount   int     `yaml:"grid_count" json:"grid_count"`     // 网格数量（等分区间）
	QuoteAmount float64 `yaml:"quote_amount" json:"quote_amount"` // 每格买入的计价资产金额
	StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"` // 买入信号附带的止损距离（%）
}

// Defaults 填充默认参数
func (c *Config) Defaults() error {
	if c.GridCount == 0 {
		c.GridCount = 10
	}
	if c.StopLossPct == 0 {
		c.StopLossPct = 3.0
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("交易对不能为空")
	}
	if c.LowerPrice <= 0 || c.UpperPrice <= c.LowerPrice {
		return fmt.Errorf("网格边界无效: [%.8f, %.8f]", c.LowerPrice, c.UpperPrice)
	}
	if c.GridCount < 2 {
		return fmt.Errorf("网格数量至少为 2")
	}
	if c.QuoteAmount <= 0 {
		return fmt.Errorf("每格金额必须大于 0")
	}
	return nil
}
