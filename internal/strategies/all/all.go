// Package all 汇总导入全部内置策略，触发各策略的 init() 注册。
package all

import (
	_ "github.com/tradebot/gobinance/internal/strategies/grid"
	_ "github.com/tradebot/gobinance/internal/strategies/threshold"
)
