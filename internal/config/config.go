package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradebot/gobinance/internal/risk"
	"github.com/tradebot/gobinance/internal/strategies"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ExchangeConfig 交易所接入配置。凭证不放配置文件，
// 从环境变量或加密凭证库读取。
type ExchangeConfig struct {
	BaseURL           string `yaml:"base_url"`
	StreamURL         string `yaml:"stream_url"`
	RateLimit         int    `yaml:"rate_limit"`
	RateWindowSec     int    `yaml:"rate_window_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	RecvWindowMs      int64  `yaml:"recv_window_ms"`
}

// PortfolioConfig 组合配置
type PortfolioConfig struct {
	QuoteAsset         string `yaml:"quote_asset"`
	BridgeAsset        string `yaml:"bridge_asset"`
	HistoryLimit       int    `yaml:"history_limit"`
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	IntervalSec   int    `yaml:"interval_sec"`
	KlineInterval string `yaml:"kline_interval"`
	KlineLimit    int    `yaml:"kline_limit"`
}

// ControlPlaneConfig 控制面配置
type ControlPlaneConfig struct {
	Listen string `yaml:"listen"`
}

// HistoryConfig 成交历史配置
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// StateConfig 状态持久化配置
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// SecretsConfig 凭证库配置。为空则只用环境变量里的凭证。
type SecretsConfig struct {
	Path string `yaml:"path"`
}

// StrategyEntry 策略配置条目：key 是策略 ID，value 是该策略的配置
type StrategyEntry map[string]map[string]interface{}

// Config 进程完整配置
type Config struct {
	Log          LogConfig          `yaml:"log"`
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Risk         risk.Settings      `yaml:"risk"`
	Portfolio    PortfolioConfig    `yaml:"portfolio"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	History      HistoryConfig      `yaml:"history"`
	State        StateConfig        `yaml:"state"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	Strategies   []StrategyEntry    `yaml:"strategies"`
}

// Load 从文件加载配置并填充默认值
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Risk: risk.DefaultSettings()}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖：BINANCE_TESTNET 非空时切到测试网端点，
// 配置文件里的地址随之失效，避免误把实盘凭证打到测试网或反过来。
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BINANCE_TESTNET"); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		c.Exchange.BaseURL = "https://testnet.binance.vision"
		c.Exchange.StreamURL = "wss://stream.testnet.binance.vision"
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.binance.com"
	}
	if c.Exchange.StreamURL == "" {
		c.Exchange.StreamURL = "wss://stream.binance.com:9443"
	}
	if c.Exchange.RateLimit == 0 {
		c.Exchange.RateLimit = 1200
	}
	if c.Exchange.RateWindowSec == 0 {
		c.Exchange.RateWindowSec = 60
	}
	if c.Exchange.RequestTimeoutSec == 0 {
		c.Exchange.RequestTimeoutSec = 10
	}
	if c.Portfolio.QuoteAsset == "" {
		c.Portfolio.QuoteAsset = "USDT"
	}
	if c.Portfolio.BridgeAsset == "" {
		c.Portfolio.BridgeAsset = "BTC"
	}
	if c.Portfolio.RefreshIntervalSec == 0 {
		c.Portfolio.RefreshIntervalSec = 300
	}
	if c.Scheduler.IntervalSec == 0 {
		c.Scheduler.IntervalSec = 30
	}
	if c.Scheduler.KlineInterval == "" {
		c.Scheduler.KlineInterval = "1m"
	}
	if c.Scheduler.KlineLimit == 0 {
		c.Scheduler.KlineLimit = 100
	}
	if c.ControlPlane.Listen == "" {
		c.ControlPlane.Listen = ":8080"
	}
	if c.History.DBPath == "" {
		c.History.DBPath = "data/history.db"
	}
	if c.State.Dir == "" {
		c.State.Dir = "data/state"
	}
}

// RateWindow 速率窗口
func (c *ExchangeConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSec) * time.Second
}

// RequestTimeout 单次请求超时
func (c *ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// ConfiguredStrategy 一个按配置实例化好的策略及其交易对
type ConfiguredStrategy struct {
	Strategy strategies.Strategy
	Symbol   string
}

// BuildStrategies 把配置条目实例化成策略。
// 配置经 JSON 往返注入策略结构体，和策略自身的 json tag 对应。
func (c *Config) BuildStrategies(reg *strategies.Registry) ([]ConfiguredStrategy, error) {
	var out []ConfiguredStrategy
	for _, entry := range c.Strategies {
		for id, conf := range entry {
			strat, err := reg.New(id)
			if err != nil {
				return nil, err
			}

			raw, err := json.Marshal(conf)
			if err != nil {
				return nil, fmt.Errorf("序列化策略 %s 配置失败: %w", id, err)
			}
			if err := json.Unmarshal(raw, strat); err != nil {
				return nil, fmt.Errorf("反序列化策略 %s 配置失败: %w", id, err)
			}

			symbol, _ := conf["symbol"].(string)
			if symbol == "" {
				return nil, fmt.Errorf("策略 %s 缺少 symbol 配置", id)
			}
			out = append(out, ConfiguredStrategy{Strategy: strat, Symbol: symbol})
		}
	}
	return out, nil
}
