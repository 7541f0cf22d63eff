package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/config"
	"github.com/tradebot/gobinance/internal/controlplane/server"
	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/events"
	"github.com/tradebot/gobinance/internal/exchange"
	"github.com/tradebot/gobinance/internal/exchange/stream"
	"github.com/tradebot/gobinance/internal/feed"
	"github.com/tradebot/gobinance/internal/history"
	"github.com/tradebot/gobinance/internal/ledger"
	"github.com/tradebot/gobinance/internal/portfolio"
	"github.com/tradebot/gobinance/internal/risk"
	"github.com/tradebot/gobinance/internal/scheduler"
	"github.com/tradebot/gobinance/internal/strategies"
	"github.com/tradebot/gobinance/pkg/logger"
	"github.com/tradebot/gobinance/pkg/persistence"
	"github.com/tradebot/gobinance/pkg/secretstore"
	"github.com/tradebot/gobinance/pkg/shutdown"

	// 导入策略集合以触发 init() 注册
	_ "github.com/tradebot/gobinance/internal/strategies/all"
)

// 对账核对的数量容差（交易所步进以下的浮点误差）
const reconcileTolerance = 1e-8

func main() {
	configFile := flag.String("config", "config.yaml", "配置文件路径")
	importCreds := flag.Bool("import-credentials", false, "把环境变量里的 API 凭证写入加密凭证库后退出")
	flag.Parse()

	// .env 不存在不算错
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if *importCreds {
		if err := importCredentials(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "导入凭证失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("凭证已写入凭证库")
		return
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logrus.Fatalf("退出: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := resolveCredentials(cfg)
	if err != nil {
		return err
	}
	logrus.Infof("使用 API 凭证 %s", creds.Fingerprint())

	// 交易所客户端
	client := exchange.NewClient(exchange.Config{
		BaseURL:        cfg.Exchange.BaseURL,
		Credentials:    creds,
		RateLimit:      cfg.Exchange.RateLimit,
		RateWindow:     cfg.Exchange.RateWindow(),
		RequestTimeout: cfg.Exchange.RequestTimeout(),
		RecvWindow:     cfg.Exchange.RecvWindowMs,
	})
	client.Start(ctx)

	// 连通性自检
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = client.Ping(pingCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("交易所连通性检查失败: %w", err)
	}
	// 本地时钟偏差过大会导致签名请求被拒（-1021）
	if srvTime, err := client.ServerTime(pingCtx); err != nil {
		logrus.Warnf("获取服务器时间失败: %v", err)
	} else if skew := time.Since(srvTime); skew > 5*time.Second || skew < -5*time.Second {
		logrus.Warnf("本地时钟与交易所偏差 %s，签名请求可能被拒", skew)
	}
	cancel()

	// 子系统
	bus := events.NewBus()
	gate := risk.NewGate(cfg.Risk)
	book := ledger.New(client, 0)
	pf := portfolio.New(portfolio.Config{
		QuoteAsset:   cfg.Portfolio.QuoteAsset,
		BridgeAsset:  cfg.Portfolio.BridgeAsset,
		HistoryLimit: cfg.Portfolio.HistoryLimit,
	}, client)

	hist, err := history.New(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	// 交易所调用结果驱动连通性熔断
	client.SetErrorHooks(gate.RegisterAPIError, gate.RegisterAPISuccess)

	// 风控的资金/持仓/波动率快照
	gate.SetProviders(pf.AvailableQuote, pf.OpenPositionCount, recentVolatility(client, cfg))

	// 状态恢复
	store := persistence.NewJSONFileService(cfg.State.Dir)
	ledgerStore := store.NewStore("state", "bot", "ledger")
	portfolioStore := store.NewStore("state", "bot", "portfolio")
	if err := book.LoadState(ledgerStore); err != nil {
		logrus.Warnf("恢复账本状态失败: %v", err)
	}
	if err := pf.LoadState(portfolioStore); err != nil {
		logrus.Warnf("恢复组合状态失败: %v", err)
	}

	// 成交事件扇出：组合计提、风控计数、历史落库
	wireFills(bus, book, pf, gate, hist)

	// 初始估值
	if err := pf.RefreshBalances(ctx); err != nil {
		logrus.Warnf("初始组合估值失败: %v", err)
	}

	// 数据接入
	streams := stream.NewManager(stream.Config{BaseURL: cfg.Exchange.StreamURL + "/ws"})
	dataFeed := feed.New(streams, client, bus)

	// 调度器：行情优先走流缓存
	sched := scheduler.New(scheduler.Config{
		Interval:      time.Duration(cfg.Scheduler.IntervalSec) * time.Second,
		KlineInterval: cfg.Scheduler.KlineInterval,
		KlineLimit:    cfg.Scheduler.KlineLimit,
	}, dataFeed, book, gate, pf)

	// 事件总线接线
	bus.OnOrderUpdate(func(e events.OrderUpdateEvent) { book.Reconcile(e.Update) })
	bus.OnKlineClosed(func(e events.KlineClosedEvent) { sched.NotifyKlineClosed(e.Kline.Symbol) })
	bus.OnTradingHalted(func(e events.TradingHaltedEvent) {
		if e.Symbol == "" {
			gate.DisableTrading(e.Reason)
		} else {
			gate.HaltSymbol(e.Symbol, e.Reason)
		}
	})

	// 启动配置里的策略，先校验交易对当前可交易
	built, err := cfg.BuildStrategies(strategies.GlobalRegistry)
	if err != nil {
		return err
	}
	tradable, err := tradableSymbols(ctx, client)
	if err != nil {
		logrus.Warnf("获取交易对列表失败，跳过校验: %v", err)
	}
	symbols := make([]string, 0, len(built))
	for _, b := range built {
		if tradable != nil && !tradable[b.Symbol] {
			return fmt.Errorf("交易对 %s 不可交易", b.Symbol)
		}
		symbols = append(symbols, b.Symbol)
		if err := sched.StartStrategy(ctx, b.Strategy, b.Symbol); err != nil {
			return err
		}
	}

	if len(symbols) > 0 {
		if err := dataFeed.Start(ctx, symbols, cfg.Scheduler.KlineInterval); err != nil {
			return err
		}
	}

	// 账本轮询对账
	go book.RunPoller(ctx)

	// 周期估值 + 账本/持仓一致性核对
	go runMaintenance(ctx, cfg, pf, book, gate)

	// 控制面
	cp := server.New(server.Deps{
		Scheduler: sched,
		Ledger:    book,
		Portfolio: pf,
		Gate:      gate,
		History:   hist,
		Registry:  strategies.GlobalRegistry,
	})
	cp.Start(cfg.ControlPlane.Listen)

	// 优雅关闭
	sd := shutdown.NewManager()
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		sched.Close()
	})
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		dataFeed.Close()
		streams.Close()
	})
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		_ = cp.Shutdown(ctx)
	})
	sd.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		if err := book.SaveState(ledgerStore); err != nil {
			logrus.Errorf("保存账本状态失败: %v", err)
		}
		if err := pf.SaveState(portfolioStore); err != nil {
			logrus.Errorf("保存组合状态失败: %v", err)
		}
	})

	logrus.Info("机器人已启动")
	<-ctx.Done()
	logrus.Info("收到退出信号")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sd.Shutdown(shutdownCtx)
	client.Close()
	return nil
}

// tradableSymbols 返回当前状态为 TRADING 的交易对集合
func tradableSymbols(ctx context.Context, client *exchange.Client) (map[string]bool, error) {
	infoCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	infos, err := client.ExchangeInfo(infoCtx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(infos))
	for _, info := range infos {
		if info.Trading {
			set[info.Symbol] = true
		}
	}
	return set, nil
}

// importCredentials 把环境变量凭证写入加密凭证库，供之后免环境变量启动
func importCredentials(cfg *config.Config) error {
	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("需要设置 BINANCE_API_KEY 和 BINANCE_API_SECRET")
	}
	if cfg.Secrets.Path == "" {
		return fmt.Errorf("配置里未指定凭证库路径")
	}
	key, err := secretstore.ParseKey(os.Getenv("SECRETSTORE_KEY"))
	if err != nil {
		return err
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Secrets.Path, EncryptionKey: key})
	if err != nil {
		return err
	}
	defer ss.Close()
	return ss.StoreCredentials(apiKey, apiSecret)
}

// resolveCredentials 凭证解析：环境变量优先，其次加密凭证库
func resolveCredentials(cfg *config.Config) (exchange.Credentials, error) {
	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey != "" && apiSecret != "" {
		return exchange.Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
	}

	if cfg.Secrets.Path != "" {
		key, err := secretstore.ParseKey(os.Getenv("SECRETSTORE_KEY"))
		if err != nil {
			return exchange.Credentials{}, err
		}
		ss, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Secrets.Path, EncryptionKey: key, ReadOnly: true})
		if err != nil {
			return exchange.Credentials{}, err
		}
		defer ss.Close()

		k, s, found, err := ss.LoadCredentials()
		if err != nil {
			return exchange.Credentials{}, err
		}
		if found {
			return exchange.Credentials{APIKey: k, APISecret: s}, nil
		}
	}
	return exchange.Credentials{}, fmt.Errorf("缺少 API 凭证：设置 BINANCE_API_KEY/BINANCE_API_SECRET 或配置凭证库")
}

// wireFills 成交从账本扇出到组合、风控和历史库
func wireFills(bus *events.Bus, book *ledger.Ledger, pf *portfolio.Portfolio, gate *risk.Gate, hist *history.Store) {
	book.OnFill(func(trade domain.Trade) {
		bus.PublishFill(events.FillEvent{Trade: trade})
	})
	bus.OnFill(func(e events.FillEvent) {
		realized := pf.RecordFill(e.Trade)
		if realized != 0 {
			gate.RecordPnL(realized)
		}
		gate.RegisterFill(e.Trade)
		_ = hist.AppendTrade(e.Trade)
	})
}

// runMaintenance 周期任务：组合估值刷新 + 账本/持仓一致性核对
func runMaintenance(ctx context.Context, cfg *config.Config, pf *portfolio.Portfolio, book *ledger.Ledger, gate *risk.Gate) {
	interval := time.Duration(cfg.Portfolio.RefreshIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pf.RefreshBalances(ctx); err != nil {
				logrus.Warnf("组合估值失败: %v", err)
			}
			for _, v := range pf.VerifyAgainstLedger(book.NetFilledBySymbol(), reconcileTolerance) {
				logrus.Errorf("一致性核对失败: %s %s", v.Symbol, v.Detail)
				gate.HaltSymbol(v.Symbol, v.Detail)
			}
		}
	}
}

// recentVolatility 用最近一小时 K 线的高低幅度估计已实现波动率（%）
func recentVolatility(client *exchange.Client, cfg *config.Config) func(symbol string) float64 {
	return func(symbol string) float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		klines, err := client.Klines(ctx, symbol, "1m", 60)
		if err != nil || len(klines) == 0 {
			return 0
		}
		high, low := klines[0].High, klines[0].Low
		for _, k := range klines[1:] {
			if k.High > high {
				high = k.High
			}
			if k.Low < low && k.Low > 0 {
				low = k.Low
			}
		}
		if low <= 0 {
			return 0
		}
		return (high - low) / low * 100
	}
}
