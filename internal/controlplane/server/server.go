package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tradebot/gobinance/internal/history"
	"github.com/tradebot/gobinance/internal/ledger"
	"github.com/tradebot/gobinance/internal/portfolio"
	"github.com/tradebot/gobinance/internal/risk"
	"github.com/tradebot/gobinance/internal/scheduler"
	"github.com/tradebot/gobinance/internal/strategies"
)

var log = logrus.WithField("component", "controlplane")

// Deps 控制面依赖的各个子系统
type Deps struct {
	Scheduler *scheduler.Scheduler
	Ledger    *ledger.Ledger
	Portfolio *portfolio.Portfolio
	Gate      *risk.Gate
	History   *history.Store
	Registry  *strategies.Registry
}

// Server 控制面 HTTP 服务。只做薄转发：读各子系统状态、
// 转发启停与下单请求，不承载任何交易决策。
type Server struct {
	deps Deps
	srv  *http.Server
}

// New 创建控制面服务
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")

	api.GET("/strategies", s.handleStrategiesList)
	api.POST("/strategies/start", s.handleStrategyStart)
	api.POST("/strategies/:id/stop", s.handleStrategyStop)

	api.GET("/orders", s.handleOrdersList)
	api.POST("/orders", s.handleOrderPlace)
	api.DELETE("/orders/:symbol", s.handleOrderCancelAll)
	api.DELETE("/orders/:symbol/:orderID", s.handleOrderCancel)

	api.GET("/portfolio", s.handlePortfolio)
	api.GET("/portfolio/performance", s.handlePerformance)
	api.GET("/trades", s.handleTrades)

	api.GET("/risk", s.handleRiskStats)
	api.PATCH("/risk/settings", s.handleRiskSettings)
	api.POST("/risk/enable", s.handleRiskEnable)
	api.POST("/risk/symbols/:symbol/clear", s.handleRiskClearSymbol)

	return r
}

// Start 启动 HTTP 监听（非阻塞）
func (s *Server) Start(listen string) {
	s.srv = &http.Server{Addr: listen, Handler: s.Router()}
	go func() {
		log.Infof("控制面监听 %s", listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("控制面退出: %v", err)
		}
	}()
}

// Shutdown 停止 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
