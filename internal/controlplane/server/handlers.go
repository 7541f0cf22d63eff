package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradebot/gobinance/internal/domain"
	"github.com/tradebot/gobinance/internal/ledger"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStrategiesList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"registered": s.deps.Registry.List(),
		"running":    s.deps.Scheduler.Statuses(),
	})
}

type strategyStartRequest struct {
	ID     string                 `json:"id" binding:"required"`
	Symbol string                 `json:"symbol" binding:"required"`
	Config map[string]interface{} `json:"config"`
}

func (s *Server) handleStrategyStart(c *gin.Context) {
	var req strategyStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strat, err := s.deps.Registry.New(req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if req.Config == nil {
		req.Config = map[string]interface{}{}
	}
	req.Config["symbol"] = req.Symbol
	raw, _ := json.Marshal(req.Config)
	if err := json.Unmarshal(raw, strat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Scheduler.StartStrategy(c.Request.Context(), strat, req.Symbol); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": req.ID + ":" + req.Symbol})
}

func (s *Server) handleStrategyStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Scheduler.StopStrategy(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": id})
}

func (s *Server) handleOrdersList(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Ledger.OpenOrders(c.Query("symbol")))
}

type orderPlaceRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity" binding:"required"`
	Price    float64 `json:"price"`
	// 同时给出止损价时走 OCO：限价腿 + 止损腿，一腿成交另一腿撤销
	StopPrice      float64 `json:"stopPrice"`
	StopLimitPrice float64 `json:"stopLimitPrice"`
}

// handleOrderPlace 手动下单。绕过策略但不绕过风控的全局限制。
func (s *Server) handleOrderPlace(c *gin.Context) {
	var req orderPlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if d := s.deps.Gate.CheckGlobalLimits(); d != nil {
		c.JSON(http.StatusForbidden, gin.H{"denied": d.Reason})
		return
	}
	if d := s.deps.Gate.CheckSymbol(req.Symbol); d != nil {
		c.JSON(http.StatusForbidden, gin.H{"denied": d.Reason})
		return
	}

	orderType := domain.OrderTypeLimit
	if req.Type != "" {
		orderType = domain.OrderType(req.Type)
	}
	params := ledger.PlaceParams{
		Symbol:     req.Symbol,
		Side:       domain.Side(req.Side),
		Type:       orderType,
		Quantity:   req.Quantity,
		Price:      req.Price,
		StrategyID: "manual",
	}

	if req.StopPrice > 0 {
		legs, err := s.deps.Ledger.PlaceOCO(c.Request.Context(), params, req.StopPrice, req.StopLimitPrice)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, legs)
		return
	}

	order, err := s.deps.Ledger.Place(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleOrderCancel(c *gin.Context) {
	orderID := c.Param("orderID")
	if err := s.deps.Ledger.Cancel(c.Request.Context(), orderID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": orderID})
}

// handleOrderCancelAll 撤销一个交易对的全部挂单
func (s *Server) handleOrderCancelAll(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := s.deps.Ledger.CancelAll(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled_all": symbol})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Portfolio.Snapshot())
}

// handlePerformance 回看窗口内的组合表现，lookbackSec 默认 24 小时
func (s *Server) handlePerformance(c *gin.Context) {
	sec, err := strconv.Atoi(c.DefaultQuery("lookbackSec", "86400"))
	if err != nil || sec <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lookbackSec must be a positive integer"})
		return
	}
	start, end, changePct, ok := s.deps.Portfolio.PerformanceSince(time.Duration(sec) * time.Second)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available":  true,
		"startValue": start,
		"endValue":   end,
		"changePct":  changePct,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.deps.History.RecentTrades(c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleRiskStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":    s.deps.Gate.Stats(),
		"settings": s.deps.Gate.Settings(),
	})
}

// handleRiskSettings 部分更新风控参数：在当前值上打补丁
func (s *Server) handleRiskSettings(c *gin.Context) {
	current := s.deps.Gate.Settings()
	if err := c.ShouldBindJSON(&current); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.deps.Gate.UpdateSettings(current)
	c.JSON(http.StatusOK, current)
}

func (s *Server) handleRiskEnable(c *gin.Context) {
	s.deps.Gate.EnableTrading()
	c.JSON(http.StatusOK, gin.H{"trading_enabled": true})
}

func (s *Server) handleRiskClearSymbol(c *gin.Context) {
	symbol := c.Param("symbol")
	s.deps.Gate.ClearSymbolHalt(symbol)
	c.JSON(http.StatusOK, gin.H{"cleared": symbol})
}
