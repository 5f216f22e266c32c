// Package server exposes the operations API over the trading and
// surveillance engines.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/surveillance"
	"github.com/halcyonmarkets/tradeos/internal/tradeos"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/bestex"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/blotter"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/tradeerror"
)

// Server represents the HTTP server
type Server struct {
	logger       *zap.Logger
	oms          *tradeos.TradeOS
	surveillance *surveillance.Service
	journal      journal.Journal
	registry     *prometheus.Registry
}

// NewServer creates a new HTTP server
func NewServer(
	logger *zap.Logger,
	omsSvc *tradeos.TradeOS,
	surveillanceSvc *surveillance.Service,
	j journal.Journal,
	registry *prometheus.Registry,
) *Server {
	return &Server{
		logger:       logger,
		oms:          omsSvc,
		surveillance: surveillanceSvc,
		journal:      j,
		registry:     registry,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			orders := v1.Group("/orders")
			{
				orders.POST("", s.handleCreateOrder)
				orders.GET("", s.handleListOrders)
				orders.GET("/:id", s.handleGetOrder)
				orders.POST("/:id/cancel", s.handleCancelOrder)
				orders.POST("/:id/confirm", s.handleGenerateConfirm)
			}

			blocks := v1.Group("/blocks")
			{
				blocks.POST("", s.handleBuildBlock)
				blocks.GET("/:id", s.handleGetBlock)
				blocks.POST("/:id/route", s.handleRouteBlock)
				blocks.POST("/:id/allocate", s.handleAllocateBlock)
			}

			sv := v1.Group("/surveillance")
			{
				sv.POST("/scan", s.handleScan)
				sv.GET("/suppressions", s.handleListSuppressions)
				sv.POST("/suppressions", s.handleAddSuppression)
				sv.GET("/cases", s.handleListCases)
				sv.GET("/cases/:id", s.handleGetCase)
				sv.POST("/cases/:id/notes", s.handleAddCaseNote)
				sv.POST("/cases/:id/close", s.handleCloseCase)
			}

			te := v1.Group("/trade-errors")
			{
				te.GET("", s.handleListTradeErrors)
				te.POST("", s.handleOpenTradeError)
				te.POST("/:id/close", s.handleCloseTradeError)
			}

			v1.POST("/blotter/export", s.handleExportBlotter)
			v1.GET("/journal/verify", s.handleVerifyJournal)
		}
	}

	return router
}

// writeError maps engine errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tradeerror.ErrInsufficientApprovals),
		errors.Is(err, tradeerror.ErrAlreadyClosed),
		errors.Is(err, tradeerror.ErrNonTerminalStatus),
		errors.Is(err, tradeos.ErrNoEligibleOrders):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, tradeerror.ErrNotFound),
		strings.Contains(err.Error(), "not found"),
		strings.Contains(err.Error(), "unknown"):
		status = http.StatusNotFound
	case strings.Contains(err.Error(), "invalid"):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var input model.OrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order", "details": err.Error()})
		return
	}
	order, err := s.oms.CreateOrder(c.Request.Context(), input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.oms.ListOrders()})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.oms.GetOrder(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	order, err := s.oms.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleGenerateConfirm(c *gin.Context) {
	confirm, err := s.oms.GenerateConfirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, confirm)
}

func (s *Server) handleBuildBlock(c *gin.Context) {
	var criteria tradeos.BlockCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block criteria", "details": err.Error()})
		return
	}
	block, err := s.oms.BuildBlock(c.Request.Context(), criteria)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, block)
}

func (s *Server) handleGetBlock(c *gin.Context) {
	block, err := s.oms.GetBlock(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

type routeBlockRequest struct {
	Venues         []model.VenueQuote `json:"venues" binding:"required,min=1"`
	Override       *bestex.Override   `json:"override,omitempty"`
	MaxSlippageBps int                `json:"max_slippage_bps"`
}

func (s *Server) handleRouteBlock(c *gin.Context) {
	var in routeBlockRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid route request", "details": err.Error()})
		return
	}
	block, err := s.oms.RouteBlock(c.Request.Context(), c.Param("id"), tradeos.RouteOptions{
		Venues:         in.Venues,
		Override:       in.Override,
		MaxSlippageBps: in.MaxSlippageBps,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

func (s *Server) handleAllocateBlock(c *gin.Context) {
	var in struct {
		Method model.AllocationMethod `json:"method"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid allocation request", "details": err.Error()})
		return
	}
	result, err := s.oms.AllocateBlock(c.Request.Context(), c.Param("id"), in.Method)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleScan(c *gin.Context) {
	var snapshot surveillance.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot", "details": err.Error()})
		return
	}
	result, err := s.surveillance.Scan(c.Request.Context(), snapshot)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListSuppressions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.surveillance.Suppression().Rules()})
}

func (s *Server) handleAddSuppression(c *gin.Context) {
	var in surveillance.RuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule", "details": err.Error()})
		return
	}
	rule, err := s.surveillance.Suppression().AddRule(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleListCases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cases": s.surveillance.Cases().ListCases()})
}

func (s *Server) handleGetCase(c *gin.Context) {
	record, err := s.surveillance.Cases().GetCase(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case":  record,
		"items": s.surveillance.Cases().Items(record.ID),
	})
}

func (s *Server) handleAddCaseNote(c *gin.Context) {
	var in struct {
		AuthorID string `json:"author_id" binding:"required"`
		Body     string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid note", "details": err.Error()})
		return
	}
	item, err := s.surveillance.Cases().AddNote(c.Request.Context(), c.Param("id"), in.AuthorID, in.Body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleCloseCase(c *gin.Context) {
	var in struct {
		Status      surveillance.CaseStatus `json:"status" binding:"required"`
		Summary     string                  `json:"summary"`
		Disposition string                  `json:"disposition" binding:"required"`
		ClosedBy    string                  `json:"closed_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid close request", "details": err.Error()})
		return
	}
	record, err := s.surveillance.Cases().CloseCase(c.Request.Context(), c.Param("id"), surveillance.CloseCaseInput{
		Status:      in.Status,
		Summary:     in.Summary,
		Disposition: in.Disposition,
		ClosedBy:    in.ClosedBy,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleListTradeErrors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.oms.TradeErrors()})
}

type openTradeErrorRequest struct {
	Type           model.TradeErrorType `json:"type" binding:"required"`
	Notes          string               `json:"notes"`
	CorrectedPrice *decimal.Decimal     `json:"corrected_price,omitempty"`
	Order          *model.Order         `json:"order,omitempty"`
	Execution      *model.Execution     `json:"execution,omitempty"`
}

func (s *Server) handleOpenTradeError(c *gin.Context) {
	var in openTradeErrorRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade error", "details": err.Error()})
		return
	}
	item, err := s.oms.OpenTradeError(c.Request.Context(), tradeerror.OpenInput{
		Order:          in.Order,
		Execution:      in.Execution,
		Type:           in.Type,
		CorrectedPrice: in.CorrectedPrice,
		Notes:          in.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleCloseTradeError(c *gin.Context) {
	var in struct {
		ApproverIDs []string               `json:"approver_ids" binding:"required"`
		Status      model.TradeErrorStatus `json:"status"`
		Notes       string                 `json:"notes"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid close request", "details": err.Error()})
		return
	}
	item, err := s.oms.CloseTradeError(c.Request.Context(), c.Param("id"), tradeerror.CloseInput{
		ApproverIDs: in.ApproverIDs,
		Status:      in.Status,
		Notes:       in.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleExportBlotter(c *gin.Context) {
	var in struct {
		AccountID string     `json:"account_id"`
		From      *time.Time `json:"from,omitempty"`
		To        *time.Time `json:"to,omitempty"`
		Path      string     `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export request", "details": err.Error()})
		return
	}
	result, err := s.oms.ExportBlotter(c.Request.Context(), blotter.Filter{
		AccountID: in.AccountID,
		From:      in.From,
		To:        in.To,
	}, in.Path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":      result.Path,
		"sha256":    result.SHA256,
		"row_count": len(result.Rows),
	})
}

func (s *Server) handleVerifyJournal(c *gin.Context) {
	result, err := journal.Verify(c.Request.Context(), s.journal)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
