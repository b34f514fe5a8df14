package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
	"github.com/ducminhle1904/signal-bridge/internal/risk"
	"github.com/ducminhle1904/signal-bridge/internal/safety"
	"github.com/ducminhle1904/signal-bridge/internal/sizing"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/internal/terminal"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

const (
	component    = "webhook"
	maxBodyBytes = 64 << 10
	tokenHeader  = "X-Webhook-Token"
)

// Evaluator decides PENDING signals
type Evaluator interface {
	Evaluate(ctx context.Context, sig *types.Signal) (risk.Decision, error)
}

// Operator exposes the manual terminal operations of the API
type Operator interface {
	CloseAll(ctx context.Context) (terminal.CloseAllResult, error)
	Modify(ctx context.Context, ticket int64, sl, tp float64) error
}

// Invalidator drops cached account state
type Invalidator interface {
	Invalidate()
}

// Config holds HTTP intake settings
type Config struct {
	Token         string  `json:"token" yaml:"token"`
	RateLimit     int     `json:"rate_limit" yaml:"rate_limit"`           // bucket size per client
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"` // refill per client
}

// Server serves the alert webhook and the operator API
type Server struct {
	cfg        Config
	store      store.Store
	evaluator  Evaluator
	operator   Operator
	account    Invalidator
	health     http.Handler
	hub        *AuditHub
	normalizer *Normalizer
	limiter    *safety.KeyedRateLimiter
	log        *logger.Logger
	now        func() time.Time
}

// NewServer wires the HTTP layer. operator and health may be nil.
func NewServer(cfg Config, st store.Store, evaluator Evaluator, symbols *sizing.SymbolTable, log *logger.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		evaluator:  evaluator,
		normalizer: NewNormalizer(symbols),
		limiter:    safety.NewKeyedRateLimiter(component, cfg.RateLimit, cfg.RatePerSecond),
		log:        log.With(component),
		now:        time.Now,
	}
}

// SetOperator enables the manual terminal endpoints
func (s *Server) SetOperator(op Operator) { s.operator = op }

// SetAccount registers the account cache to invalidate after manual operations
func (s *Server) SetAccount(a Invalidator) { s.account = a }

// SetHealth mounts h on /health
func (s *Server) SetHealth(h http.Handler) { s.health = h }

// SetAuditHub enables the live audit stream on /api/stream
func (s *Server) SetAuditHub(h *AuditHub) { s.hub = h }

// SetClock replaces the time source, for tests
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
	s.limiter.SetClock(now)
}

// Router builds the gin engine with every route mounted
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.POST("/webhook", s.handleWebhook)
	r.GET("/metrics", gin.WrapH(monitoring.MetricsHandler()))
	if s.health != nil {
		r.GET("/health", gin.WrapH(s.health))
	}

	api := r.Group("/api", s.requireToken)
	api.GET("/signals", s.listSignals)
	api.GET("/signals/:id", s.getSignal)
	api.GET("/orders", s.listOrders)
	api.POST("/positions/close-all", s.closeAll)
	api.PATCH("/orders/:ticket", s.modifyOrder)
	api.GET("/stream", s.stream)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) authorized(token string) bool {
	if s.cfg.Token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

// requireToken also accepts ?token= for websocket clients that cannot set headers
func (s *Server) requireToken(c *gin.Context) {
	token := c.GetHeader(tokenHeader)
	if token == "" {
		token = c.Query("token")
	}
	if !s.authorized(token) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

// WebhookResponse is returned for every accepted alert
type WebhookResponse struct {
	ID         string             `json:"id"`
	Status     types.SignalStatus `json:"status"`
	Code       string             `json:"code,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Lot        float64            `json:"lot,omitempty"`
	RiskAmount float64            `json:"risk_amount,omitempty"`
	TakeProfit float64            `json:"take_profit,omitempty"`
	PriceScale float64            `json:"price_scale,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (s *Server) handleWebhook(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		monitoring.RecordError("rate_limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return
	}
	raw, err := Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := c.GetHeader(tokenHeader)
	if token == "" {
		token = str(raw, "token")
	}
	if !s.authorized(token) {
		s.log.Warning("webhook rejected: bad token from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	alert, err := s.normalizer.Normalize(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if alert.PriceScale > 0 {
		s.log.Warning("prices for %s divided by %.0f to fit the expected range", alert.Symbol, alert.PriceScale)
	}

	ctx := c.Request.Context()
	sig := alert.Signal(uuid.NewString())
	sig.CreatedAt = s.now()
	if err := s.store.CreateSignal(ctx, sig); err != nil {
		s.log.LogError("failed to store signal", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store signal"})
		return
	}
	monitoring.RecordSignal(string(types.SignalPending))
	s.audit(ctx, "signal", sig.ID, "received", string(sig.Action)+" "+sig.Symbol+" via webhook")

	resp := WebhookResponse{ID: sig.ID, PriceScale: alert.PriceScale}
	decision, err := s.evaluator.Evaluate(ctx, sig)
	if err != nil {
		// the signal stays PENDING and is evaluated again later
		s.log.Warning("evaluation of %s deferred: %v", sig.ID, err)
		resp.Status = types.SignalPending
		resp.Error = err.Error()
		c.JSON(http.StatusAccepted, resp)
		return
	}

	resp.Status = decision.Status
	resp.Code = decision.Check.Code
	resp.Reason = decision.Check.Reason
	resp.Lot = sig.CalculatedLot
	resp.RiskAmount = sig.RiskAmount
	resp.TakeProfit = sig.TakeProfit
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	signals, err := s.store.ListSignals(c.Request.Context(), store.SignalFilter{
		Status:   types.SignalStatus(c.Query("status")),
		Strategy: c.Query("strategy"),
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, signals)
}

func (s *Server) getSignal(c *gin.Context) {
	sig, err := s.store.GetSignal(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	audit, _ := s.store.ListAudit(c.Request.Context(), sig.ID)
	c.JSON(http.StatusOK, gin.H{"signal": sig, "audit": audit})
}

func (s *Server) listOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	orders, err := s.store.ListOrders(c.Request.Context(), store.OrderFilter{
		Status:   types.OrderStatus(c.Query("status")),
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) closeAll(c *gin.Context) {
	if s.operator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "terminal not configured"})
		return
	}
	ctx := c.Request.Context()
	res, err := s.operator.CloseAll(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	now := s.now()
	for _, ticket := range res.Closed {
		order, err := s.store.FindOrderByTicket(ctx, ticket)
		if err != nil || order.Status != types.OrderPlaced {
			continue
		}
		order.Status = types.OrderClosed
		order.UpdatedAt = now
		if err := s.store.UpdateOrder(ctx, order); err != nil {
			s.log.LogError("failed to mark order closed", err)
			continue
		}
		s.audit(ctx, "order", order.ID, "closed", "closed by close-all")
	}
	if s.account != nil {
		s.account.Invalidate()
	}
	s.log.Trade("close-all: %d closed, %d failed", len(res.Closed), len(res.Failed))
	c.JSON(http.StatusOK, res)
}

type modifyRequest struct {
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
}

func (s *Server) modifyOrder(c *gin.Context) {
	if s.operator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "terminal not configured"})
		return
	}
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil || ticket <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket"})
		return
	}
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := s.operator.Modify(ctx, ticket, req.StopLoss, req.TakeProfit); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if order, err := s.store.FindOrderByTicket(ctx, ticket); err == nil {
		order.StopLoss = req.StopLoss
		order.TakeProfit = req.TakeProfit
		order.UpdatedAt = s.now()
		if err := s.store.UpdateOrder(ctx, order); err != nil {
			s.log.LogError("failed to persist modified order", err)
		}
		s.audit(ctx, "order", order.ID, "modified", "sl/tp changed via API")
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "sl": req.StopLoss, "tp": req.TakeProfit})
}

// statusFor maps terminal errors onto HTTP statuses
func statusFor(err error) int {
	switch boterrors.CategoryOf(err) {
	case boterrors.ErrorCategoryValidation:
		return http.StatusBadRequest
	case boterrors.ErrorCategoryTimeout, boterrors.ErrorCategoryClosed, boterrors.ErrorCategoryIO:
		return http.StatusGatewayTimeout
	case boterrors.ErrorCategoryDispatch:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) audit(ctx context.Context, entity, id, event, msg string) {
	entry := types.AuditEntry{Time: s.now(), Entity: entity, EntityID: id, Event: event, Message: msg}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.LogError("audit append failed", err)
	}
}
