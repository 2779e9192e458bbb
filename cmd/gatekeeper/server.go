package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gatekeeper/core"
	"github.com/web3guy0/gatekeeper/execution"
	"github.com/web3guy0/gatekeeper/prediction"
	"github.com/web3guy0/gatekeeper/risk"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADMIN HTTP - Fill webhook, gating and prediction intake, stats
// ═══════════════════════════════════════════════════════════════════════════════

var validate = validator.New()

// Requests

type fillRequest struct {
	OrderID     string          `json:"order_id" validate:"required"`
	Exchange    string          `json:"exchange"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	FilledPrice decimal.Decimal `json:"filled_price"`
}

type candidateRequest struct {
	Symbol        string          `json:"symbol" validate:"required"`
	Side          string          `json:"side" default:"BUY" validate:"oneof=BUY SELL"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Confidence    float64         `json:"confidence" validate:"gte=0,lte=1"`
	Coherence     float64         `json:"coherence" validate:"gte=0,lte=1"`
	Stability     float64         `json:"stability" validate:"gte=0,lte=1"`
	Exchange      string          `json:"exchange"`
	Source        string          `json:"source" default:"api"`
	CorrelationID string          `json:"correlation_id"`
	Regime        string          `json:"regime"`
	Sentiment     *float64        `json:"sentiment" validate:"omitempty,gte=0,lte=100"`
}

type opportunityRequest struct {
	risk.Opportunity
	Regime    string   `json:"regime"`
	Sentiment *float64 `json:"sentiment" validate:"omitempty,gte=0,lte=100"`
}

// neutralSentiment is assumed when a request carries no sentiment. An explicit
// 0 is extreme fear and is kept.
const neutralSentiment = 50.0

func sentimentOf(v *float64) float64 {
	if v == nil {
		return neutralSentiment
	}
	return *v
}

type predictionRequest struct {
	Symbol      string              `json:"symbol" validate:"required"`
	Direction   types.Direction     `json:"direction" validate:"oneof=bullish bearish neutral"`
	Probability float64             `json:"probability" validate:"gte=0,lte=1"`
	Confidence  float64             `json:"confidence" validate:"gte=0,lte=1"`
	Action      string              `json:"action"`
	Price       float64             `json:"price" validate:"gt=0"`
	Context     types.SignalContext `json:"context"`
}

type validateRequest struct {
	Price float64 `json:"price" validate:"gt=0"`
}

type exitRequest struct {
	Symbol string          `json:"symbol" validate:"required"`
	PnL    decimal.Decimal `json:"pnl"`
}

// errorResponse carries a machine-readable failure class
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server is the admin HTTP surface
type Server struct {
	echo   *echo.Echo
	engine *core.Engine
	addr   string
}

// NewServer builds the echo instance and registers routes
func NewServer(addr string, engine *core.Engine, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, engine: engine, addr: addr}

	e.GET("/health", s.health)
	e.GET("/stats", s.stats)
	e.GET("/orders/:id", s.order)
	e.POST("/fills", s.fill)
	e.POST("/candidates", s.candidate)
	e.POST("/opportunities", s.opportunity)
	e.POST("/exits", s.exit)
	e.POST("/breaker/reset", s.resetBreaker)
	e.POST("/predictions", s.recordPrediction)
	e.GET("/predictions/:id", s.getPrediction)
	e.POST("/predictions/:id/validate", s.validatePrediction)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// requestLogger logs one zerolog line per request
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("🌐 Admin HTTP server listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// bindAndValidate binds the body, applies defaults and validates the result
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	if err := defaults.Set(req); err != nil {
		return err
	}
	return validate.StructCtx(c.Request().Context(), req)
}

func badRequest(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: strings.Join(fields, ", ")})
	}
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
}

// ═══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats())
}

func (s *Server) order(c echo.Context) error {
	rec, ok := s.engine.Order(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown_order", Message: "order not found"})
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) fill(c echo.Context) error {
	req := &fillRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return badRequest(c, err)
	}

	err := s.engine.ConfirmFill(req.OrderID, req.Exchange, req.FilledQty, req.FilledPrice)
	if err != nil {
		log.Warn().Err(err).Str("order_id", req.OrderID).Msg("⚠️ Fill confirmation rejected")
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: fillFailureClass(err), Message: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"confirmed": true})
}

func fillFailureClass(err error) string {
	switch {
	case errors.Is(err, execution.ErrUnknownOrder):
		return "unknown_order"
	case errors.Is(err, execution.ErrExchangeMismatch):
		return "exchange_mismatch"
	case errors.Is(err, execution.ErrInvalidFill):
		return "invalid_fill"
	case errors.Is(err, execution.ErrNotApproved):
		return "not_approved"
	case errors.Is(err, execution.ErrConflictingFill):
		return "conflicting_fill"
	default:
		return "confirmation_failed"
	}
}

func (s *Server) candidate(c echo.Context) error {
	req := &candidateRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return badRequest(c, err)
	}

	outcome := s.engine.Evaluate(types.TradeCandidate{
		Symbol:        req.Symbol,
		Side:          types.Side(req.Side),
		Quantity:      req.Quantity,
		Price:         req.Price,
		Confidence:    req.Confidence,
		Coherence:     req.Coherence,
		Stability:     req.Stability,
		Exchange:      req.Exchange,
		Source:        req.Source,
		CorrelationID: req.CorrelationID,
	}, req.Regime, sentimentOf(req.Sentiment))

	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) opportunity(c echo.Context) error {
	req := &opportunityRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return badRequest(c, err)
	}

	outcome, err := s.engine.EvaluateOpportunity(req.Opportunity, req.Regime, sentimentOf(req.Sentiment))
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "invalid_opportunity", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) exit(c echo.Context) error {
	req := &exitRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return badRequest(c, err)
	}
	s.engine.RecordExit(req.Symbol, req.PnL)
	return c.JSON(http.StatusOK, s.engine.Stats().Risk)
}

func (s *Server) resetBreaker(c echo.Context) error {
	s.engine.ResetBreaker()
	return c.JSON(http.StatusOK, s.engine.Stats().Breaker)
}

func (s *Server) recordPrediction(c echo.Context) error {
	req := &predictionRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return badRequest(c, err)
	}

	id, err := s.engine.RecordPrediction(req.Symbol, req.Direction, req.Probability, req.Confidence, req.Action, req.Price, req.Context)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "invalid_prediction", Message: err.Error()})
	}
	return c.JSON(http.StatusCreated, map[string]string{"prediction_id": id})
}

func (s *Server) getPrediction(c echo.Context) error {
	p, ok := s.engine.Prediction(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown_prediction", Message: "prediction not found"})
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) validatePrediction(c echo.Context) error {
	req := &validateRequest{}
	if err := bindAndValidate(c, req); err != nil {
		return badRequest(c, err)
	}

	res, err := s.engine.ValidatePrediction(c.Param("id"), req.Price)
	switch {
	case errors.Is(err, prediction.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown_prediction", Message: err.Error()})
	case err != nil:
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "validation_failed", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

const shutdownTimeout = 10 * time.Second
