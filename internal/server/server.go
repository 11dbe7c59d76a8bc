// Package server exposes the generation pipeline over HTTP.
package server

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core"
	"github.com/agenthands/canon/internal/logging"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderAdminToken = "X-Admin-Token"
)

type Options struct {
	// AdminToken guards the credit grant endpoint. Empty disables it.
	AdminToken string
	RateLimit  float64
	RateBurst  int
}

type Server struct {
	Service *core.Service

	opts    Options
	limiter *clientLimiter
	logger  *log.Logger
}

func New(svc *core.Service, opts Options, logger *log.Logger) *Server {
	return &Server{
		Service: svc,
		opts:    opts,
		limiter: newClientLimiter(opts.RateLimit, opts.RateBurst),
		logger:  logging.OrDiscard(logger),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1", s.rateLimit())
	v1.POST("/estimate", s.Estimate)
	v1.POST("/estimate/subgraph", s.EstimateSubgraph)
	v1.POST("/context", s.Context)
	v1.POST("/context/preview", s.ContextPreview)
	v1.POST("/generate", s.Generate)
	v1.GET("/generations/:id", s.Generation)
	v1.GET("/credits/history", s.CreditHistory)
	v1.POST("/credits/grant", s.requireAdmin(), s.GrantCredits)
	v1.GET("/me", s.Me)

	return r
}

// bind decodes the JSON body into req, answering 400 on failure.
func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.fail(c, apperr.InvalidInput("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) Estimate(c *gin.Context) {
	var req core.EstimateInput
	if !s.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, s.Service.EstimateGenerationCost(req))
}

func (s *Server) EstimateSubgraph(c *gin.Context) {
	var req core.SubgraphInput
	if !s.bind(c, &req) {
		return
	}
	est, err := s.Service.EstimateSubgraphCost(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, est)
}

func (s *Server) Context(c *gin.Context) {
	var req core.ContextInput
	if !s.bind(c, &req) {
		return
	}
	gc, err := s.Service.Context(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gc)
}

func (s *Server) ContextPreview(c *gin.Context) {
	var req core.ContextInput
	if !s.bind(c, &req) {
		return
	}
	preview, err := s.Service.ContextPreview(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (s *Server) Generate(c *gin.Context) {
	var req core.GenerateInput
	if !s.bind(c, &req) {
		return
	}
	res, err := s.Service.Generate(c.Request.Context(), req, userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) Generation(c *gin.Context) {
	rec, err := s.Service.Generation(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) CreditHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, apperr.InvalidInput("invalid request", apperr.FieldError{Field: "limit", Message: "must be an integer"}))
			return
		}
		limit = n
	}
	txs, err := s.Service.CreditHistory(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (s *Server) Me(c *gin.Context) {
	me, err := s.Service.Me(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, me)
}

func (s *Server) GrantCredits(c *gin.Context) {
	var req core.GrantInput
	if !s.bind(c, &req) {
		return
	}
	balance, err := s.Service.GrantCredits(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": req.UserID, "credits": balance})
}
