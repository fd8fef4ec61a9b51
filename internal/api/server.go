// Package api serves hypotheses and signals to downstream dashboards and accepts their status updates.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"catalyst-catcher/internal/storage"
)

// Store is what the API reads and transitions.
type Store interface {
	storage.CatalystStore
	storage.SignalStore
}

// Options configure the HTTP server.
type Options struct {
	Addr string
	Now  func() time.Time
}

// Server is the downstream HTTP API.
type Server struct {
	store    Store
	hub      http.Handler
	opts     Options
	validate *validator.Validate
	engine   *gin.Engine
	logger   zerolog.Logger
}

type catalystStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed invalidated"`
}

type signalStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=acted dismissed expired pending_market_open"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// New builds the router. hub may be nil, in which case /ws/signals is not mounted.
func New(store Store, hub http.Handler, opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:    store,
		hub:      hub,
		opts:     opts,
		validate: validator.New(),
		engine:   gin.New(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.engine.Group("/api")
	{
		api.GET("/catalysts", s.listCatalysts)
		api.GET("/catalysts/:id", s.getCatalyst)
		api.POST("/catalysts/:id/status", s.updateCatalystStatus)
		api.GET("/signals", s.listSignals)
		api.POST("/signals/:id/status", s.updateSignalStatus)
	}
	if hub != nil {
		s.engine.GET("/ws/signals", gin.WrapH(hub))
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) listCatalysts(c *gin.Context) {
	filter := storage.CatalystFilter{
		Status: c.Query("status"),
		Ticker: c.Query("ticker"),
	}
	limit, err := queryLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Limit = limit

	items, err := s.store.ListCatalysts(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) getCatalyst(c *gin.Context) {
	item, err := s.store.GetCatalyst(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) updateCatalystStatus(c *gin.Context) {
	var req catalystStatusRequest
	if !s.bind(c, &req) {
		return
	}
	id := c.Param("id")
	if err := s.store.TransitionCatalyst(c.Request.Context(), id, req.Status, s.opts.Now().UTC()); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info().Str("catalyst_id", id).Str("status", req.Status).Msg("catalyst status changed")
	s.getCatalyst(c)
}

func (s *Server) listSignals(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := s.store.ListSignals(c.Request.Context(), storage.SignalFilter{Status: c.Query("status"), Limit: limit})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) updateSignalStatus(c *gin.Context) {
	var req signalStatusRequest
	if !s.bind(c, &req) {
		return
	}
	id := c.Param("id")
	if err := s.store.TransitionSignal(c.Request.Context(), id, req.Status, req.Notes, s.opts.Now().UTC()); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info().Str("signal_id", id).Str("status", req.Status).Msg("signal status changed")

	sig, err := s.store.GetSignal(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, storage.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.DefaultQuery("limit", "100")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return limit, nil
}
