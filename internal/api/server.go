// Package api serves the daemon's HTTP admin surface.
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/export"
	"github.com/danmuck/busmirror/internal/observability"
	"github.com/danmuck/busmirror/internal/receiver"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	version        = "0.1.0"
	maxDecodeBody  = 64 * 1024
	sourceHTTP     = "http"
	shutdownWindow = 5 * time.Second
)

// Deps are the live components the API reports on. Nil fields disable the
// matching routes.
type Deps struct {
	Stats   func() receiver.Stats
	Recent  *sink.Recent
	Stream  http.Handler
	Decoder busmirror.Decoder
	// Ready defaults to always ready.
	Ready func() bool
}

type Server struct {
	ID      string
	Addr    string
	Started time.Time

	deps   Deps
	router *gin.Engine
	logger zerolog.Logger
}

func New(id, addr string, corsOrigins []string, deps Deps, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPMiddleware(id, logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		deps:    deps,
		router:  r,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.deps.Ready == nil || s.deps.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.deps.Stats != nil {
		s.router.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.deps.Stats())
		})
	}

	if s.deps.Recent != nil {
		s.router.GET("/frames/recent", s.recentFrames)
	}

	if s.deps.Stream != nil {
		s.router.GET("/frames/stream", gin.WrapH(s.deps.Stream))
	}

	s.router.POST("/decode", s.decode)
}

func (s *Server) recentFrames(c *gin.Context) {
	events := s.deps.Recent.Snapshot()
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if n < len(events) {
			events = events[len(events)-n:]
		}
	}
	frames := make([]export.FrameView, 0, len(events))
	for _, ev := range events {
		frames = append(frames, export.FromEvent(ev))
	}
	c.JSON(http.StatusOK, gin.H{"total": s.deps.Recent.Total(), "frames": frames})
}

type decodeRequest struct {
	Hex string `json:"hex"`
}

// decode accepts either a raw datagram body or {"hex": "..."}.
// An empty input answers 200 {"empty": true}; decode failures answer 422.
func (s *Server) decode(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDecodeBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req decodeRequest
		if err := binding.JSON.BindBody(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
			return
		}
		body, err = hex.DecodeString(strings.Join(strings.Fields(req.Hex), ""))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hex: " + err.Error()})
			return
		}
	}

	started := time.Now()
	frame, err := s.deps.Decoder.Decode(body)
	result := observability.ResultOK
	switch {
	case errors.Is(err, busmirror.ErrEmptyInput):
		result = observability.ResultEmpty
	case err != nil:
		result = observability.ResultError
	}
	observability.RecordDatagram(sourceHTTP, result, busmirror.Kind(err), len(body), time.Since(started))

	// An empty datagram is a no-op, not a malformed one.
	if result == observability.ResultEmpty {
		c.JSON(http.StatusOK, gin.H{"empty": true})
		return
	}
	if err != nil {
		resp := gin.H{"error": err.Error(), "kind": busmirror.Kind(err)}
		var itemErr *busmirror.ItemError
		if errors.As(err, &itemErr) {
			resp["item"] = itemErr.Index
			resp["offset"] = itemErr.Offset
		}
		if frame != nil {
			resp["frame"] = export.FromEvent(sink.Event{Source: sourceHTTP, Received: started, Frame: frame, Err: err})
		}
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, export.FromEvent(sink.Event{Source: sourceHTTP, Received: started, Frame: frame}))
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
