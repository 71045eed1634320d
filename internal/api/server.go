// Package api exposes the HTTP control surface: schedule CRUD, system
// toggle, cycle restart, recent logs, manual test posts and a gateway
// probe, plus the static dashboard.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"statusloop/internal/audit"
	"statusloop/internal/clock"
	"statusloop/internal/delivery"
	"statusloop/internal/dispatch"
	"statusloop/internal/schedule"

	logx "statusloop/pkg/logx"
)

type Config struct {
	Addr       string // default ":3000"
	StaticDir  string // dashboard root; empty disables
	GatewayURL string // echoed by the debug endpoint
}

// Engine is the slice of the tick service the handlers need.
type Engine interface {
	TestPost(ctx context.Context, c dispatch.Content, targets []string) dispatch.Batch
	SaveNow(ctx context.Context) error
	Targets() []string
}

// GatewayProbe is the slice of the delivery client the debug endpoint
// needs.
type GatewayProbe interface {
	FetchInstances(ctx context.Context) ([]delivery.Instance, error)
	Deliver(ctx context.Context, target string, c dispatch.Content) error
	KeyConfigured() bool
}

type Server struct {
	cfg   Config
	state *schedule.State
	aud   *audit.Log
	eng   Engine
	probe GatewayProbe
	clk   clock.Clock
	log   logx.Logger

	srv *http.Server
}

func New(cfg Config, state *schedule.State, aud *audit.Log, eng Engine, probe GatewayProbe, clk clock.Clock, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, state: state, aud: aud, eng: eng, probe: probe, clk: clk, log: log}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		AllowCredentials: false,
	}))

	r.GET("/api/status", s.getStatus)
	r.GET("/api/schedule", s.getSchedule)
	r.POST("/api/schedule", s.postSchedule)
	r.POST("/api/toggle", s.postToggle)
	r.POST("/api/restart-cycle", s.postRestartCycle)
	r.GET("/api/logs", s.getLogs)
	r.POST("/api/test-post", s.postTestPost)
	r.GET("/api/gateway-debug", s.getGatewayDebug)

	if s.cfg.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.cfg.StaticDir))
		r.NoRoute(func(c *gin.Context) { fs.ServeHTTP(c.Writer, c.Request) })
	}
	return r
}

func (s *Server) Start(ctx context.Context) error {
	if s.srv != nil {
		return nil
	}
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("control api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control api stopped", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("control api shutdown", logx.Err(err))
	}
	s.srv = nil
}

func ok(c *gin.Context, body gin.H) {
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}
