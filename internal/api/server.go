// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/internal/enforcement"
	"github.com/iamwavecut/ngtrust/internal/gate"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
	"github.com/iamwavecut/ngtrust/internal/sweeper"
)

type (
	Enforcement interface {
		RecordViolation(ctx context.Context, userID int64, t violation.Type, vc enforcement.Context) (enforcement.Outcome, error)
		Status(ctx context.Context, userID int64) (*db.UserState, error)
		History(ctx context.Context, userID int64, limit int) ([]*db.Violation, error)
		CountSince(ctx context.Context, userID int64, days int) (int, error)
	}

	SendGate interface {
		CanSend(ctx context.Context, userID int64) (gate.Decision, error)
		Send(ctx context.Context, out gate.Outgoing) (gate.Decision, error)
		Message(ctx context.Context, id int64) (*db.Message, error)
	}

	Appeals interface {
		Appeal(ctx context.Context, violationID string, userID int64, reason string) (*db.Violation, error)
		ReviewAppeal(ctx context.Context, violationID string, adminID int64, approved bool, notes string) (*db.Violation, error)
	}

	Sweeps interface {
		ScanConversation(ctx context.Context, conversationID int64) (sweeper.Report, error)
		ScanAll(ctx context.Context, opts sweeper.Options) (sweeper.Summary, error)
	}

	Deps struct {
		Enforcement Enforcement
		Gate        SendGate
		Appeals     Appeals
		Sweeps      Sweeps
	}
)

type Server struct {
	deps       Deps
	adminToken string
	addr       string
	router     *gin.Engine
	logger     *zap.Logger

	shutdownTimeout time.Duration

	mu       sync.Mutex
	srv      *http.Server
	serveErr chan error

	log *log.Entry
}

type Option func(*Server)

// WithAdminToken enables the admin routes behind a bearer token.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:            deps,
		addr:            ":8080",
		logger:          zap.NewNop(),
		shutdownTimeout: 10 * time.Second,
		log:             log.WithField("object", "APIServer"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(s.logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	users := s.router.Group("/api/users/:id")
	{
		users.GET("/violations", s.listViolations)
		users.GET("/violations/count", s.countViolations)
		users.GET("/can-send", s.canSend)
		users.GET("/status", s.status)
	}
	s.router.POST("/api/messages", s.sendMessage)
	s.router.POST("/api/violations/:id/appeal", s.appeal)

	admin := s.router.Group("/api/admin")
	admin.Use(adminAuth(s.adminToken))
	{
		admin.POST("/violations", s.recordViolation)
		admin.POST("/violations/:id/review", s.reviewAppeal)
		admin.POST("/sweeps", s.sweep)
		admin.GET("/messages/:id", s.message)
	}
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveErr = make(chan error, 1)
	go func(srv *http.Server, errCh chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}(s.srv, s.serveErr)

	s.log.WithField("addr", ln.Addr().String()).Info("http server started")
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, errCh := s.srv, s.serveErr
	s.srv, s.serveErr = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
