// Package api exposes the desk over REST.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/directline-io/directline/internal/assignment"
	"github.com/directline-io/directline/internal/consultation"
	"github.com/directline-io/directline/internal/desk"
	"github.com/directline-io/directline/internal/identity"
	"github.com/directline-io/directline/internal/logbuf"
)

// LogQuerier abstracts the log buffer so tests can stub it.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// Config holds API server configuration.
type Config struct {
	Host   string
	Port   int
	Intake http.Handler // optional, mounted at POST /api/intake/:source
}

// Server is the DirectLine REST API.
type Server struct {
	desk   *desk.Desk
	dir    *identity.Directory
	tokens *identity.Issuer
	logs   LogQuerier
	logger *slog.Logger
	e      *echo.Echo
	srv    *http.Server
}

// NewServer creates the API server. logs may be nil.
func NewServer(d *desk.Desk, dir *identity.Directory, tokens *identity.Issuer, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{desk: d, dir: dir, tokens: tokens, logs: logs, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))
	e.Use(s.requestLogger())

	e.GET("/api/health", s.handleHealth)
	e.POST("/api/login", s.handleLogin)
	if cfg.Intake != nil {
		e.POST("/api/intake/:source", echo.WrapHandler(cfg.Intake))
	}

	authed := e.Group("/api", s.requireAuth)
	authed.GET("/me", s.handleMe)
	authed.GET("/history", s.handleHistory)

	authed.POST("/consultations", s.handleOpen, requireClient)
	authed.GET("/consultations/:id", s.handleGet)
	authed.POST("/consultations/:id/messages", s.handleReply)
	authed.PUT("/consultations/:id/category", s.handleSetCategory, requireStaff)
	authed.POST("/consultations/:id/close", s.handleClose, requireStaff)
	authed.POST("/consultations/:id/feedback", s.handleRate, requireClient)
	authed.GET("/consultations/:id/audit", s.handleAudit, requireSupervisor)

	authed.GET("/queue", s.handleQueue, requireStaff)
	authed.GET("/workspace", s.handleWorkspace, requireStaff)
	authed.POST("/workspace/:id", s.handleClaim, requireStaff)
	authed.DELETE("/workspace/:id", s.handleRelease, requireStaff)
	authed.GET("/performance", s.handlePerformance, requireStaff)

	authed.GET("/staff", s.handleListStaff, requireSupervisor)
	authed.POST("/staff", s.handleAddStaff, requireSupervisor)
	authed.DELETE("/staff/:id", s.handleRemoveStaff, requireSupervisor)
	authed.GET("/logs", s.handleGetLogs, requireSupervisor)

	s.e = e
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.e
}

// fail translates a domain error into a JSON error response.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assignment.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"notice": s.desk.CapacityNotice(),
		})
	case errors.Is(err, consultation.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, desk.ErrClosed), errors.Is(err, desk.ErrNotClosed),
		errors.Is(err, desk.ErrAlreadyRated), errors.Is(err, desk.ErrAlreadyClaimed),
		errors.Is(err, identity.ErrDuplicateEmail):
		status = http.StatusConflict
	case errors.Is(err, desk.ErrReasonRequired), errors.Is(err, desk.ErrInvalidRating),
		errors.Is(err, desk.ErrEmptyMessage), errors.Is(err, desk.ErrInvalidCategory),
		errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrNotStaff):
		status = http.StatusBadRequest
	case errors.Is(err, desk.ErrForbidden), errors.Is(err, desk.ErrNotClaimed):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// handleError renders echo's own errors (unknown routes, bad methods) as JSON.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
	}
	c.JSON(status, map[string]string{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
