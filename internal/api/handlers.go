package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/directline-io/directline/internal/logbuf"
	"github.com/directline-io/directline/pkg/protocol"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	Token       string            `json:"token"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Identity    protocol.Identity `json:"identity"`
	Provisioned bool              `json:"provisioned"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	ident, provisioned, err := s.dir.Login(req.Email)
	if err != nil {
		return s.fail(c, err)
	}
	token, exp, err := s.tokens.Issue(ident)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, Identity: ident, Provisioned: provisioned})
}

func (s *Server) handleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, currentIdentity(c))
}

// --- consultations ---

type openRequest struct {
	Content    string               `json:"content"`
	Category   string               `json:"category"`
	Attachment *protocol.Attachment `json:"attachment,omitempty"`
}

func (s *Server) handleOpen(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	category, err := protocol.ParseCategory(req.Category)
	if err != nil {
		return badRequest(c, err.Error())
	}
	cons, err := s.desk.Open(c.Request().Context(), currentIdentity(c), req.Content, category, req.Attachment)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cons)
}

func (s *Server) handleGet(c echo.Context) error {
	cons, err := s.desk.Get(c.Request().Context(), currentIdentity(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

type replyRequest struct {
	Content    string               `json:"content"`
	Attachment *protocol.Attachment `json:"attachment,omitempty"`
}

func (s *Server) handleReply(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	msg, err := s.desk.Reply(c.Request().Context(), currentIdentity(c), c.Param("id"), req.Content, req.Attachment)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

type categoryRequest struct {
	Category string `json:"category"`
}

func (s *Server) handleSetCategory(c echo.Context) error {
	var req categoryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	category, err := protocol.ParseCategory(req.Category)
	if err != nil {
		return badRequest(c, err.Error())
	}
	cons, err := s.desk.SetCategory(c.Request().Context(), currentIdentity(c), c.Param("id"), category)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

type closeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleClose(c echo.Context) error {
	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	cons, err := s.desk.Close(c.Request().Context(), currentIdentity(c), c.Param("id"), req.Reason)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

type feedbackRequest struct {
	Rating      int    `json:"rating"`
	Description string `json:"description"`
}

func (s *Server) handleRate(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	cons, err := s.desk.Rate(c.Request().Context(), currentIdentity(c), c.Param("id"), req.Rating, req.Description)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (s *Server) handleAudit(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.desk.Get(c.Request().Context(), currentIdentity(c), id); err != nil {
		return s.fail(c, err)
	}
	if s.logs == nil {
		return c.JSON(http.StatusOK, []logbuf.Entry{})
	}
	return c.JSON(http.StatusOK, nonNil(s.logs.Query(logbuf.Filter{MinLevel: slog.LevelDebug, Key: "consultation", Value: id})))
}

// --- staff views ---

func (s *Server) handleQueue(c echo.Context) error {
	out, err := s.desk.Queue(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(out))
}

func (s *Server) handleWorkspace(c echo.Context) error {
	out, err := s.desk.Workspace(c.Request().Context(), currentIdentity(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(out))
}

func (s *Server) handleClaim(c echo.Context) error {
	cons, err := s.desk.Claim(c.Request().Context(), currentIdentity(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (s *Server) handleRelease(c echo.Context) error {
	if err := s.desk.Release(c.Request().Context(), currentIdentity(c), c.Param("id"), c.QueryParam("reason")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHistory(c echo.Context) error {
	out, err := s.desk.History(c.Request().Context(), currentIdentity(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(out))
}

func (s *Server) handlePerformance(c echo.Context) error {
	report, err := s.desk.Performance(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// --- supervisor ---

func (s *Server) handleListStaff(c echo.Context) error {
	return c.JSON(http.StatusOK, nonNil(s.dir.ListStaff()))
}

type addStaffRequest struct {
	Name  string        `json:"name"`
	Email string        `json:"email"`
	Role  protocol.Role `json:"role"`
	Team  string        `json:"team"`
}

func (s *Server) handleAddStaff(c echo.Context) error {
	var req addStaffRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON")
	}
	ident, err := s.dir.AddStaff(req.Name, req.Email, req.Role, req.Team)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, ident)
}

func (s *Server) handleRemoveStaff(c echo.Context) error {
	id := c.Param("id")
	if id == currentIdentity(c).ID {
		return badRequest(c, "cannot remove yourself")
	}
	if err := s.dir.RemoveStaff(id); err != nil {
		return s.fail(c, err)
	}
	// Whatever the removed agent held goes back to the queue.
	s.desk.Tracker().ReleaseAgent(id, "staff removed")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetLogs(c echo.Context) error {
	if s.logs == nil {
		return c.JSON(http.StatusOK, []logbuf.Entry{})
	}

	f := logbuf.Filter{MinLevel: slog.LevelDebug, Limit: 200}
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := c.QueryParam("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if since := c.QueryParam("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}
	if cid := strings.TrimSpace(c.QueryParam("consultation")); cid != "" {
		f.Key, f.Value = "consultation", cid
	}
	return c.JSON(http.StatusOK, nonNil(s.logs.Query(f)))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
