package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/iamwavecut/ngtrust/internal/enforcement"
	"github.com/iamwavecut/ngtrust/internal/gate"
	"github.com/iamwavecut/ngtrust/internal/policy/violation"
	"github.com/iamwavecut/ngtrust/internal/sweeper"
)

const defaultCountDays = 90

func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid user id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid "+key)
		return 0, false
	}
	return v, true
}

// GET /api/users/:id/violations?limit=
func (s *Server) listViolations(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", enforcement.DefaultHistoryLimit)
	if !ok {
		return
	}
	violations, err := s.deps.Enforcement.History(c.Request.Context(), userID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"violations": violations})
}

// GET /api/users/:id/violations/count?days=
func (s *Server) countViolations(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", defaultCountDays)
	if !ok {
		return
	}
	count, err := s.deps.Enforcement.CountSince(c.Request.Context(), userID, days)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "days": days, "count": count})
}

func (s *Server) canSend(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	d, err := s.deps.Gate.CanSend(c.Request.Context(), userID)
	decision(c, d, err)
}

func (s *Server) status(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	state, err := s.deps.Enforcement.Status(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) sendMessage(c *gin.Context) {
	var out gate.Outgoing
	if err := c.ShouldBindJSON(&out); err != nil {
		badRequest(c, "invalid message body")
		return
	}
	d, err := s.deps.Gate.Send(c.Request.Context(), out)
	decision(c, d, err)
}

type appealRequest struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

func (s *Server) appeal(c *gin.Context) {
	var req appealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid appeal body")
		return
	}
	v, err := s.deps.Appeals.Appeal(c.Request.Context(), c.Param("id"), req.UserID, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type reviewRequest struct {
	AdminID  int64  `json:"admin_id"`
	Approved *bool  `json:"approved"`
	Notes    string `json:"notes"`
}

func (s *Server) reviewAppeal(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
		badRequest(c, "invalid review body")
		return
	}
	v, err := s.deps.Appeals.ReviewAppeal(c.Request.Context(), c.Param("id"), req.AdminID, *req.Approved, req.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type manualViolationRequest struct {
	UserID         int64  `json:"user_id"`
	ViolationType  string `json:"violation_type"`
	Text           string `json:"text"`
	ConversationID *int64 `json:"conversation_id"`
	MessageID      *int64 `json:"message_id"`
	ReportedBy     *int64 `json:"reported_by"`
	// Deferred leaves the violation pending for the reconcile pass.
	Deferred bool `json:"deferred"`
}

func (s *Server) recordViolation(c *gin.Context) {
	var req manualViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 || req.ViolationType == "" {
		badRequest(c, "invalid violation body")
		return
	}
	outcome, err := s.deps.Enforcement.RecordViolation(c.Request.Context(), req.UserID, violation.ParseType(req.ViolationType), enforcement.Context{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Text:           req.Text,
		Manual:         true,
		ReportedBy:     req.ReportedBy,
		Deferred:       req.Deferred,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

type sweepRequest struct {
	ConversationID     int64 `json:"conversation_id"`
	Limit              int   `json:"limit"`
	SkipAlreadyFlagged bool  `json:"skip_already_flagged"`
	After              int64 `json:"after"`
	Resume             bool  `json:"resume"`
	Concurrency        int   `json:"concurrency"`
}

// GET /api/admin/messages/:id
func (s *Server) message(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid message id")
		return
	}
	m, err := s.deps.Gate.Message(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// sweep runs synchronously; a single conversation is scanned when conversation_id is set.
func (s *Server) sweep(c *gin.Context) {
	var req sweepRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid sweep body")
			return
		}
	}
	ctx := c.Request.Context()
	if req.ConversationID != 0 {
		report, err := s.deps.Sweeps.ScanConversation(ctx, req.ConversationID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}
	summary, err := s.deps.Sweeps.ScanAll(ctx, sweeper.Options{
		Limit:              req.Limit,
		SkipAlreadyFlagged: req.SkipAlreadyFlagged,
		After:              req.After,
		Resume:             req.Resume,
		Concurrency:        req.Concurrency,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
