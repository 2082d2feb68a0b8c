package call

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolportal-backend/internal/domain"
	callsvc "schoolportal-backend/internal/service/call"
	"schoolportal-backend/pkg/logger"
	"schoolportal-backend/pkg/response"
)

// History page bounds
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Service is the orchestrator surface used by the HTTP API
type Service interface {
	Initiate(ctx context.Context, callerID uuid.UUID, recipientIDs []uuid.UUID, kind domain.CallKind) (*callsvc.InitiateOutput, error)
	Answer(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	Decline(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	End(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	MarkBusy(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	Get(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	ActiveFor(ctx context.Context, userID uuid.UUID) []*domain.CallSession
}

// HistoryReader lists a user's call log entries, newest first
type HistoryReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLogEntry, error)
}

// Handler handles call HTTP requests
type Handler struct {
	calls   Service
	history HistoryReader
}

// NewHandler creates a new call handler. history may be nil when no call
// log backend is configured.
func NewHandler(calls Service, history HistoryReader) *Handler {
	return &Handler{
		calls:   calls,
		history: history,
	}
}

// RegisterRoutes mounts the call API on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/initiate", h.InitiateCall)
	rg.GET("/active", h.GetActiveCalls)
	rg.GET("/history", h.GetCallHistory)
	rg.GET("/:id", h.GetCall)
	rg.POST("/:id/answer", h.AnswerCall)
	rg.POST("/:id/decline", h.DeclineCall)
	rg.POST("/:id/end", h.EndCall)
	rg.POST("/:id/busy", h.BusyCall)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	Kind         string   `json:"kind" binding:"required,oneof=audio video"`
	RecipientIDs []string `json:"recipientIds" binding:"required,min=1"`
}

// InitiateCall starts a new call
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := currentUser(c)
	if !ok {
		return
	}

	recipients := make([]uuid.UUID, len(req.RecipientIDs))
	for i, idStr := range req.RecipientIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid recipient ID: "+idStr)
			return
		}
		recipients[i] = id
	}

	output, err := h.calls.Initiate(c.Request.Context(), callerID, recipients, domain.CallKind(req.Kind))
	if err != nil {
		if output != nil {
			response.FromErrorWithData(c, err, output)
			return
		}
		response.FromError(c, err)
		return
	}

	status := http.StatusCreated
	if output.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, output)
}

// AnswerCall connects the caller to a ringing call
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	h.transition(c, h.calls.Answer)
}

// DeclineCall declines a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	h.transition(c, h.calls.Decline)
}

// EndCall leaves or ends a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	h.transition(c, h.calls.End)
}

// BusyCall declines a ringing call because the user is busy elsewhere
// POST /v1/calls/:id/busy
func (h *Handler) BusyCall(c *gin.Context) {
	h.transition(c, h.calls.MarkBusy)
}

// GetCall returns the current state of a call
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	h.transition(c, h.calls.Get)
}

// GetActiveCalls lists the caller's live calls
// GET /v1/calls/active
func (h *Handler) GetActiveCalls(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	sessions := h.calls.ActiveFor(c.Request.Context(), userID)
	response.Success(c, http.StatusOK, gin.H{
		"sessions": sessions,
	})
}

// GetCallHistory lists the caller's finished calls
// GET /v1/calls/history?limit=20&offset=0
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.history == nil {
		response.Error(c, http.StatusServiceUnavailable, "UNAVAILABLE", "Call history is not enabled")
		return
	}

	limit, err := queryInt(c, "limit", DefaultHistoryLimit)
	if err != nil || limit < 1 {
		response.ValidationError(c, "Invalid limit")
		return
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		response.ValidationError(c, "Invalid offset")
		return
	}

	entries, err := h.history.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to load call history",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":  entries,
		"limit":  limit,
		"offset": offset,
	})
}

type sessionOp func(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)

func (h *Handler) transition(c *gin.Context, op sessionOp) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := op(c.Request.Context(), userID, sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// currentUser reads the user id set by the auth middleware
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
