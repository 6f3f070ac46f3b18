package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callswitch/internal/auth"
	"callswitch/internal/session"
	"callswitch/internal/signaling"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Registry   *session.Registry
	Dispatcher *signaling.Dispatcher
}

// --- Auth ---

type loginRequest struct {
	Extension string `json:"extension"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair for an operator console.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Extension == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "extension, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.Extension, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type callSummary struct {
	CallID          string `json:"call_id"`
	State           string `json:"state"`
	CallerURI       string `json:"caller_uri,omitempty"`
	CalleeURI       string `json:"callee_uri,omitempty"`
	CalleeExtension string `json:"callee_extension,omitempty"`
	StartTime       string `json:"start_time"`
	AnswerTime      string `json:"answer_time,omitempty"`
}

func summarize(call *session.Call) callSummary {
	s := callSummary{
		CallID:    call.ID(),
		State:     string(call.State()),
		StartTime: call.StartTime().Format(time.RFC3339),
	}
	if uri, found := call.CallerURI(); found {
		s.CallerURI = uri
	}
	if uri, found := call.CalleeURI(); found {
		s.CalleeURI = uri
	}
	if ext, found := call.CalleeExtension(); found {
		s.CalleeExtension = ext
	}
	if t, found := call.AnswerTime(); found {
		s.AnswerTime = t.Format(time.RFC3339)
	}
	return s
}

// ListActiveCalls returns every call in an active state.
func (h Handlers) ListActiveCalls(c *gin.Context) {
	if h.Registry == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registry not configured"})
		return
	}
	active := h.Registry.Active()
	out := make([]callSummary, 0, len(active))
	for _, call := range active {
		out = append(out, summarize(call))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

// GetCall returns one call by id, terminal calls included while the
// registry retains them.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Registry == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registry not configured"})
		return
	}
	call, found := h.Registry.Get(c.Param("id"))
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, summarize(call))
}

// --- Signaling webhook ---

// SignalingEvent ingests one event from the SIP stack in front of the
// switch. Events for one dialog must arrive on one flow; ordering
// across dialogs does not matter.
func (h Handlers) SignalingEvent(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}
	var ev signaling.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if ev.Type == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "type required"})
		return
	}

	call, err := h.Dispatcher.HandleEvent(c.Request.Context(), ev)
	switch {
	case errors.Is(err, signaling.ErrUnknownCall):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, signaling.ErrCallCapReached):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "extension call cap reached"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID(), "state": string(call.State())})
}
