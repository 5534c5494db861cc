package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askmygarmin/backend/core"
	"github.com/askmygarmin/backend/service"
)

// Handlers contains the HTTP handlers for all endpoints.
type Handlers struct {
	auth     *service.AuthService
	ask      *service.AskService
	memories *service.MemoryService
}

// NewHandlers creates the handler set.
func NewHandlers(auth *service.AuthService, ask *service.AskService, memories *service.MemoryService) *Handlers {
	return &Handlers{auth: auth, ask: ask, memories: memories}
}

// Login starts a Garmin login. Responds with either a finished session
// token or an MFA continuation.
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	outcome, err := h.auth.StartLogin(c.Request.Context(), c.ClientIP(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if outcome.MFARequired {
		c.JSON(http.StatusOK, gin.H{"status": "mfa_required", "session_id": outcome.SessionID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_token": outcome.SessionToken})
}

// SubmitMFA completes a login that paused for an out-of-band code.
func (h *Handlers) SubmitMFA(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Code      string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and code are required"})
		return
	}

	outcome, err := h.auth.SubmitMFA(c.Request.Context(), req.SessionID, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_token": outcome.SessionToken})
}

// Status reports whether the presented token holds a usable credential.
// A missing or undecodable token is simply "not connected", never an error.
func (h *Handlers) Status(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("session_token")
	}
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"connected": false})
		return
	}

	connected, email := h.auth.Status(c.Request.Context(), token)
	resp := gin.H{"connected": connected}
	if email != "" {
		resp["email"] = email
	}
	c.JSON(http.StatusOK, resp)
}

// Logout acknowledges a logout. Tokens are stateless, so there is nothing
// to invalidate server-side; the client discards its copy.
func (h *Handlers) Logout(c *gin.Context) {
	h.auth.Logout(c.Request.Context(), bearerToken(c))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ask streams a model answer built from live Garmin data.
func (h *Handlers) Ask(c *gin.Context) {
	var req struct {
		Question string                `json:"question"`
		History  []service.ChatMessage `json:"history"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	cred := credentialFrom(c)
	if cred == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated with Garmin"})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := h.ask.Ask(c.Request.Context(), cred, req.Question, req.History, c.Writer); err != nil {
		// Headers are gone; the best we can do is log and cut the stream.
		_ = c.Error(err)
	}
}

// ListMemories returns the athlete's active memories.
func (h *Handlers) ListMemories(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	memories, err := h.memories.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list memories"})
		return
	}
	if memories == nil {
		memories = []*core.Memory{}
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

// CreateMemory stores a memory supplied directly by the athlete.
func (h *Handlers) CreateMemory(c *gin.Context) {
	var req struct {
		Key      string `json:"key" binding:"required"`
		Content  string `json:"content" binding:"required"`
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and content are required"})
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	m, err := h.memories.Create(c.Request.Context(), userID, req.Key, req.Content, req.Category, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create memory"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// UpdateMemory edits an existing memory.
func (h *Handlers) UpdateMemory(c *gin.Context) {
	var req struct {
		Key      string `json:"key"`
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	m, err := h.memories.Update(c.Request.Context(), userID, c.Param("id"), req.Key, req.Content, req.Category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update memory"})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// DeleteMemory soft-deletes a memory.
func (h *Handlers) DeleteMemory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	deleted, err := h.memories.Delete(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete memory"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// userID resolves the hashed Garmin user ID for the authenticated request,
// writing the error response itself on failure.
func (h *Handlers) userID(c *gin.Context) (string, bool) {
	cred := credentialFrom(c)
	if cred == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated with Garmin"})
		return "", false
	}
	profile, err := h.auth.Profile(c.Request.Context(), cred)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not resolve Garmin identity"})
		return "", false
	}
	return service.UserHash(profile.UserID), true
}

// writeError maps service errors onto status codes, passing the provider
// message through on authentication failures.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts, try again later"})
	case errors.Is(err, core.ErrInvalidSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired session"})
	case errors.Is(err, core.ErrAuthenticationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case core.IsTokenError(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
	case errors.Is(err, core.ErrUpstream):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
