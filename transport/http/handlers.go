package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/veltis-io/veltis-api/service"
	"go.uber.org/zap"
)

// HealthCheck reports whether the durable store is reachable
type HealthCheck func(ctx context.Context) error

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	health      HealthCheck
	logger      *zap.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, health HealthCheck, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		health:      health,
		logger:      logger,
	}
}

type nonceRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type verifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
}

// Nonce issues a fresh challenge nonce for a wallet
func (h *AuthHandlers) Nonce(c *gin.Context) {
	var req nonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	nonce, err := h.authService.IssueNonce(c.Request.Context(), req.WalletAddress)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondOK(c, gin.H{"nonce": nonce})
}

// Verify checks a signed challenge and returns a session token
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.authService.Verify(c.Request.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondOK(c, gin.H{
		"token": res.Token,
		"user":  newUserResponse(res.User),
	})
}

// User returns the identity of the authenticated caller
func (h *AuthHandlers) User(c *gin.Context) {
	session, ok := SessionFromContext(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.authService.CurrentUser(c.Request.Context(), session)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondOK(c, gin.H{"user": newUserResponse(user)})
}

// Logout ends the caller's session
func (h *AuthHandlers) Logout(c *gin.Context) {
	session, ok := SessionFromContext(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), session); err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondOK(c, gin.H{"message": "Logged out successfully"})
}

// Health reports liveness. A failing durable store only marks the service
// degraded, since authentication keeps working on the volatile store.
func (h *AuthHandlers) Health(c *gin.Context) {
	status := "ok"
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			status = "degraded"
		}
	}
	respondOK(c, gin.H{"status": status})
}
