package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/veltis-io/veltis-api/core"
	"go.uber.org/zap"
)

const msgInternal = "Internal server error"

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type userResponse struct {
	ID                  string    `json:"id"`
	WalletAddress       string    `json:"wallet_address"`
	SmartAccountAddress *string   `json:"smart_account_address"`
	Email               *string   `json:"email"`
	Name                *string   `json:"name"`
	Institution         *string   `json:"institution"`
	Role                *string   `json:"role"`
	KYCStatus           string    `json:"kyc_status"`
	TermsAccepted       bool      `json:"terms_accepted"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func newUserResponse(u *core.User) userResponse {
	return userResponse{
		ID:                  u.ID,
		WalletAddress:       u.WalletAddress,
		SmartAccountAddress: u.SmartAccountAddress,
		Email:               u.Email,
		Name:                u.Name,
		Institution:         u.Institution,
		Role:                u.Role,
		KYCStatus:           u.KYCStatus,
		TermsAccepted:       u.TermsAccepted,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: msg})
}

// respondError maps a service error onto a status code and a stable message.
// Details of unexpected errors are logged, never returned.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	abortWithError(c, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidWalletAddress):
		return http.StatusBadRequest, "Invalid wallet address"
	case errors.Is(err, core.ErrSignatureRequired):
		return http.StatusBadRequest, "Signature is required"
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, core.ErrNonceNotFound):
		return http.StatusBadRequest, "Nonce not found or expired"
	case errors.Is(err, core.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "User not found"
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
