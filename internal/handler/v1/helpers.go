package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/middleware"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/attachment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

func respondServiceError(c *gin.Context, log *zap.Logger, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: validErr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, referral.ErrReferralNotFound),
		errors.Is(err, consultation.ErrConsultationNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, attachment.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, domain.ErrDuplicateUser):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})

	case errors.Is(err, attachment.ErrInvalidPath),
		errors.Is(err, attachment.ErrInvalidFileName),
		errors.Is(err, attachment.ErrTooLarge):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, referral.ErrAttachmentDenied):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})

	default:
		var storageErr *service.StorageError
		code := "INTERNAL"
		if errors.As(err, &storageErr) {
			code = "STORAGE"
		}
		log.Error("request failed",
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: code})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}

	return true
}

// currentUser returns the authenticated caller. Routes using it sit behind
// middleware.JWTAuth.
func currentUser(c *gin.Context) (*domain.Claims, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return claims, true
}

// referralIDParam reads the :id path segment. Ids are opaque to the handler,
// so an id that names no referral reaches the service and comes back 404.
func referralIDParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, "referral id is required")
		return "", false
	}
	return id, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}
