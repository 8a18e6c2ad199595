package v1

import (
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	auth  *service.AuthService
	audit *service.AuditService
	log   *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, audit *service.AuditService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, audit: audit, log: log}
}

type registerRequest struct {
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	Email          string `json:"email" binding:"required"`
	FullName       string `json:"full_name" binding:"required"`
	Specialization string `json:"specialization"`
	Hospital       string `json:"hospital"`
	Department     string `json:"department"`
	Role           string `json:"role" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type updateProfileRequest struct {
	CurrentPassword string  `json:"current_password" binding:"required"`
	FullName        *string `json:"full_name"`
	Email           *string `json:"email"`
	Specialization  *string `json:"specialization"`
	Hospital        *string `json:"hospital"`
	Department      *string `json:"department"`
	NewPassword     *string `json:"new_password"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterCommand{
		Username:       req.Username,
		Password:       req.Password,
		Email:          req.Email,
		FullName:       req.FullName,
		Specialization: req.Specialization,
		Hospital:       req.Hospital,
		Department:     req.Department,
		Role:           domain.Role(req.Role),
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondCreated(c, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, pair)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, pair)
}

func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := h.auth.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, user)
}

func (h *AuthHandler) UpdateMe(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.UpdateProfile(c.Request.Context(), service.UpdateProfileCommand{
		UserID:          claims.UserID,
		CurrentPassword: req.CurrentPassword,
		FullName:        req.FullName,
		Email:           req.Email,
		Specialization:  req.Specialization,
		Hospital:        req.Hospital,
		Department:      req.Department,
		NewPassword:     req.NewPassword,
		IPAddress:       c.ClientIP(),
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, user)
}

// MyActivity lists the caller's recent activity. ?limit= is clamped by the
// audit service.
func (h *AuthHandler) MyActivity(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	entries, err := h.audit.Recent(c.Request.Context(), claims.UserID, parseQueryInt(c, "limit", 20))
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, entries)
}
