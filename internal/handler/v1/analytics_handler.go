package v1

import (
	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	log       *zap.Logger
}

func NewAnalyticsHandler(analytics *service.AnalyticsService, log *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, log: log}
}

func (h *AnalyticsHandler) Users(c *gin.Context) {
	stats, err := h.analytics.Users(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, stats)
}

func (h *AnalyticsHandler) Referrals(c *gin.Context) {
	stats, err := h.analytics.Referrals(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, stats)
}

func (h *AnalyticsHandler) Doctors(c *gin.Context) {
	stats, err := h.analytics.Doctors(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, stats)
}
