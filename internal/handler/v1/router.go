package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/middleware"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *metrics.Collector
	Tokens    middleware.TokenValidator
	DB        Pinger
	Auth      *AuthHandler
	Referrals *ReferralHandler
	Analytics *AnalyticsHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.Recovery(d.Log),
		middleware.RequestID(),
		middleware.Tracing(d.Config.Tracing.ServiceName),
		middleware.Metrics(d.Metrics),
		middleware.RequestLogger(d.Log),
		cors.New(cors.Config{
			AllowOrigins:     d.Config.CORS.AllowedOrigins,
			AllowMethods:     d.Config.CORS.AllowedMethods,
			AllowHeaders:     d.Config.CORS.AllowedHeaders,
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           d.Config.CORS.MaxAge,
		}),
	)

	r.GET("/healthz", healthz(d.DB))
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.NewIPRateLimiter(
		rate.Limit(d.Config.RateLimit.RequestsPerSecond),
		d.Config.RateLimit.BurstSize,
	)))

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimit(middleware.PerMinute(d.Config.RateLimit.AuthRequestsPerMinute)))
	{
		authGroup.POST("/register", d.Auth.Register)
		authGroup.POST("/login", d.Auth.Login)
		authGroup.POST("/refresh", d.Auth.Refresh)
	}

	secured := api.Group("")
	secured.Use(middleware.JWTAuth(d.Tokens))
	{
		secured.GET("/me", d.Auth.Me)
		secured.PUT("/me", d.Auth.UpdateMe)
		secured.GET("/me/activity", d.Auth.MyActivity)

		secured.POST("/referrals", d.Referrals.Create)
		secured.GET("/referrals", d.Referrals.List)
		secured.POST("/referrals/relink", d.Referrals.Relink)
		secured.GET("/referrals/:id", d.Referrals.Get)
		secured.GET("/referrals/:id/history", d.Referrals.History)
		secured.GET("/referrals/:id/consultations", d.Referrals.ListConsultations)
		secured.POST("/referrals/:id/consultations", d.Referrals.SubmitConsultation)
		secured.GET("/attachments/*path", d.Referrals.Attachment)

		secured.GET("/analytics/users", d.Analytics.Users)
		secured.GET("/analytics/referrals", d.Analytics.Referrals)
		secured.GET("/analytics/doctors", d.Analytics.Doctors)
	}

	return r
}

func healthz(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
