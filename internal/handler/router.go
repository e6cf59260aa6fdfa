package handler

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/makkenzo/entitlement-service-api/internal/handler/middleware"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Device    *DeviceHandler
	Admin     *AdminHandler
	Auth      *AuthHandler
	ClientKey *ClientKeyHandler
	Health    *HealthHandler

	AdminAuth     gin.HandlerFunc
	ClientKeyAuth gin.HandlerFunc // nil leaves device routes open
	RedeemLimiter *middleware.KeyedRateLimiter

	AllowOrigins []string
	AccessLog    bool
	Logger       *zap.Logger
}

func NewRouter(rc RouterConfig) *gin.Engine {
	router := gin.New()
	if rc.AccessLog {
		router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC1123),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		}))
	}
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(rc.Logger))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		rc.Logger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	if len(rc.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: rc.AllowOrigins,
			AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{
				"Origin",
				"Content-Type",
				"Accept",
				"Authorization",
				middleware.ClientKeyHeader,
			},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	if rc.Health != nil {
		router.GET("/healthz", rc.Health.Check)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")

	authRoutes := apiV1.Group("/auth")
	{
		authRoutes.POST("/login", rc.Auth.Login)
	}

	deviceRoutes := apiV1.Group("/devices")
	if rc.ClientKeyAuth != nil {
		deviceRoutes.Use(rc.ClientKeyAuth)
	}
	{
		deviceRoutes.POST("/register", rc.Device.Register)
		deviceRoutes.GET("/:deviceID/status", rc.Device.Status)
		deviceRoutes.POST("/extension-requests", rc.Device.RequestExtension)

		activate := []gin.HandlerFunc{}
		if rc.RedeemLimiter != nil {
			activate = append(activate, middleware.RateLimitMiddleware(rc.RedeemLimiter, ActivationRateKey, rc.Logger))
		}
		activate = append(activate, rc.Device.Activate)
		deviceRoutes.POST("/activate", activate...)
	}

	adminRoutes := apiV1.Group("/admin")
	adminRoutes.Use(rc.AdminAuth)
	{
		adminRoutes.POST("/keys", rc.Admin.GenerateKeys)
		adminRoutes.GET("/keys", rc.Admin.ListKeys)
		adminRoutes.GET("/devices", rc.Admin.ListDevices)
		adminRoutes.GET("/devices/:deviceID", rc.Admin.GetDevice)
		adminRoutes.POST("/devices/:deviceID/trial/extend", rc.Admin.ExtendTrial)
		adminRoutes.POST("/devices/:deviceID/trial/close", rc.Admin.CloseTrial)
		adminRoutes.POST("/grants/:grantID/revoke", rc.Admin.RevokeGrant)
		adminRoutes.GET("/key-requests", rc.Admin.ListKeyRequests)
		adminRoutes.PATCH("/key-requests/:id", rc.Admin.UpdateKeyRequest)
		adminRoutes.GET("/summary", rc.Admin.Summary)

		adminRoutes.POST("/client-keys", rc.ClientKey.Create)
		adminRoutes.GET("/client-keys", rc.ClientKey.List)
		adminRoutes.DELETE("/client-keys/:id", rc.ClientKey.Revoke)
	}

	return router
}
