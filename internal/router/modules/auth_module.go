package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cvforge/auth-api/internal/container"
	handlers "github.com/cvforge/auth-api/internal/interface/http"
	"github.com/cvforge/auth-api/internal/interface/middleware"
)

// AuthModule registers the public auth endpoints:
// POST /api/auth/register, GET /api/auth/verify-email,
// POST /api/auth/verify/resend, POST /api/auth/login,
// POST /api/auth/upload-image, POST /api/auth/refresh
type AuthModule struct {
	Handler *handlers.AuthHandler
}

func NewAuthModule(h *handlers.AuthHandler) *AuthModule {
	return &AuthModule{Handler: h}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	rdb := container.GetRedis()

	registerLimiter := middleware.RateLimit(rdb, 5, time.Minute, middleware.KeyByIPAndPath())
	loginLimiter := middleware.RateLimit(rdb, 10, time.Minute, middleware.KeyByIP())
	verifyLimiter := middleware.RateLimit(rdb, 30, time.Minute, middleware.KeyByIPAndPath())
	resendLimiter := middleware.RateLimit(rdb, 5, time.Minute, middleware.KeyByIPAndPath())
	uploadLimiter := middleware.RateLimit(rdb, 10, time.Minute, middleware.KeyByIPAndPath())
	refreshLimiter := middleware.RateLimit(rdb, 60, time.Minute, middleware.KeyByIP())

	rg.POST("/auth/register", registerLimiter, m.Handler.Register)
	rg.GET("/auth/verify-email", verifyLimiter, m.Handler.VerifyEmail)
	rg.POST("/auth/verify/resend", resendLimiter, m.Handler.ResendVerification)
	rg.POST("/auth/login", loginLimiter, m.Handler.Login)
	rg.POST("/auth/upload-image", uploadLimiter, m.Handler.UploadImage)
	rg.POST("/auth/refresh", refreshLimiter, m.Handler.Refresh)
}
