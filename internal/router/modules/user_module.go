package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cvforge/auth-api/internal/container"
	handlers "github.com/cvforge/auth-api/internal/interface/http"
	"github.com/cvforge/auth-api/internal/interface/middleware"
)

// UserModule registers the authenticated endpoints:
// GET/PUT /api/profile, POST /api/logout, GET /api/users/search
type UserModule struct {
	Handler *handlers.UserHandler
}

func NewUserModule(h *handlers.UserHandler) *UserModule {
	return &UserModule{Handler: h}
}

func (m *UserModule) Register(rg *gin.RouterGroup) {
	rdb := container.GetRedis()

	auth := rg.Group("/")
	auth.Use(middleware.Auth(rdb, container.GetJWT()))
	auth.Use(
		middleware.RateLimit(rdb, 120, time.Minute, middleware.KeyByUserID()),
	)
	{
		auth.GET("/profile", m.Handler.GetProfile)
		auth.PUT("/profile", m.Handler.UpdateProfile)
		auth.POST("/logout", m.Handler.Logout)
		auth.GET("/users/search", m.Handler.Search)
	}
}
