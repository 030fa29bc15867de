package router

import (
	"github.com/cvforge/auth-api/internal/application"
	"github.com/cvforge/auth-api/internal/container"
	pginfra "github.com/cvforge/auth-api/internal/infrastructure/postgres"
	handlers "github.com/cvforge/auth-api/internal/interface/http"
	"github.com/cvforge/auth-api/internal/router/modules"
)

// InitModules wires the auth service from container singletons and
// registers all feature modules. Called once at startup.
func InitModules(r *Registry) {
	cfg := container.GetConfig()
	repo := pginfra.NewUserRepository(container.GetPGPool())

	// Avoid handing the service a typed-nil publisher.
	var mailQueue application.EmailQueue
	if pub := container.GetRabbitPub(); pub != nil {
		mailQueue = pub
	}

	svc := application.NewService(
		repo,
		container.GetJWT(),
		cfg,
		mailQueue,
		container.GetGCS(),
		container.GetRedis(),
		container.GetLogger(),
		container.GetES(),
	)

	authHandler := handlers.NewAuthHandler(svc, container.GetLogger(), cfg.CookieDomain, cfg.CookieSecure)
	userHandler := handlers.NewUserHandler(svc, container.GetLogger(), cfg.CookieDomain, cfg.CookieSecure)

	r.Add(modules.NewAuthModule(authHandler))
	r.Add(modules.NewUserModule(userHandler))
}
