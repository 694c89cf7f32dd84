package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"passgate/internal/authz"
	"passgate/internal/handlers"
	"passgate/internal/middleware"
	"passgate/internal/ratelimit"
)

// Deps groups everything the route table needs.
type Deps struct {
	Auth    *handlers.AuthHandler
	Account *handlers.AccountHandler
	Admin   *handlers.AdminHandler
	Health  *handlers.HealthHandler

	Secret  []byte
	APIKeys []string

	Limiter   ratelimit.Limiter
	Register  ratelimit.Rule
	Resend    ratelimit.Rule
	Login     ratelimit.Rule
	Logger    *zap.Logger
	EnableDoc bool
}

func SetupRoutes(r *gin.Engine, d Deps) *gin.Engine {
	// ---- public
	r.GET("/healthz", d.Health.Healthz)
	if d.EnableDoc {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", middleware.RateLimit(d.Limiter, "register", d.Register, d.Logger), d.Auth.Register)
		auth.POST("/register/verify", d.Auth.Verify)
		auth.POST("/register/resend", middleware.RateLimit(d.Limiter, "resend", d.Resend, d.Logger), d.Auth.Resend)
		auth.POST("/login", middleware.RateLimit(d.Limiter, "login", d.Login, d.Logger), d.Auth.Login)
		auth.POST("/refresh", d.Auth.Refresh)
		auth.POST("/logout", middleware.Auth(d.Secret), d.Auth.Logout)
	}

	// ---- protected
	account := api.Group("/account", middleware.Auth(d.Secret))
	{
		account.GET("/me", d.Account.Me)
		account.GET("/password-change", d.Account.PasswordChangeStatus)
		account.POST("/password-change", d.Account.RequestPasswordChange)
		account.POST("/password-change/confirm", d.Account.ConfirmPasswordChange)
		account.POST("/password-change/cancel", d.Account.CancelPasswordChange)
	}

	// ---- admin (JWT with admin role, or X-API-Key)
	admin := api.Group("/admin",
		middleware.APIKey(d.APIKeys),
		middleware.Auth(d.Secret),
		middleware.RequireRoles(authz.RoleAdmin),
	)
	{
		admin.GET("/password-changes", d.Admin.ListPasswordChanges)
		admin.GET("/mail/stats", d.Admin.MailStats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}
