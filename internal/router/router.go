package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-admission-api/api/swagger"
	"github.com/noah-isme/sma-admission-api/internal/handler"
	"github.com/noah-isme/sma-admission-api/internal/middleware"
	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/service"
	"github.com/noah-isme/sma-admission-api/pkg/config"
	"github.com/noah-isme/sma-admission-api/pkg/logger"
	"github.com/noah-isme/sma-admission-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Admission *handler.AdmissionHandler
	Billing   *handler.BillingHandler
	Account   *handler.AccountHandler
	Auth      *handler.AuthHandler
	Student   *handler.StudentHandler
	Term      *handler.TermHandler
	Metrics   *handler.MetricsHandler
}

// New builds the gin engine with global middleware and every route group.
func New(cfg *config.Config, log *zap.Logger, tokens middleware.TokenValidator, metrics *service.MetricsService, h Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", h.Metrics.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// public
	api.POST("/admissions", h.Admission.Submit)
	api.GET("/admissions/status", h.Admission.Status)
	api.POST("/auth/login", h.Auth.Login)
	api.GET("/terms", h.Term.List)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))
	secured.GET("/auth/me", h.Auth.Me)

	admin := secured.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		admin.GET("/admissions", h.Admission.List)
		admin.GET("/admissions/:id", h.Admission.Get)
		admin.PATCH("/admissions/:id", h.Admission.Review)
		admin.POST("/admissions/:id/accept", h.Admission.Accept)
		admin.POST("/admissions/:id/reject", h.Admission.Reject)

		admin.POST("/accounts", h.Account.Provision)
		admin.PUT("/accounts/:id/password", h.Account.ResetPassword)

		admin.POST("/students", h.Student.Create)
		admin.GET("/students", h.Student.List)

		admin.POST("/tariffs", h.Billing.CreateTariff)
		admin.GET("/tariffs", h.Billing.ListTariffs)
		admin.POST("/charges", h.Billing.CreateCharge)
		admin.POST("/charges/generate", h.Billing.GenerateCharges)
		admin.POST("/charges/:id/payments", h.Billing.RecordPayment)
	}

	// class-gated reads; the billing service checks the caller against the student
	secured.GET("/students/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleTeacher), h.Student.Get)
	secured.GET("/students/:id/charges", h.Billing.StudentCharges)
	secured.GET("/students/:id/payments", h.Billing.StudentPayments)
	secured.GET("/students/:id/settlements/:tariffId", h.Billing.Settlement)
	secured.GET("/charges/:id/payments", h.Billing.ChargePayments)

	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) > 0 {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	} else {
		c.AllowAllOrigins = true
	}
	c.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", requestid.Header}
	c.ExposeHeaders = []string{requestid.Header}
	c.MaxAge = 10 * time.Minute
	return c
}
