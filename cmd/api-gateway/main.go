package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/handler"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	"github.com/noah-isme/sma-admission-api/internal/router"
	"github.com/noah-isme/sma-admission-api/internal/service"
	"github.com/noah-isme/sma-admission-api/pkg/cache"
	"github.com/noah-isme/sma-admission-api/pkg/config"
	"github.com/noah-isme/sma-admission-api/pkg/database"
	"github.com/noah-isme/sma-admission-api/pkg/jobs"
	"github.com/noah-isme/sma-admission-api/pkg/logger"
)

// @title SMA Admission API
// @version 1.0.0
// @description Admissions intake, applicant conversion and tuition reconciliation.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rdb *redis.Client
	if cfg.Billing.CacheEnabled {
		rdb, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, charge cache disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	accountRepo := repository.NewAccountRepository(db)
	applicantRepo := repository.NewApplicantRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(rdb, logr)
	chargeRepo := repository.NewChargeRepository(db)
	classRepo := repository.NewClassRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	tariffRepo := repository.NewTariffRepository(db)
	termRepo := repository.NewTermRepository(db)

	auditSvc := service.NewAuditService(auditRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logr,
	}, logr)
	auditSvc.Start(ctx)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Billing.CacheTTL, logr, rdb != nil)
	accountSvc := service.NewAccountService(accountRepo, validate, logr, auditSvc, cfg.JWT.BcryptCost)
	authSvc := service.NewAuthService(accountRepo, validate, logr, auditSvc, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	admissionSvc := service.NewAdmissionService(applicantRepo, termRepo, accountSvc, metrics, auditSvc, validate, logr, service.AdmissionConfig{
		DefaultPassword: cfg.Admissions.DefaultPassword,
		NISPrefix:       cfg.Admissions.NISPrefix,
	})
	access := service.NewClassAccess(classRepo)
	billingSvc := service.NewBillingService(tariffRepo, chargeRepo, paymentRepo, studentRepo, classRepo, termRepo, access, cacheSvc, metrics, auditSvc, validate, logr, service.BillingConfig{
		OverpaymentPolicy: cfg.Billing.OverpaymentPolicy,
		CacheTTL:          cfg.Billing.CacheTTL,
	})
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	termSvc := service.NewTermService(termRepo, logr)

	engine := router.New(cfg, logr, authSvc, metrics, router.Handlers{
		Admission: handler.NewAdmissionHandler(admissionSvc),
		Billing:   handler.NewBillingHandler(billingSvc),
		Account:   handler.NewAccountHandler(accountSvc),
		Auth:      handler.NewAuthHandler(authSvc),
		Student:   handler.NewStudentHandler(studentSvc),
		Term:      handler.NewTermHandler(termSvc),
		Metrics:   handler.NewMetricsHandler(metrics, db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logr.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}

	// drain pending audit entries before the database closes
	auditSvc.Stop()
	logr.Info("shutdown complete")
}
