package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/adapters/datasource"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/config"
	"github.com/veritas-qms/veritas-engine/pkg/handlers"
	"github.com/veritas-qms/veritas-engine/pkg/logging"
	"github.com/veritas-qms/veritas-engine/pkg/middleware"
	"github.com/veritas-qms/veritas-engine/pkg/render"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("datasource", cfg.Datasource.Type),
		zap.String("source", logging.SanitizeSource(cfg.Datasource.Source)),
		zap.String("renderer", cfg.Reports.Renderer),
		zap.Int("signers", len(cfg.Auth.Users)),
		zap.Bool("signing_tokens", cfg.Auth.SigningTokenSecret != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Data provider
	base, err := datasource.New(ctx, cfg.Datasource.Type, cfg.Datasource.Source)
	if err != nil {
		logger.Fatal("Failed to open datasource", zap.String("type", cfg.Datasource.Type), zap.Error(err))
	}
	provider := datasource.NewRetryingProvider(base, &cfg.Datasource.Retry, logger)
	logger.Info("Datasets available", zap.Strings("datasets", provider.Keys()))

	// Credentials
	passwords := auth.NewPasswordVerifier(cfg.Auth.Users, logger)
	verifier := auth.ChainVerifier{passwords}
	var tokens *auth.TokenVerifier
	if cfg.Auth.SigningTokenSecret != "" {
		tokens, err = auth.NewTokenVerifier(cfg.Auth.SigningTokenSecret, logger)
		if err != nil {
			logger.Fatal("Failed to create token verifier", zap.Error(err))
		}
		verifier = append(verifier, tokens)
	}

	// Renderer
	var renderer render.Renderer = render.NewHTMLRenderer(logger)
	if cfg.Reports.Renderer == "pdf" {
		renderer = render.NewPDFRenderer(render.NewHTMLRenderer(logger), render.PDFConfig{
			ChromiumPath: cfg.Reports.ChromiumPath,
			Timeout:      cfg.Reports.Timeout,
		}, logger)
	}

	// Repositories and services
	security := audit.NewSecurityAuditor(logger)
	auditRepo := repositories.NewAuditRepository(time.Now)
	ledger := services.NewAuditService(auditRepo, security, logger)
	lineage := services.NewLineageService(auditRepo, logger)
	qcService := services.NewQCService(provider, cfg.Analytics, logger)
	analysisService := services.NewAnalysisService(provider, cfg.Analytics, logger)
	deviationService := services.NewDeviationService(
		repositories.NewDeviationRepository(), ledger, security, cfg.Analytics.DeviationStates, logger)
	reportService := services.NewReportService(
		repositories.NewDraftRepository(),
		ledger,
		verifier,
		renderer,
		security,
		cfg.Reports.Watermark,
		cfg.Analytics.CpkTarget,
		logger,
	)
	kpiService := services.NewKPIService(deviationService, qcService, analysisService, ledger, cfg.Analytics.CpkTarget, logger)

	mux := http.NewServeMux()
	authMiddleware := auth.NewMiddleware(logger)

	// Register handlers
	handlers.NewHealthHandler(cfg, ledger, logger).RegisterRoutes(mux)
	handlers.NewAuditHandler(ledger, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewLineageHandler(lineage, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewQCHandler(qcService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAnalysisHandler(analysisService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDeviationHandler(deviationService, qcService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewReportHandler(reportService, provider, cfg.Analytics.SpecLimits, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDashboardHandler(kpiService, cfg.Datasource.DefaultDataset, logger).RegisterRoutes(mux, authMiddleware)
	if tokens != nil {
		handlers.NewAuthHandler(passwords, tokens, cfg.Auth.SigningTokenTTL, security, logger).RegisterRoutes(mux, authMiddleware)
	}

	addr := net.JoinHostPort(config.ResolveBindAddr(cfg.BindAddr), cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting veritas-engine", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// newLogger returns a development logger for local runs and a JSON
// production logger everywhere else.
func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "" {
		return zap.NewDevelopment()
	}
	if os.Getenv("VERITAS_DEBUG") != "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}
