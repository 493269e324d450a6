// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/draftmark/internal/auth"
	"github.com/yourusername/draftmark/internal/batch"
	"github.com/yourusername/draftmark/internal/config"
	"github.com/yourusername/draftmark/internal/watermark"
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, config.ParseLogLevel(cfg.LogLevel))
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	style, err := cfg.LoadStyle()
	if err != nil {
		return err
	}
	orchestrator, err := batch.NewOrchestrator(watermark.NewRegistry(style), batch.Options{
		OutputRoot:  cfg.OutputDir,
		Suffix:      cfg.OutputSuffix,
		Text:        style.Text,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	manager, err := setupJobs(cfg, orchestrator, logger)
	if err != nil {
		return err
	}
	if err := manager.StartWorkers(); err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to shut down job manager", "error", err)
		}
	}()

	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// セッションストアの設定（認証無効時も署名鍵が必要なためランダム値で補う）
	secret := cfg.SessionSecret
	if secret == "" {
		secret = randomSecret()
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-CSRF-Token"}
	// フロントエンドが CSRF トークンと成果物の Content-Disposition を読めるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Content-Disposition", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, routeDeps{
		cfg:      cfg,
		auth:     auth.NewManager(cfg),
		tracker:  manager,
		renderer: orchestrator,
		logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "output_dir", orchestrator.OutputRoot())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "draftmark-api",
		"version": serviceVersion,
	})
}

type routeDeps struct {
	cfg      *config.Config
	auth     *auth.Manager
	tracker  jobTracker
	renderer batch.FileRenderer
	logger   *slog.Logger
}

// setupRoutes は透かし・ジョブ・認証のルートを登録します。
func setupRoutes(router *gin.Engine, deps routeDeps) {
	router.GET("/health", handleHealth)

	authRoutes := router.Group("/api/auth")
	{
		// ログイン時はセッション未生成なので CSRF 検証は不要
		authRoutes.POST("/login", deps.auth.Login)
		authRoutes.POST("/logout", deps.auth.RequireLogin(), deps.auth.VerifyCSRF(), deps.auth.Logout)
	}

	protected := router.Group("/", deps.auth.Guard())
	{
		protected.POST("/watermark/", batch.SingleFileHandler(deps.renderer))
		protected.POST("/watermark/batch/", batch.BatchHandler(
			&batchJobScheduler{tracker: deps.tracker},
			batch.HandlerOptions{MaxBatchFiles: deps.cfg.MaxBatchFiles},
		))
		protected.GET("/status/", statusHandler(deps.tracker))
		protected.GET("/download/", downloadHandler(deps.tracker, deps.logger))
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
