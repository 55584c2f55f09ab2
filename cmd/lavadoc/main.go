package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/ai"
	"github.com/xxxsen/lavadoc/internal/config"
	"github.com/xxxsen/lavadoc/internal/db"
	"github.com/xxxsen/lavadoc/internal/filestore"
	"github.com/xxxsen/lavadoc/internal/handler"
	"github.com/xxxsen/lavadoc/internal/job"
	"github.com/xxxsen/lavadoc/internal/metrics"
	"github.com/xxxsen/lavadoc/internal/middleware"
	"github.com/xxxsen/lavadoc/internal/repo"
	"github.com/xxxsen/lavadoc/internal/schedule"
	"github.com/xxxsen/lavadoc/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "lavadoc",
		Short: "lavadoc collaborative document server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run lavadoc server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()
			return runServer(cfg, store)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(runCmd, newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func openStore(cfg *config.Config) (repo.Store, error) {
	switch cfg.Store.Type {
	case config.StoreRedis:
		return repo.NewRedisStore(cfg.Store.Redis.ConnURL(), cfg.Store.Redis.Prefix)
	case config.StorePostgres:
		conn, err := db.Open(cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}
		if err := db.ApplyMigrations(context.Background(), conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return repo.NewPostgresStore(conn), nil
	default:
		return repo.NewMemoryStore(), nil
	}
}

func newGenerator(cfg config.AIConfig) (*ai.ContentGenerator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	provider, err := ai.NewProvider(cfg.Provider, cfg.Data)
	if err != nil {
		return nil, err
	}
	return ai.NewContentGenerator(provider, cfg.Model, time.Duration(cfg.Timeout)*time.Second), nil
}

func runServer(cfg *config.Config, store repo.Store) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.Store.Type),
		zap.Int("version_max_keep", cfg.VersionMaxKeep),
		zap.String("archive", cfg.Archive.Type),
		zap.String("ai_provider", cfg.AI.Provider),
	)
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	sink := service.MultiSink{service.NewMessageSink(store, cfg.MessageMaxKeep), service.LogSink{}}
	docOpts := service.DocumentOptions{
		VersionKeep:    cfg.VersionKeep(),
		InitialContent: cfg.InitialContent,
	}
	if cfg.Archive.Enabled() {
		archiveStore, err := filestore.New(cfg.Archive)
		if err != nil {
			return fmt.Errorf("init archive store: %w", err)
		}
		docOpts.Archive = filestore.NewVersionArchive(archiveStore)
	}
	documentService := service.NewDocumentService(store, sink, docOpts)
	restoreService := service.NewRestoreService(documentService, sink)

	generator, err := newGenerator(cfg.AI)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	var assistService *service.AssistService
	generatorName := ""
	if generator != nil {
		assistService = service.NewAssistService(documentService, generator)
		generatorName = generator.Name()
	}
	chatService := service.NewChatService(store, cfg.MessageMaxKeep, assistService, sink)

	scheduler := schedule.NewCronScheduler()
	retentionJob := job.NewRetentionJob(documentService)
	if err := scheduler.AddJob(retentionJob, cfg.Jobs.Retention); err != nil {
		return fmt.Errorf("add retention job: %w", err)
	}
	if err := scheduler.AddJob(job.NewMessageTrimJob(store, cfg.MessageMaxKeep), cfg.Jobs.MessageTrim); err != nil {
		return fmt.Errorf("add message trim job: %w", err)
	}

	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(documentService, restoreService),
		Versions:  handler.NewVersionHandler(documentService),
		Messages:  handler.NewMessageHandler(chatService),
		Health:    handler.NewHealthHandler(store, cfg.Store.Type, generatorName),
		RateLimit: time.Duration(cfg.RateLimitMS) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := documentService.GetDocument(ctx); err != nil {
		return fmt.Errorf("init document: %w", err)
	}
	if err := scheduler.Trigger(retentionJob.Name()); err != nil {
		logutil.GetLogger(ctx).Warn("startup retention failed", zap.Error(err))
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
