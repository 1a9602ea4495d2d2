package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/devpath/devpath-backend/internal/chat"
	"github.com/devpath/devpath-backend/internal/db"
	"github.com/devpath/devpath-backend/internal/docstore"
	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/handlers"
	"github.com/devpath/devpath-backend/internal/jobs/dispatch"
	"github.com/devpath/devpath-backend/internal/jobs/executor"
	"github.com/devpath/devpath-backend/internal/jobs/ledger"
	"github.com/devpath/devpath-backend/internal/jobs/registry"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/observability"
	"github.com/devpath/devpath-backend/internal/ops"
	"github.com/devpath/devpath-backend/internal/platform/envutil"
	"github.com/devpath/devpath-backend/internal/platform/logger"
	"github.com/devpath/devpath-backend/internal/server"
	"github.com/devpath/devpath-backend/internal/services"
	"github.com/devpath/devpath-backend/internal/sse"
	"github.com/devpath/devpath-backend/internal/stream"
)

func main() {
	_ = godotenv.Load()

	// Logger
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.String("SERVICE_NAME", "devpath-backend"),
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("SERVICE_VERSION", "dev"),
	})
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}

	// Stores
	log.Info("Setting up stores from main...")
	docs := docstore.NewGormStore(postgresService.DB(), log)
	jobLedger := ledger.New(docs, log)
	cancelRegistry := registry.New(jobLedger, log)
	threadStore := chat.NewThreadStore(docs, log)
	streamStore := stream.NewStore(docs, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	hub := sse.NewHub(log)
	bus, err := services.NewBus(log)
	if err != nil {
		log.Error("Could not init event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()
	jobNotifier := services.NewJobNotifier(bus)
	chatNotifier := services.NewChatNotifier(bus)

	// External providers
	log.Info("Setting up services from main...")
	sessionProvider, err := services.NewHTTPSessionProvider(log)
	if err != nil {
		log.Error("Could not init SessionProvider", "error", err)
		os.Exit(1)
	}
	profileProvider, err := services.NewHTTPProfileProvider(log)
	if err != nil {
		log.Error("Could not init ProfileProvider", "error", err)
		os.Exit(1)
	}
	focusService := services.NewFocusService(docs, log)

	// Executors
	handlerRegistry := runtime.NewHandlerRegistry()
	mustRegister(log, handlerRegistry, executor.NewTopicRegeneration(sessionProvider, profileProvider))
	mustRegister(log, handlerRegistry, executor.NewChallengeRegeneration(sessionProvider, profileProvider))
	mustRegister(log, handlerRegistry, executor.NewGoalRegeneration(sessionProvider, profileProvider))
	mustRegister(log, handlerRegistry, executor.NewChatReply(sessionProvider, threadStore, streamStore, chatNotifier))
	dispatcher := dispatch.NewDispatcher(handlerRegistry, jobLedger, cancelRegistry, jobNotifier, log)

	// Operations manager: tracks regeneration jobs and applies their
	// results to the focus history on completion.
	opsManager := ops.NewManager(ops.NewLedgerJobAPI(jobLedger, cancelRegistry, dispatcher), log)
	opsManager.RegisterCompletion(domain.JobTypeTopicRegeneration, func(ctx context.Context, job *domain.Job) {
		if err := focusService.ApplyTopicRegeneration(ctx, job.TargetID, job.Result); err != nil {
			log.Warn("topic completion handler failed", "job_id", job.ID, "error", err)
		}
	})
	opsManager.RegisterCompletion(domain.JobTypeChallengeRegeneration, func(ctx context.Context, job *domain.Job) {
		if err := focusService.ApplyChallengeRegeneration(ctx, job.TargetID, job.Result); err != nil {
			log.Warn("challenge completion handler failed", "job_id", job.ID, "error", err)
		}
	})
	opsManager.RegisterCompletion(domain.JobTypeGoalRegeneration, func(ctx context.Context, job *domain.Job) {
		if err := focusService.ApplyGoalRegeneration(ctx, job.TargetID, job.Result); err != nil {
			log.Warn("goal completion handler failed", "job_id", job.ID, "error", err)
		}
	})
	tracker := ops.NewTracker(opsManager,
		domain.JobTypeTopicRegeneration,
		domain.JobTypeChallengeRegeneration,
		domain.JobTypeGoalRegeneration,
	)

	if err := bus.StartForwarder(ctx, func(m sse.Message) {
		hub.Broadcast(m)
		tracker.OnEvent(ctx, m)
	}); err != nil {
		log.Error("Could not start bus forwarder", "error", err)
		os.Exit(1)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	jobsHandler := handlers.NewJobsHandler(jobLedger, cancelRegistry, handlerRegistry, dispatcher, jobNotifier)
	threadsHandler := handlers.NewThreadsHandler(threadStore, streamStore, jobLedger, dispatcher, jobNotifier)
	streamHandler := handlers.NewStreamHandler(hub, jobLedger)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		JobsHandler:    jobsHandler,
		ThreadsHandler: threadsHandler,
		StreamHandler:  streamHandler,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func mustRegister(log *logger.Logger, r *runtime.HandlerRegistry, h runtime.Handler) {
	if err := r.Register(h); err != nil {
		log.Error("Could not register executor", "job_type", h.Type(), "error", err)
		os.Exit(1)
	}
}
