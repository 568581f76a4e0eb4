// Command orchestrator runs the batched image-generation orchestrator: the
// HTTP API, the admission-gated dispatch pipeline, and the subtask worker
// pools, all wired against one Postgres database and one Redis instance.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/talesofai/nietest-orchestrator/pkg/admission"
	"github.com/talesofai/nietest-orchestrator/pkg/api"
	"github.com/talesofai/nietest-orchestrator/pkg/auth"
	"github.com/talesofai/nietest-orchestrator/pkg/config"
	"github.com/talesofai/nietest-orchestrator/pkg/database"
	"github.com/talesofai/nietest-orchestrator/pkg/dispatch"
	"github.com/talesofai/nietest-orchestrator/pkg/imageapi"
	"github.com/talesofai/nietest-orchestrator/pkg/matrix"
	"github.com/talesofai/nietest-orchestrator/pkg/metrics"
	"github.com/talesofai/nietest-orchestrator/pkg/monitor"
	"github.com/talesofai/nietest-orchestrator/pkg/queue"
	"github.com/talesofai/nietest-orchestrator/pkg/services"
	"github.com/talesofai/nietest-orchestrator/pkg/store"
	"github.com/talesofai/nietest-orchestrator/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// queueCleanAdapter discards queue.Client.RemoveBySubtaskIDs's ScrubResult so
// *queue.Client satisfies monitor.QueueCleaner's narrower error-only signature.
type queueCleanAdapter struct{ client *queue.Client }

func (a queueCleanAdapter) RemoveBySubtaskIDs(ctx context.Context, queueName string, subtaskIDs []string) error {
	_, err := a.client.RemoveBySubtaskIDs(ctx, queueName, subtaskIDs)
	return err
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./deploy/config.yaml"), "path to YAML config file")
	flag.Parse()

	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Database.
	dbClient, err := database.NewClient(ctx, database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port,
		User: cfg.Database.User, Password: cfg.Database.Password,
		Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("connected to postgres")

	// 2. Redis broker (single node; cluster mode only logs a warning).
	rdb := newRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to redis")

	// 3. Persistence layer.
	taskStore := store.NewTaskStore(dbClient.Pool)
	subtaskStore := store.NewSubtaskStore(dbClient.Pool)

	// 4. Queue client, best-effort event notifier, upstream image API client.
	queueClient := queue.NewClient(rdb)
	notifier := webhook.New(webhookURL(cfg.Webhook))
	generator := imageapi.NewClient(imageapi.Config{
		StandardBaseURL:      imageapi.DefaultConfig().StandardBaseURL,
		OpsBaseURL:           imageapi.DefaultConfig().OpsBaseURL,
		XToken:               cfg.ImageAPI.APIKey,
		StandardMaxAttempts:  cfg.ImageAPI.MaxAttempts,
		StandardPollInterval: cfg.ImageAPI.PollInterval,
		LuminaMaxAttempts:    cfg.ImageAPI.MaxAttempts,
		LuminaPollInterval:   cfg.ImageAPI.PollInterval,
		SubmitTimeout:        cfg.ImageAPI.SubmitTimeout,
		PollTimeout:          cfg.HTTP.PollTimeout,
	})

	// 5. Admission, dispatch, and matrix materialization.
	admissionController := admission.NewController(taskStore)
	scheduler := dispatch.NewScheduler(queueClient)
	materializer := matrix.NewMaterializer(taskStore)

	// 6. Progress/completion monitor.
	taskMonitor := monitor.NewMonitor(taskStore, queueCleanAdapter{queueClient}, notifier, []string{dispatch.NormalQueue, dispatch.OpsQueue})
	monitorManager := monitor.NewManager(taskMonitor)

	// 7. Auth issuer and domain services.
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.OperatorUser, cfg.Auth.OperatorPass)
	taskService := services.NewTaskService(taskStore, admissionController, scheduler, monitorManager, materializer)
	subtaskService := services.NewSubtaskService(subtaskStore)

	// 8. Subtask worker pools, one per logical queue partition.
	normalPool := newWorkerPool(dispatch.NormalQueue, cfg.Queue.NormalWorkerCount, cfg.Queue, queueClient, subtaskStore, generator, notifier)
	opsPool := newWorkerPool(dispatch.OpsQueue, cfg.Queue.OpsWorkerCount, cfg.Queue, queueClient, subtaskStore, generator, notifier)
	normalPool.Start(ctx)
	opsPool.Start(ctx)
	defer normalPool.Stop()
	defer opsPool.Stop()

	// 9. Background promoter (delayed -> ready) and queue-depth gauge poller.
	go queueClient.RunPromoter(ctx, []string{dispatch.NormalQueue, dispatch.OpsQueue}, time.Second)
	go pollQueueDepths(ctx, queueClient)

	// 10. Respawn monitors for any task left processing by a prior instance.
	if err := monitorManager.RespawnProcessing(ctx, taskStore); err != nil {
		slog.Error("failed to respawn monitors for in-flight tasks", "error", err)
	}

	// 11. HTTP server.
	server := api.NewServer(dbClient, issuer, taskService, subtaskService)

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.Start(cfg.HTTP.Addr); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during http server shutdown", "error", err)
	}
	monitorManager.Stop()
	slog.Info("shutdown complete")
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	// A ClusterClient cannot be substituted transparently for *redis.Client
	// across this codebase's Redis call sites, so cluster mode is recorded
	// for operational awareness; single-node *redis.Client is what every
	// pkg/queue call site is built against (see DESIGN.md).
	if cfg.Cluster {
		slog.Warn("redis cluster mode requested but unsupported by this build; connecting as a single node", "addr", cfg.Addr)
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func webhookURL(cfg config.WebhookConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.URL
}

func newWorkerPool(queueName string, count int, qcfg config.QueueConfig, queueClient *queue.Client, subtaskStore *store.SubtaskStore, generator *imageapi.Client, notifier *webhook.Notifier) *queue.WorkerPool {
	return queue.NewWorkerPool(queueName, count, func(id string) *queue.Worker {
		return queue.NewWorker(id, queue.WorkerConfig{
			QueueClient:    queueClient,
			QueueName:      queueName,
			ProcessingList: queueName + ".processing." + id,
			MaxRetries:     qcfg.MaxRetries,
			PollTimeout:    qcfg.PollTimeout,
			Store:          subtaskStore,
			Generator:      generator,
			Notifier:       notifier,
		})
	})
}

func pollQueueDepths(ctx context.Context, queueClient *queue.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	queues := []string{dispatch.NormalQueue, dispatch.OpsQueue}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depths, err := queueClient.QueueDepths(ctx, queues)
			if err != nil {
				slog.Warn("failed to poll queue depths", "error", err)
				continue
			}
			for _, q := range queues {
				metrics.SetQueueDepth(q, depths[q], depths[q+".DQ"])
			}
		}
	}
}
