// jobcore is the process wrapper around the library described by this
// module's packages: it loads configuration, opens the Store, starts one
// WorkerPool per mode plus the Reaper, and exposes only operational health
// endpoints. The dashboard/chat HTTP surface and the real Planner/ToolRegistry
// wiring (both external collaborators by design) are left to the
// deployment embedding this binary: flags, godotenv, and a gin health
// endpoint wrap jobcore's own domain wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/forgebound/jobcore/pkg/agentloop"
	"github.com/forgebound/jobcore/pkg/config"
	"github.com/forgebound/jobcore/pkg/database"
	"github.com/forgebound/jobcore/pkg/jobservice"
	"github.com/forgebound/jobcore/pkg/ledger"
	"github.com/forgebound/jobcore/pkg/models"
	"github.com/forgebound/jobcore/pkg/planner"
	"github.com/forgebound/jobcore/pkg/queue"
	"github.com/forgebound/jobcore/pkg/store"
	"github.com/forgebound/jobcore/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("JOBCORE_CONFIG", "./deploy/config/jobcore.yaml"), "Path to jobcore YAML configuration")
	httpPort := flag.String("http-port", getEnv("HTTP_PORT", "8080"), "Port for the operational health endpoint")
	grpcPort := flag.String("grpc-port", getEnv("GRPC_HEALTH_PORT", "9090"), "Port for the gRPC health service")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded, continuing with process environment", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, toDBConfig(cfg.Database))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("connected to database and applied migrations")

	st := store.NewPostgresStore(dbClient.Pool)
	hub := ledger.NewSubscriberHub()
	notify := ledger.NewNotifyListener(toDBConfig(cfg.Database).DSN(), st, hub)
	if err := notify.Start(ctx); err != nil {
		slog.Error("failed to start ledger NOTIFY listener", "error", err)
		os.Exit(1)
	}
	defer notify.Stop(context.Background())
	led := ledger.NewLedger(st, dbClient.Pool, hub)

	modeConfig := func(m models.Mode) *config.ModeConfig { return cfg.ForMode(config.Mode(m)) }
	registry := tools.NewMapRegistry() // real tool implementations are wired in by the deployment
	loop := agentloop.New(st, registry, defaultPlanner{}, led, modeConfig, cfg.Tools)

	claimant := fmt.Sprintf("%s-%d", hostname(), os.Getpid())

	mechanicReaper := queue.NewReaper(st, cfg.Queue.ReaperInterval, cfg.Queue.StaleAfter)
	mechanicPool := queue.NewWorkerPool(models.ModeMechanic, claimant, st, &cfg.Queue, loop, mechanicReaper)
	geniusReaper := queue.NewReaper(st, cfg.Queue.ReaperInterval, cfg.Queue.StaleAfter)
	geniusPool := queue.NewWorkerPool(models.ModeGenius, claimant, st, &cfg.Queue, loop, geniusReaper)

	mechanicReaper.Start(ctx)
	geniusReaper.Start(ctx)
	if err := mechanicPool.Start(ctx); err != nil {
		slog.Error("failed to start mechanic worker pool", "error", err)
		os.Exit(1)
	}
	if err := geniusPool.Start(ctx); err != nil {
		slog.Error("failed to start genius worker pool", "error", err)
		os.Exit(1)
	}

	svc := jobservice.New(st, led, map[models.Mode]*config.ModeConfig{
		models.ModeMechanic: cfg.ForMode(config.ModeMechanic),
		models.ModeGenius:   cfg.ForMode(config.ModeGenius),
	})
	_ = svc // exposed to embedding processes/transports, not used by this ops-only binary

	grpcHealth := health.NewServer()
	grpcHealth.SetServingStatus("jobcore", healthpb.HealthCheckResponse_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	lis, err := net.Listen("tcp", ":"+*grpcPort)
	if err != nil {
		slog.Error("failed to bind gRPC health listener", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC health server stopped", "error", err)
		}
	}()

	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()
	router.GET("/healthz", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, dbClient.Pool)
		status := http.StatusOK
		if err != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"database": dbHealth,
			"pools": gin.H{
				"mechanic": mechanicPool.Health(reqCtx),
				"genius":   geniusPool.Health(reqCtx),
			},
		})
	})

	httpServer := &http.Server{Addr: ":" + *httpPort, Handler: router}
	go func() {
		slog.Info("HTTP health endpoint listening", "port", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining worker pools")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()

	mechanicPool.Stop()
	geniusPool.Stop()
	mechanicReaper.Stop()
	geniusReaper.Stop()

	slog.Info("jobcore stopped")
}

func toDBConfig(c config.DatabaseConfig) database.Config {
	return database.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "jobcore"
	}
	return h
}

// defaultPlanner escalates every job immediately. It exists so this binary
// links and runs standalone; any real deployment injects its own Planner
// (the LLM adapter is out of scope for this module).
type defaultPlanner struct{}

func (defaultPlanner) Propose(_ context.Context, req planner.Request) (planner.Decision, error) {
	return planner.Decision{
		Kind:             planner.KindEscalate,
		EscalationReason: "no planner configured for this deployment",
	}, nil
}
