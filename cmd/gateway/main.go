package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aixgo-dev/gateway/internal/gateway/api"
	"github.com/aixgo-dev/gateway/internal/gateway/artifact"
	"github.com/aixgo-dev/gateway/internal/gateway/budget"
	"github.com/aixgo-dev/gateway/internal/gateway/cache"
	"github.com/aixgo-dev/gateway/internal/gateway/costbook"
	"github.com/aixgo-dev/gateway/internal/gateway/eventhub"
	"github.com/aixgo-dev/gateway/internal/gateway/maintenance"
	"github.com/aixgo-dev/gateway/internal/gateway/orchestrator"
	"github.com/aixgo-dev/gateway/internal/gateway/providers"
	"github.com/aixgo-dev/gateway/pkg/config"
	"github.com/aixgo-dev/gateway/pkg/observability"
)

var (
	Version = "dev"

	configFile = flag.String("config", getEnv("CONFIG_FILE", "config/gateway.yaml"), "Gateway configuration file")
	httpPort   = flag.Int("http-port", getEnvInt("PORT", 9090), "Health/metrics server port (separate from the API's own config.server.addr)")
	_          = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level")
)

func main() {
	flag.Parse()

	log.Printf("Starting LLM gateway v%s", Version)
	log.Printf("Config: %s, HTTP Port: %d", *configFile, *httpPort)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: invalid: %v", err)
	}

	observability.InitMetrics()
	healthChecker := observability.InitHealthChecker()
	healthChecker.RegisterCheck(observability.PingCheck())
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Fatalf("tracing: %v", err)
	}

	book := costbook.New()
	budgetTracker := budget.New(budget.Config{
		DailyLimit:        cfg.Budget.DailyLimit,
		WeeklyLimit:       cfg.Budget.WeeklyLimit,
		MonthlyLimit:      cfg.Budget.MonthlyLimit,
		EmergencyEnabled:  cfg.Budget.EmergencyEnabled,
		DisabledProviders: toDisabledSet(cfg.Budget.DisabledProviders),
		Alerts:            toAlertThresholds(cfg.Budget.Alerts),
		RetentionDays:     cfg.Budget.RetentionDays,
	})

	cacheStore, err := buildCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	events := eventhub.New(256)
	artifactStore := artifact.New(10000, events)

	caller, err := providers.New(cfg.Providers)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}

	orc := orchestrator.New(book, budgetTracker, cacheStore, artifactStore, events, caller)
	server := api.NewServer(orc, budgetTracker, cacheStore, artifactStore, events, cfg.Server.CORS.Origins, cfg.Server.AuthTokens)

	scheduler := maintenance.NewScheduler(cfg.Maintenance.Schedule, log.New(os.Stdout, "", log.LstdFlags))
	scheduler.RegisterTask(maintenance.BudgetPruneTask{Tracker: budgetTracker})
	scheduler.RegisterTask(maintenance.CachePruneTask{Cache: cacheStore})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("maintenance: %v", err)
	}

	obsServer := observability.NewServer(*httpPort)
	errChan := make(chan error, 2)

	go func() {
		log.Printf("Starting health/metrics server on :%d", *httpPort)
		if err := obsServer.Start(); err != nil {
			errChan <- fmt.Errorf("observability server error: %w", err)
		}
	}()

	apiAddr := cfg.Server.Addr
	apiSrv := &httpServer{addr: apiAddr, handler: server.Router()}
	go func() {
		log.Printf("Starting gateway API server on %s", apiAddr)
		if err := apiSrv.start(); err != nil {
			errChan <- fmt.Errorf("gateway API server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Printf("Error: %v", err)
	case <-quit:
		log.Println("Shutting down gateway...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop()
	if err := observability.ShutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Printf("observability server shutdown error: %v", err)
	}
	if err := apiSrv.shutdown(ctx); err != nil {
		log.Printf("gateway API server shutdown error: %v", err)
	}

	log.Println("Gateway stopped")
}

func buildCache(cfg config.CacheConfig) (*cache.Cache, error) {
	cacheCfg := cache.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxEntries:          cfg.MaxEntries,
		DefaultTTL:          cfg.DefaultTTL,
	}

	if cfg.Backend == "redis" {
		adapter, err := cache.NewRedisAdapter(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return cache.New(adapter, cacheCfg), nil
	}

	return cache.New(cache.NewMemoryAdapter(), cacheCfg), nil
}

func toDisabledSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func toAlertThresholds(alerts []config.AlertThreshold) []budget.AlertThreshold {
	out := make([]budget.AlertThreshold, len(alerts))
	for i, a := range alerts {
		out[i] = budget.AlertThreshold{Percentage: a.Percentage, Action: budget.AlertAction(a.Action)}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

// httpServer wraps the gateway's domain API mux the same way
// observability.Server wraps its own, on a separate addr/port.
type httpServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

func (s *httpServer) start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.srv.ListenAndServe()
}

func (s *httpServer) shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
