package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimpatfx/backend/internal/api"
	"github.com/aimpatfx/backend/internal/api/handlers"
	"github.com/aimpatfx/backend/internal/calendar"
	"github.com/aimpatfx/backend/internal/credits"
	"github.com/aimpatfx/backend/internal/external/alphavantage"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/internal/external/paypal"
	"github.com/aimpatfx/backend/internal/external/translate"
	"github.com/aimpatfx/backend/internal/news"
	"github.com/aimpatfx/backend/internal/pipeline"
	"github.com/aimpatfx/backend/internal/realtime"
	"github.com/aimpatfx/backend/internal/scanner"
	"github.com/aimpatfx/backend/internal/scheduler"
	"github.com/aimpatfx/backend/internal/storage"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/database"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the HTTP API server together with the background jobs.

This command:
- Serves the analysis, signal, calendar and news endpoints
- Receives the storage and billing webhooks that drive the pipeline
- Runs the scheduler so confirmed signals fan out to live subscribers

Endpoints:
  GET  /health                  - Health check
  POST /api/requests            - Create an analysis request
  GET  /api/requests/{id}       - Fetch one request
  GET  /api/signals             - Recent trading signals
  GET  /api/events              - Economic calendar events
  POST /webhooks/storage        - Chart upload trigger
  POST /webhooks/paypal         - Billing callback
  GET  /ws                      - Live subscriptions

Example:
  go run ./cmd/aimpatfx api
  go run ./cmd/aimpatfx api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (overrides PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== AIMPATFX API Server ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override port if flag is set
	if apiPort != "" {
		cfg.Port = apiPort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	log.Info("Connected to database")

	// 4. Connect to Redis (optional, degrades to no-op caching)
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	cache := redis.NewCache(redisClient, "aimpatfx")
	limiter := redis.NewRateLimiter(redisClient, "aimpatfx")

	// 5. Create external API clients, each behind its own rate limit
	geminiClient := gemini.NewClient(cfg.Gemini,
		httputil.NewWithTimeout(log, 2*time.Minute).WithRateLimiter(limiter, redis.GeminiRateLimit), log)
	avClient := alphavantage.NewClient(cfg.AlphaVantage,
		httputil.New(log).WithRateLimiter(limiter, redis.AlphaVantageRateLimit), log)
	fmpClient := fmp.NewClient(cfg.FMP,
		httputil.New(log).WithRateLimiter(limiter, redis.FMPRateLimit), log)
	translateClient := translate.NewClient(cfg.Translate,
		httputil.New(log).WithRateLimiter(limiter, redis.TranslateRateLimit), log)
	paypalClient := paypal.NewClient(cfg.PayPal, httputil.New(log), log)
	storageClient := storage.NewClient(cfg.Storage, httputil.New(log), log)

	// 6. Create repositories
	requestStore := pipeline.NewRequestStore(db.Pool, log)
	ledger := credits.NewLedger(db.Pool, log)
	signalRepo := scanner.NewRepository(db.Pool)
	eventRepo := calendar.NewRepository(db.Pool)

	// 7. Create the live subscription hub
	hub := realtime.NewHub(log)

	// 8. Create the analysis pipeline
	pipe := pipeline.New(requestStore, geminiClient, storageClient, avClient, fmpClient, eventRepo, ledger, hub, log)

	// 9. Create the scanner, calendar and news services
	scan := scanner.New(cfg.Scanner, fmpClient, geminiClient, signalRepo, hub, log)
	refresher := calendar.NewRefresher(fmpClient, translateClient, geminiClient, eventRepo, log)
	eventAnalyzer := calendar.NewAnalyzer(fmpClient, geminiClient, eventRepo, cache, log)
	newsAnalyzer := news.NewAnalyzer(fmpClient, geminiClient, cache, log)

	// 10. Create handlers
	requestsHandler := handlers.NewRequestsHandler(requestStore, ledger, log)
	webhooksHandler := handlers.NewWebhooksHandler(pipe, log)
	billingHandler := handlers.NewBillingHandler(paypalClient, ledger, log)
	signalsHandler := handlers.NewSignalsHandler(signalRepo, log)
	eventsHandler := handlers.NewEventsHandler(eventRepo, eventAnalyzer, newsAnalyzer, log)

	// 11. Create router and server
	router := api.NewRouter(requestsHandler, webhooksHandler, billingHandler, signalsHandler, eventsHandler, hub, log)
	server := api.New(cfg, log, router)

	// 12. Register background jobs. They run in-process so the scanner
	// can fan confirmed signals out through the hub.
	sched := scheduler.New(log)
	jobs := []scheduler.Job{
		scanner.NewJob(scan),
		refresher,
		pipeline.NewSweeperJob(requestStore, cfg.Pipeline.StaleAfter, log),
	}
	for _, job := range jobs {
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// 13. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\nServer running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
