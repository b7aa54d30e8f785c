package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimpatfx/backend/internal/calendar"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/internal/external/translate"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/database"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

// calendarCmd represents the calendar command
var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Manage the economic calendar",
	Long: `Economic calendar maintenance.

Subcommands:
  refresh - Pull the provider calendar into the local store once

Example:
  go run ./cmd/aimpatfx calendar refresh`,
}

var calendarRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the stored calendar once",
	RunE:  runCalendarRefresh,
}

func init() {
	rootCmd.AddCommand(calendarCmd)
	calendarCmd.AddCommand(calendarRefreshCmd)
}

func runCalendarRefresh(cmd *cobra.Command, args []string) error {
	fmt.Println("=== AIMPATFX Calendar Refresh ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	// 4. Connect to Redis for shared rate limiting
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	limiter := redis.NewRateLimiter(redisClient, "aimpatfx")

	// 5. Create clients and the refresher
	geminiClient := gemini.NewClient(cfg.Gemini,
		httputil.NewWithTimeout(log, 2*time.Minute).WithRateLimiter(limiter, redis.GeminiRateLimit), log)
	fmpClient := fmp.NewClient(cfg.FMP,
		httputil.New(log).WithRateLimiter(limiter, redis.FMPRateLimit), log)
	translateClient := translate.NewClient(cfg.Translate,
		httputil.New(log).WithRateLimiter(limiter, redis.TranslateRateLimit), log)
	eventRepo := calendar.NewRepository(db.Pool)

	refresher := calendar.NewRefresher(fmpClient, translateClient, geminiClient, eventRepo, log)

	// 6. Run one refresh
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := refresher.Run(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Println("Calendar refreshed")
	return nil
}
