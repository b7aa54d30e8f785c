package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/internal/scanner"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/database"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one signal scan cycle",
	Long: `Screens every watched asset once and exits.

Candidates that pass the technical screen are validated by the model;
confirmed signals are persisted.

Example:
  go run ./cmd/aimpatfx scan`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Println("=== AIMPATFX Signal Scan ===")

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

	// 5. Create clients and the scanner
	geminiClient := gemini.NewClient(cfg.Gemini,
		httputil.NewWithTimeout(log, 2*time.Minute).WithRateLimiter(limiter, redis.GeminiRateLimit), log)
	fmpClient := fmp.NewClient(cfg.FMP,
		httputil.New(log).WithRateLimiter(limiter, redis.FMPRateLimit), log)
	signalRepo := scanner.NewRepository(db.Pool)

	scan := scanner.New(cfg.Scanner, fmpClient, geminiClient, signalRepo, nil, log)

	// 6. Run one cycle
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := scan.Scan(ctx); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Println("Scan complete")
	return nil
}
