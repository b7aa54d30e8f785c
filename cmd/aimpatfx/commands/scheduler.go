package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimpatfx/backend/internal/calendar"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/internal/external/translate"
	"github.com/aimpatfx/backend/internal/pipeline"
	"github.com/aimpatfx/backend/internal/scanner"
	"github.com/aimpatfx/backend/internal/scheduler"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/database"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Manage background jobs",
	Long: `Runs the background jobs without the API server.

Registered jobs:
- signal-scanner: every 4 hours (scan watched assets for setups)
- calendar-refresh: every 6 hours (pull the economic calendar)
- stale-request-sweeper: every 10 minutes (fail abandoned requests)

Signals confirmed in this process are persisted but not fanned out to
live subscribers; run the api command for that.

Subcommands:
  start   - Start the scheduler daemon
  list    - List registered jobs
  run     - Run one job immediately
  status  - Show job execution history

Example:
  go run ./cmd/aimpatfx scheduler start
  go run ./cmd/aimpatfx scheduler run signal-scanner`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show job execution history",
		RunE:  showStatus,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== AIMPATFX Scheduler ===")

	// Initialize dependencies
	sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	// Start scheduler
	sched.Start()

	fmt.Println("\nScheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.Jobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Println("Registered jobs:")
	for _, jobName := range sched.Jobs() {
		fmt.Printf("  - %s\n", jobName)
	}

	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	fmt.Printf("Running job: %s\n", jobName)

	sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	if err := sched.RunJob(jobName); err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	fmt.Println("Job started (running in background)")
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Println("Job history:")
	fmt.Println()

	for _, jobName := range sched.Jobs() {
		history, err := sched.JobHistory(jobName)
		if err != nil {
			continue
		}

		fmt.Printf("%s\n", jobName)
		fmt.Printf("   Total Runs: %d\n", len(history.Results))
		fmt.Printf("   Success Rate: %.1f%%\n", history.SuccessRate()*100)

		if last := history.Latest(); last != nil {
			fmt.Printf("   Last Run: %s (%s)\n",
				last.StartTime.Format("2006-01-02 15:04:05"), last.Duration)
			if last.Error != "" {
				fmt.Printf("   Last Error: %s\n", last.Error)
			}
		}

		fmt.Println()
	}

	return nil
}

func initScheduler() (*scheduler.Scheduler, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 4. Connect to Redis for shared rate limiting
	redisClient, err := redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	limiter := redis.NewRateLimiter(redisClient, "aimpatfx")

	// 5. Create external API clients
	geminiClient := gemini.NewClient(cfg.Gemini,
		httputil.NewWithTimeout(log, 2*time.Minute).WithRateLimiter(limiter, redis.GeminiRateLimit), log)
	fmpClient := fmp.NewClient(cfg.FMP,
		httputil.New(log).WithRateLimiter(limiter, redis.FMPRateLimit), log)
	translateClient := translate.NewClient(cfg.Translate,
		httputil.New(log).WithRateLimiter(limiter, redis.TranslateRateLimit), log)

	// 6. Create repositories
	requestStore := pipeline.NewRequestStore(db.Pool, log)
	signalRepo := scanner.NewRepository(db.Pool)
	eventRepo := calendar.NewRepository(db.Pool)

	// 7. Create services and register jobs
	scan := scanner.New(cfg.Scanner, fmpClient, geminiClient, signalRepo, nil, log)
	refresher := calendar.NewRefresher(fmpClient, translateClient, geminiClient, eventRepo, log)

	sched := scheduler.New(log)
	jobs := []scheduler.Job{
		scanner.NewJob(scan),
		refresher,
		pipeline.NewSweeperJob(requestStore, cfg.Pipeline.StaleAfter, log),
	}
	for _, job := range jobs {
		if err := sched.AddJob(job); err != nil {
			return nil, fmt.Errorf("add job: %w", err)
		}
	}

	return sched, nil
}
