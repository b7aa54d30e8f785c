package pipeline

import (
	"context"
	"time"

	"github.com/aimpatfx/backend/pkg/logger"
)

// StaleStore is the subset of the store the sweeper needs
type StaleStore interface {
	FailStale(ctx context.Context, maxAge time.Duration) ([]string, error)
}

// SweeperJob periodically fails requests stuck in a non-terminal
// status, typically because a stage invocation died between its claim
// and its commit. Clients watching those records get a terminal state
// instead of a spinner that never resolves.
type SweeperJob struct {
	store    StaleStore
	logger   *logger.Logger
	maxAge   time.Duration
	schedule string
}

// NewSweeperJob creates the stale-request sweeper
func NewSweeperJob(store StaleStore, maxAge time.Duration, log *logger.Logger) *SweeperJob {
	return &SweeperJob{
		store:    store,
		logger:   log,
		maxAge:   maxAge,
		schedule: "0 */10 * * * *",
	}
}

// Name returns the job name
func (j *SweeperJob) Name() string {
	return "stale-request-sweeper"
}

// Schedule returns the cron expression (with seconds)
func (j *SweeperJob) Schedule() string {
	return j.schedule
}

// Run sweeps stale requests
func (j *SweeperJob) Run(ctx context.Context) error {
	ids, err := j.store.FailStale(ctx, j.maxAge)
	if err != nil {
		return err
	}

	if len(ids) > 0 {
		j.logger.WithFields(map[string]interface{}{
			"count":   len(ids),
			"max_age": j.maxAge.String(),
		}).Warn("Swept stale analysis requests")
	}
	return nil
}
