package scanner

import "context"

// Job adapts the scanner to the scheduler
type Job struct {
	scanner  *Scanner
	schedule string
}

// NewJob creates the periodic scan job
func NewJob(scanner *Scanner) *Job {
	return &Job{
		scanner:  scanner,
		schedule: "0 0 */4 * * *",
	}
}

// Name returns the job name
func (j *Job) Name() string {
	return "signal-scanner"
}

// Schedule returns the cron expression (with seconds)
func (j *Job) Schedule() string {
	return j.schedule
}

// Run executes one scan cycle
func (j *Job) Run(ctx context.Context) error {
	return j.scanner.Scan(ctx)
}
