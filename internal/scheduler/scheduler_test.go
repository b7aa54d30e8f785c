package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/logger"
)

type stubJob struct {
	name     string
	schedule string
	err      error
	runs     int
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return j.schedule }
func (j *stubJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func newScheduler() *Scheduler {
	s := New(logger.New(&config.Config{LogLevel: "error", LogFormat: "console"}))
	s.maxRetries = 0
	s.retryDelay = 0
	return s
}

func TestAddJob_RejectsDuplicates(t *testing.T) {
	s := newScheduler()

	require.NoError(t, s.AddJob(&stubJob{name: "a", schedule: "0 * * * * *"}))
	err := s.AddJob(&stubJob{name: "a", schedule: "0 * * * * *"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestAddJob_RejectsBadSchedule(t *testing.T) {
	s := newScheduler()

	err := s.AddJob(&stubJob{name: "bad", schedule: "not a schedule"})
	require.Error(t, err)
}

func TestRunJob_RecordsHistory(t *testing.T) {
	s := newScheduler()
	job := &stubJob{name: "ok", schedule: "0 * * * * *"}
	require.NoError(t, s.AddJob(job))

	s.runJob(job)

	history, err := s.JobHistory("ok")
	require.NoError(t, err)
	require.NotNil(t, history.Latest())
	assert.True(t, history.Latest().Success)
	assert.Equal(t, 1, job.runs)
	assert.Equal(t, 1.0, history.SuccessRate())
}

func TestRunJob_RecordsFailure(t *testing.T) {
	s := newScheduler()
	job := &stubJob{name: "broken", schedule: "0 * * * * *", err: errors.New("boom")}
	require.NoError(t, s.AddJob(job))

	s.runJob(job)

	history, err := s.JobHistory("broken")
	require.NoError(t, err)
	require.NotNil(t, history.Latest())
	assert.False(t, history.Latest().Success)
	assert.Equal(t, "boom", history.Latest().Error)
}

func TestRunJob_Retries(t *testing.T) {
	s := newScheduler()
	s.maxRetries = 2
	job := &stubJob{name: "flaky", schedule: "0 * * * * *", err: errors.New("boom")}
	require.NoError(t, s.AddJob(job))

	s.runJob(job)

	assert.Equal(t, 3, job.runs)
}

func TestHistory_Bounded(t *testing.T) {
	h := &History{}
	for i := 0; i < historyLimit+10; i++ {
		h.Add(Result{JobName: "x", Success: true})
	}
	assert.Len(t, h.Results, historyLimit)
}

func TestJobHistory_UnknownJob(t *testing.T) {
	s := newScheduler()
	_, err := s.JobHistory("missing")
	require.Error(t, err)
}
