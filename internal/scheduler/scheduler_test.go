package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	calls atomic.Int32
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run(ctx context.Context) error {
	j.calls.Add(1)
	return nil
}

func TestRunNow_InvokesJobImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test"}

	require.NoError(t, s.RunNow(context.Background(), job))
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestRegisterPeriodic_ReplacesExistingEntry(t *testing.T) {
	s := New(zerolog.Nop())
	first := &countingJob{name: "first"}
	second := &countingJob{name: "second"}

	require.NoError(t, s.RegisterPeriodic("job-id", time.Hour, first))
	require.Len(t, s.entries, 1)

	require.NoError(t, s.RegisterPeriodic("job-id", 2*time.Hour, second))
	require.Len(t, s.entries, 1)
}

func TestStartStop_DoesNotPanic(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "noop"}
	require.NoError(t, s.RegisterPeriodic("job-id", time.Hour, job))

	s.Start()
	s.Stop()
}
