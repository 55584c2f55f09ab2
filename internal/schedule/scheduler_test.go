package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func TestCronSchedulerTrigger(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "count"}
	require.NoError(t, s.AddJob(job, ""))
	require.Error(t, s.AddJob(job, ""))

	require.NoError(t, s.Trigger("count"))
	require.NoError(t, s.Trigger("count"))
	require.Equal(t, int32(2), job.runs.Load())

	require.Error(t, s.Trigger("missing"))
}

func TestCronSchedulerBadSpec(t *testing.T) {
	s := NewCronScheduler()
	require.Error(t, s.AddJob(&countingJob{name: "bad"}, "not a spec"))
	require.Error(t, s.Trigger("bad"))
}

func TestCronSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.AddJob(job, ""))

	done := make(chan struct{})
	go func() {
		_ = s.Trigger("slow")
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Trigger("slow"))
	require.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	<-done
}

func TestCronSchedulerRunsOnSchedule(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "tick", err: errors.New("ignored")}
	require.NoError(t, s.AddJob(job, "@every 1s"))
	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
