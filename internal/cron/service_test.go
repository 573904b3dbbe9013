package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("nil offer")
	}
	return t.err
}

func newTestService(t *testing.T, params ServiceParams) *Service {
	t.Helper()
	params.Logger = logger.Nop()
	service, err := NewService(params)
	require.NoError(t, err)
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "reservation-expiry"}
	boom := errors.New("boom")
	broken := &testJob{name: "payout-retry", err: boom}
	after := &testJob{name: "outbox-retention"}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	service := newTestService(t, ServiceParams{
		Registry: NewRegistry(ok, broken, after),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})

	err := service.runCycle(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "payout-retry")

	for _, job := range []*testJob{ok, broken, after} {
		assert.Equal(t, 1, job.runs, job.name)
	}
	assert.False(t, lock.held)
	assert.Equal(t, 1, lock.releases)

	got, err := testutil.GatherAndCount(reg, "lastbite_cron_job_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	got, err = testutil.GatherAndCount(reg, "lastbite_cron_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestServiceRecoversPanickingJob(t *testing.T) {
	bad := &testJob{name: "payout-retry", panic: true}
	next := &testJob{name: "outbox-retention"}
	lock := &fakeLock{}
	service := newTestService(t, ServiceParams{Registry: NewRegistry(bad, next), Lock: lock})

	err := service.runCycle(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 1, next.runs)
	assert.Equal(t, 1, lock.releases)
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "reservation-expiry"}
	reg := prometheus.NewRegistry()
	service := newTestService(t, ServiceParams{
		Registry: NewRegistry(job),
		Lock:     &fakeLock{held: true},
		Metrics:  metrics.NewCronJobMetrics(reg),
	})

	require.NoError(t, service.runCycle(context.Background()))
	assert.Zero(t, job.runs)
	got, err := testutil.GatherAndCount(reg, "lastbite_cron_cycles_skipped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestServiceStopsBetweenJobsWhenCancelled(t *testing.T) {
	job := &testJob{name: "reservation-expiry"}
	service := newTestService(t, ServiceParams{Registry: NewRegistry(job), Lock: &fakeLock{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := service.runCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, job.runs)
}

func TestNewServiceDefaults(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	require.Error(t, err)

	service := newTestService(t, ServiceParams{Lock: &fakeLock{}, Interval: time.Minute, JobTimeout: time.Hour})
	assert.Equal(t, time.Minute, service.jobTimeout)
	service = newTestService(t, ServiceParams{Lock: &fakeLock{}})
	assert.Equal(t, defaultInterval, service.interval)
}
