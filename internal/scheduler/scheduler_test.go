package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/hedger/internal/recommendation"
)

type fakeRegenerator struct {
	mu    sync.Mutex
	calls []recommendation.RegenerateOptions
}

func (f *fakeRegenerator) Regenerate(_ context.Context, opts recommendation.RegenerateOptions) (*recommendation.RegenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return &recommendation.RegenerateResult{}, nil
}

func (f *fakeRegenerator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeExpirer struct{ n atomic.Int32 }

func (f *fakeExpirer) ExpireStale(context.Context) (int, error) {
	f.n.Add(1)
	return 0, errors.New("database is locked")
}

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	regen := &fakeRegenerator{}
	expirer := &fakeExpirer{}
	s := New(nil,
		RegenerateJob(regen, 10*time.Millisecond),
		ExpireJob(expirer, time.Hour),
	)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")

	assert.Eventually(t, func() bool { return regen.count() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return expirer.n.Load() == 1 }, time.Second, 5*time.Millisecond,
		"expiry runs at start and keeps going after a failure")
	s.Stop()

	stopped := regen.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, regen.count())

	regen.mu.Lock()
	defer regen.mu.Unlock()
	for _, c := range regen.calls {
		assert.True(t, c.Scheduled)
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	var runs atomic.Int32
	s := New(nil,
		Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}},
		Job{Name: "disabled", Interval: 0, Run: func(context.Context) error {
			t.Error("disabled job ran")
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
