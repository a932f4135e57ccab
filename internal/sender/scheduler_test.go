package sender

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_TriggerRuns(t *testing.T) {
	var runs int32
	s := NewScheduler(0, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	s.Start()
	defer s.Stop()

	s.Trigger()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_TriggersCoalesceWhileBusy(t *testing.T) {
	var runs int32
	entered := make(chan struct{}, 8)
	release := make(chan struct{})

	s := NewScheduler(0, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		entered <- struct{}{}
		<-release
		return nil
	})
	s.Start()

	s.Trigger()
	<-entered
	for i := 0; i < 10; i++ {
		s.Trigger()
	}
	close(release)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	s.Stop()
}

func TestScheduler_Interval(t *testing.T) {
	var runs int32
	s := NewScheduler(10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_StopCancelsRunAndWaits(t *testing.T) {
	entered := make(chan struct{})
	var sawCancel int32

	s := NewScheduler(0, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		atomic.StoreInt32(&sawCancel, 1)
		return ctx.Err()
	})
	s.Start()
	s.Trigger()
	<-entered

	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&sawCancel))
	s.Stop()
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	var runs int32
	s := NewScheduler(0, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("boom")
		}
		return nil
	})
	s.Start()
	defer s.Stop()

	s.Trigger()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
	s.Trigger()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, time.Second, 5*time.Millisecond)
}
