package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRunExecutesBothJobsImmediately(t *testing.T) {
	t.Parallel()

	var monitorRuns, deliveryRuns atomic.Int64
	s := New(Config{MonitorInterval: time.Hour, DeliveryInterval: time.Hour},
		func(context.Context) error { monitorRuns.Add(1); return nil },
		func(context.Context) error { deliveryRuns.Add(1); return nil },
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Long intervals: only the immediate first execution can happen.
	assert.Eventually(t, func() bool {
		return monitorRuns.Load() == 1 && deliveryRuns.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.EqualValues(t, 1, monitorRuns.Load())
	assert.EqualValues(t, 1, deliveryRuns.Load())
}

func TestRunTicksOnInterval(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	s := New(Config{MonitorInterval: 5 * time.Millisecond, DeliveryInterval: time.Hour},
		func(context.Context) error { ticks.Add(1); return nil },
		func(context.Context) error { return nil },
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestRunJobErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	s := New(Config{MonitorInterval: 5 * time.Millisecond, DeliveryInterval: time.Hour},
		func(context.Context) error {
			ticks.Add(1)
			return fmt.Errorf("upstream down")
		},
		func(context.Context) error { return nil },
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 },
		time.Second, time.Millisecond, "failing job keeps ticking")
	cancel()
	<-done
}

func TestRunLoopNeverOverlapsItself(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	slow := func(context.Context) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	s := New(Config{MonitorInterval: time.Millisecond, DeliveryInterval: time.Hour},
		slow, func(context.Context) error { return nil }, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "a loop waits out its own job before the next tick")
}

func TestRunDeliveryTicksDuringLongMonitorJob(t *testing.T) {
	t.Parallel()

	monitorStarted := make(chan struct{})
	monitorRelease := make(chan struct{})
	var deliveries atomic.Int64

	s := New(Config{MonitorInterval: time.Hour, DeliveryInterval: 2 * time.Millisecond},
		func(context.Context) error {
			close(monitorStarted)
			<-monitorRelease
			return nil
		},
		func(context.Context) error { deliveries.Add(1); return nil },
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	<-monitorStarted
	assert.Eventually(t, func() bool { return deliveries.Load() >= 5 },
		time.Second, time.Millisecond,
		"delivery checks keep ticking while the monitor pass is still running")

	close(monitorRelease)
	cancel()
	<-done
}

func TestRunStopsPromptlyDuringLongWait(t *testing.T) {
	t.Parallel()

	s := New(Config{MonitorInterval: time.Hour, DeliveryInterval: time.Hour},
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()
	select {
	case <-done:
		assert.Less(t, time.Since(start), time.Second, "cancel interrupts the wait, no polling")
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
