// SPDX-License-Identifier: GPL-3.0-or-later

package conc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresOneShotInOrder(t *testing.T) {
	cfg := NewConfig()
	s := NewScheduler(cfg)

	var mu sync.Mutex
	var fired []string

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()

	now := time.Now()
	done := make(chan struct{}, 2)
	s.Schedule(&Alarm{
		Name:   "second",
		FireAt: now.Add(40 * time.Millisecond),
		Callback: func(ctx context.Context) {
			mu.Lock()
			fired = append(fired, "second")
			mu.Unlock()
			done <- struct{}{}
		},
	})
	s.Schedule(&Alarm{
		Name:   "first",
		FireAt: now.Add(10 * time.Millisecond),
		Callback: func(ctx context.Context) {
			mu.Lock()
			fired = append(fired, "first")
			mu.Unlock()
			done <- struct{}{}
		},
	})

	<-done
	<-done
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 2)
	assert.Equal(t, []string{"first", "second"}, fired)
}

func TestSchedulerPeriodicReinsertsWithoutDrift(t *testing.T) {
	cfg := NewConfig()
	s := NewScheduler(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int32
	fireAt := time.Now().Add(5 * time.Millisecond)
	fired := make(chan struct{}, 8)
	s.Schedule(&Alarm{
		Name:   "tick",
		FireAt: fireAt,
		Period: 5 * time.Millisecond,
		Callback: func(ctx context.Context) {
			atomic.AddInt32(&count, 1)
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	})

	go s.Run(ctx)

	for i := 0; i < 3; i++ {
		<-fired
	}
	cancel()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestSchedulerCancelPreventsFiring(t *testing.T) {
	cfg := NewConfig()
	s := NewScheduler(cfg)

	var fired int32
	a := &Alarm{
		Name:   "cancel-me",
		FireAt: time.Now().Add(10 * time.Millisecond),
		Callback: func(ctx context.Context) {
			atomic.AddInt32(&fired, 1)
		},
	}
	s.Schedule(a)
	s.Cancel(a)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestSchedulerTieBreakBumpsFireTime(t *testing.T) {
	s := NewScheduler(NewConfig())
	t0 := time.Now().Add(time.Hour) // far enough out that Run never fires these
	a := &Alarm{Name: "a", FireAt: t0}
	b := &Alarm{Name: "b", FireAt: t0}
	s.Schedule(a)
	s.Schedule(b)
	assert.True(t, b.FireAt.After(a.FireAt))
}
