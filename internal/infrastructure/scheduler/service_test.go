package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/core/ports"
	scheduler "github.com/ArkLabsHQ/lnswap/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

var schedulerTypes = map[string]func() ports.SchedulerService{
	"gocron": func() ports.SchedulerService {
		return scheduler.NewScheduler()
	},
}

func TestSchedulerService(t *testing.T) {
	for schedulerType, factory := range schedulerTypes {
		t.Run(schedulerType, func(t *testing.T) {
			testScheduler(t, factory)
		})
	}
}

func testScheduler(t *testing.T, newScheduler func() ports.SchedulerService) {
	t.Run("runs periodically", func(t *testing.T) {
		svc := newScheduler()

		var runs atomic.Int32
		err := svc.Every(100*time.Millisecond, func() {
			runs.Add(1)
		})
		require.NoError(t, err)

		svc.Start()
		defer svc.Stop()

		require.Eventually(t, func() bool {
			return runs.Load() >= 3
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("waits for the first interval", func(t *testing.T) {
		svc := newScheduler()
		svc.Start()
		defer svc.Stop()

		var runs atomic.Int32
		err := svc.Every(time.Hour, func() {
			runs.Add(1)
		})
		require.NoError(t, err)

		time.Sleep(200 * time.Millisecond)
		require.Zero(t, runs.Load())
	})

	t.Run("stops running after stop", func(t *testing.T) {
		svc := newScheduler()

		var runs atomic.Int32
		err := svc.Every(50*time.Millisecond, func() {
			runs.Add(1)
		})
		require.NoError(t, err)

		svc.Start()
		require.Eventually(t, func() bool {
			return runs.Load() >= 1
		}, 5*time.Second, 10*time.Millisecond)

		svc.Stop()
		svc.Stop()
		time.Sleep(100 * time.Millisecond)
		after := runs.Load()
		time.Sleep(200 * time.Millisecond)
		require.Equal(t, after, runs.Load())
	})

	t.Run("invalid job", func(t *testing.T) {
		svc := newScheduler()

		err := svc.Every(0, func() {})
		require.Error(t, err)

		err = svc.Every(time.Second, nil)
		require.Error(t, err)
	})
}
