package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
	mu        sync.Mutex
	started   bool
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{scheduler: svc}
}

func (s *service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.scheduler.StartAsync()
	s.started = true
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.started = false
}

// Every registers fn to run at the given interval. A run still in progress
// when the next one is due is not overlapped.
func (s *service) Every(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s, must be positive", interval)
	}
	if fn == nil {
		return fmt.Errorf("missing job function")
	}

	_, err := s.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(fn)
	return err
}
