package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// Every runs fn every interval, first run one interval after Start.
	Every(interval time.Duration, fn func()) error
}
