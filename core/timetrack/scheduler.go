package timetrack

import (
	"context"
	"fmt"
	"time"
)

// Scheduler runs the delay scan at a fixed interval.
type Scheduler struct {
	svc       *Service
	interval  time.Duration
	threshold float64
	done      chan struct{}
}

func NewScheduler(svc *Service, interval time.Duration, threshold float64) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{svc: svc, interval: interval, threshold: threshold, done: make(chan struct{})}
}

// Run scans every interval until ctx is done. A failed scan is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delayed, err := s.svc.Scan(ctx, s.threshold)
			if err != nil {
				if ctx.Err() == nil {
					s.svc.logger.Error("delay scan failed", err)
				}
				continue
			}
			s.svc.logger.Debug(fmt.Sprintf("delay scan: %d delayed task(s)", len(delayed)))
		}
	}
}

// Done is closed once Run returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
