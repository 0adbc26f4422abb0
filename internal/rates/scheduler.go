package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"rhledger/internal/log"
)

// Scheduler refreshes a Provider on a fixed interval.
type Scheduler struct {
	scheduler gocron.Scheduler
	provider  *Provider
	interval  time.Duration
	timeout   time.Duration
	logger    *log.Logger
}

func NewScheduler(p *Provider, interval time.Duration, logger *log.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid refresh interval %s", interval)
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		provider:  p,
		interval:  interval,
		timeout:   30 * time.Second,
		logger:    logger.WithComponent(log.ComponentRates),
	}, nil
}

// Start registers the refresh job, runs it once immediately and starts the
// scheduler. Jobs never overlap.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.refresh),
		gocron.WithName("exchange-rate-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("register rate refresh: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("Rate scheduler started", "interval", s.interval.String())
	return nil
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Failures are logged by the provider and degrade to the fallback chain.
	_, _ = s.provider.Refresh(ctx)
}
