package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the sweep every minute.
const DefaultSweepSchedule = "0 * * * * *"

// Sweepable is a store that can drop its expired drafts
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper periodically purges expired drafts from a store
type Sweeper struct {
	cron    *cron.Cron
	store   Sweepable
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
}

// NewSweeper schedules store sweeps on a seconds-precision cron expression
func NewSweeper(store Sweepable, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		cron:   cron.New(cron.WithSeconds()),
		store:  store,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the sweeper
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("Draft sweeper started")
}

// Stop stops the sweeper and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
}

// RunOnce sweeps the store immediately
func (s *Sweeper) RunOnce() {
	removed, err := s.store.Sweep(context.Background())
	if err != nil {
		s.logger.Error("Draft sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Expired drafts removed", zap.Int("count", removed))
	}
}
