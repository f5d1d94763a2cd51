package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/repository"
)

const (
	defaultStaleAfter = 2 * time.Minute
	sweepTimeout      = time.Minute
)

// Sweeper periodically ticks in-flight deployments nobody is polling.
type Sweeper struct {
	deployments repository.DeploymentRepository
	ticker      Ticker
	schedule    string
	staleAfter  time.Duration
	logger      *slog.Logger

	now func() time.Time
}

// NewSweeper constructs a sweeper. It returns nil when no schedule is set.
func NewSweeper(deployments repository.DeploymentRepository, ticker Ticker, logger *slog.Logger, schedule string, staleAfter time.Duration) *Sweeper {
	if deployments == nil || ticker == nil || schedule == "" {
		return nil
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Sweeper{
		deployments: deployments,
		ticker:      ticker,
		schedule:    schedule,
		staleAfter:  staleAfter,
		logger:      logger.With("component", "sweeper"),
		now:         time.Now,
	}
}

// Run executes the sweep on its cron schedule until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.runIteration(ctx) }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}
	s.logger.Info("reconcile sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("reconcile sweeper stopped")
	return nil
}

func (s *Sweeper) runIteration(parent context.Context) int {
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.staleAfter)
	ticked := 0
	for _, status := range []domain.DeploymentStatus{domain.StatusQueued, domain.StatusBuilding} {
		stale, err := s.deployments.ListDeploymentsWithStatusUpdatedBefore(ctx, status, cutoff)
		if err != nil {
			s.logger.Warn("failed to list stale deployments", "status", status, "error", err)
			continue
		}
		for _, dep := range stale {
			if dep.VercelID == "" {
				continue
			}
			obs, err := s.ticker.Tick(ctx, dep.VercelID)
			if err != nil {
				s.logger.Warn("sweep tick failed", "deployment_id", dep.ID, "vercel_id", dep.VercelID, "error", err)
				continue
			}
			ticked++
			if obs.Changed {
				s.logger.Info("sweep advanced deployment", "deployment_id", dep.ID, "status", obs.Status)
			}
		}
	}
	return ticked
}
