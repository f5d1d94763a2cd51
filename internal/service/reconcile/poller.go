package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/zakisheriff/One-Deploy/internal/domain"
)

// DefaultPollInterval is the cadence used when none is configured.
const DefaultPollInterval = 3 * time.Second

// ErrPollExhausted is returned when the attempt budget runs out before the
// deployment reaches a terminal state.
var ErrPollExhausted = errors.New("deployment still in progress after maximum poll attempts")

// Ticker performs one reconciliation step.
type Ticker interface {
	Tick(ctx context.Context, vercelID string) (Observation, error)
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func(ctx context.Context, vercelID string) (Observation, error)

// Tick calls f.
func (f TickerFunc) Tick(ctx context.Context, vercelID string) (Observation, error) {
	return f(ctx, vercelID)
}

// Poller drives a Ticker until the deployment is terminal.
type Poller struct {
	ticker      Ticker
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithInterval sets the delay between ticks.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxAttempts bounds the number of ticks. Zero means unbounded.
func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) {
		if n >= 0 {
			p.maxAttempts = n
		}
	}
}

// NewPoller constructs a Poller.
func NewPoller(ticker Ticker, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{ticker: ticker, interval: DefaultPollInterval, logger: logger.With("component", "poller")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks until a terminal observation, context cancellation or attempt
// exhaustion. Upstream outages are logged and retried on the next tick;
// any other error stops the loop. onObserve, when set, sees every successful
// observation.
func (p *Poller) Run(ctx context.Context, vercelID string, onObserve func(Observation)) (Observation, error) {
	limiter := rate.NewLimiter(rate.Every(p.interval), 1)
	var last Observation
	for attempt := 1; p.maxAttempts == 0 || attempt <= p.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, ctxErr
			}
			return last, err
		}
		obs, err := p.ticker.Tick(ctx, vercelID)
		if err != nil {
			if errors.Is(err, domain.ErrUpstreamUnavailable) {
				p.logger.Warn("poll tick failed, retrying", "vercel_id", vercelID, "attempt", attempt, "error", err)
				continue
			}
			return last, err
		}
		last = obs
		if onObserve != nil {
			onObserve(obs)
		}
		if obs.Terminal {
			return obs, nil
		}
	}
	return last, ErrPollExhausted
}
