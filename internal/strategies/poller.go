// -----------------------------------------------------------------------
// Poller - interval-driven run monitor over the status endpoint
// -----------------------------------------------------------------------

package strategies

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
)

// DefaultPollInterval is the status poll cadence when none is configured.
const DefaultPollInterval = 2 * time.Second

// Poller drives the controller's Poll on a fixed interval. It is the
// fallback transport when the progress stream is unavailable and a safety
// net for missed stream events when both run.
type Poller struct {
	controller *Controller
	interval   time.Duration
	logger     arbor.ILogger
}

// NewPoller creates a poller around the controller.
func NewPoller(controller *Controller, interval time.Duration, logger arbor.ILogger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}

	return &Poller{
		controller: controller,
		interval:   interval,
		logger:     logger,
	}
}

// Run polls until the context is cancelled. Ticks are consumed on a single
// goroutine, so a slow fetch never overlaps the next one.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Debug().
		Str("interval", p.interval.String()).
		Msg("Status poller started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("Status poller stopped")
			return
		case <-ticker.C:
			p.controller.Poll(ctx)
		}
	}
}
