// -----------------------------------------------------------------------
// Queue view - read model over the backend execution queue
// -----------------------------------------------------------------------

package strategies

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
)

// DefaultQueueRefreshInterval is the queue poll cadence in server mode.
const DefaultQueueRefreshInterval = 5 * time.Second

// QueueFetcher is the slice of the client the queue view depends on.
type QueueFetcher interface {
	FetchQueue(ctx context.Context) (*models.ExecutionQueueResponse, error)
}

// QueueSnapshot is the display form of the backend queue. When the backend
// breaks its own concurrency invariant, running rows beyond the cap are
// hidden from Queue and counted in ExcessRunning instead.
type QueueSnapshot struct {
	Queue         []models.QueuedExecution `json:"queue"`
	TotalQueued   int                      `json:"total_queued"`
	MaxConcurrent int                      `json:"max_concurrent"`
	Running       int                      `json:"running"`
	ExcessRunning int                      `json:"excess_running,omitempty"`
	Available     bool                     `json:"available"`
	Error         string                   `json:"error,omitempty"`
	RefreshedAt   *time.Time               `json:"refreshed_at,omitempty"`
}

// QueueView is a pull-through read model over FetchQueue. The backend's
// snapshot is the display truth: there is no client-side reconciliation,
// and a fetch failure degrades the view to an explicit unavailable state
// without touching active-run tracking.
type QueueView struct {
	fetcher QueueFetcher
	events  interfaces.EventService
	logger  arbor.ILogger

	mu          sync.RWMutex
	current     *models.ExecutionQueueResponse
	available   bool
	lastError   string
	refreshedAt *time.Time
}

// NewQueueView creates a queue view. The event service is optional.
func NewQueueView(fetcher QueueFetcher, events interfaces.EventService, logger arbor.ILogger) *QueueView {
	if logger == nil {
		logger = arbor.NewLogger()
	}

	return &QueueView{
		fetcher: fetcher,
		events:  events,
		logger:  logger,
	}
}

// Refresh fetches a fresh queue snapshot. On failure the view flips to
// unavailable and the error is returned for the caller to surface.
func (v *QueueView) Refresh(ctx context.Context) error {
	queue, err := v.fetcher.FetchQueue(ctx)

	v.mu.Lock()
	if err != nil {
		v.current = nil
		v.available = false
		v.lastError = "Execution queue unavailable"
		v.mu.Unlock()

		v.logger.Warn().
			Err(err).
			Msg("Queue refresh failed, view degraded to unavailable")
		// Broadcast the degraded view too, so dashboards flip to
		// unavailable without waiting for the next successful refresh.
		v.publish(ctx)
		return err
	}

	v.current = queue
	v.available = true
	v.lastError = ""
	now := time.Now().UTC()
	v.refreshedAt = &now
	v.mu.Unlock()

	v.publish(ctx)

	return nil
}

func (v *QueueView) publish(ctx context.Context) {
	if v.events == nil {
		return
	}
	_ = v.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventQueueUpdated,
		Payload: v.Snapshot(),
	})
}

// Snapshot returns the current display state.
func (v *QueueView) Snapshot() QueueSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.available || v.current == nil {
		return QueueSnapshot{
			Available: false,
			Error:     v.lastError,
		}
	}

	snapshot := QueueSnapshot{
		Queue:         make([]models.QueuedExecution, 0, len(v.current.Queue)),
		TotalQueued:   v.current.TotalQueued,
		MaxConcurrent: v.current.MaxConcurrent,
		Available:     true,
		RefreshedAt:   v.refreshedAt,
	}

	// Entries are already position-ordered. Running rows past the
	// concurrency cap are counted, not displayed.
	running := 0
	for _, entry := range v.current.Queue {
		if entry.Status == models.ExecutionStateRunning {
			running++
			if v.current.MaxConcurrent > 0 && running > v.current.MaxConcurrent {
				snapshot.ExcessRunning++
				continue
			}
			snapshot.Running++
		}
		snapshot.Queue = append(snapshot.Queue, entry)
	}

	if snapshot.ExcessRunning > 0 {
		v.logger.Warn().
			Int("excess_running", snapshot.ExcessRunning).
			Int("max_concurrent", snapshot.MaxConcurrent).
			Msg("Queue snapshot exceeds its concurrency limit")
	}

	return snapshot
}

// RunPeriodic refreshes the queue on an interval until the context ends.
// Used in server mode so the dashboard sees queue movement without asking.
func (v *QueueView) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultQueueRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
				v.logger.Debug().Err(err).Msg("Periodic queue refresh failed")
			}
		}
	}
}
