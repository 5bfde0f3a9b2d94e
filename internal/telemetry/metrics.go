package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/status"
)

// PersistMetricsMeterName is the name used for the persistence metrics meter
const PersistMetricsMeterName = "github.com/stacklok/statesync/persist"

// Remote outcomes of a commit
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// PersistMetrics derives engine metrics from the event stream. It is
// registered as a bus reducer so it sees every event in order.
type PersistMetrics struct {
	eventsTotal       metric.Int64Counter
	commitDuration    metric.Float64Histogram
	rehydrateDuration metric.Float64Histogram
	pendingUpdates    metric.Int64Gauge
	updateQueued      metric.Int64Gauge

	mu             sync.Mutex
	now            func() time.Time
	status         status.Status
	commitStarts   []time.Time
	outcome        string
	rehydrateStart time.Time
}

// NewPersistMetrics creates the persistence instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewPersistMetrics(provider metric.MeterProvider) (*PersistMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PersistMetricsMeterName)

	eventsTotal, err := meter.Int64Counter(
		"statesync_events_total",
		metric.WithDescription("Number of sync engine events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	commitDuration, err := meter.Float64Histogram(
		"statesync_commit_duration_seconds",
		metric.WithDescription("Time from a requested update to its completion"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	rehydrateDuration, err := meter.Float64Histogram(
		"statesync_rehydrate_duration_seconds",
		metric.WithDescription("Time from a rehydrate request to its completion"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	pendingUpdates, err := meter.Int64Gauge(
		"statesync_pending_updates",
		metric.WithDescription("Requested updates that have not completed"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	updateQueued, err := meter.Int64Gauge(
		"statesync_update_queued",
		metric.WithDescription("1 while a state change waits for its debounce"),
	)
	if err != nil {
		return nil, err
	}

	return &PersistMetrics{
		eventsTotal:       eventsTotal,
		commitDuration:    commitDuration,
		rehydrateDuration: rehydrateDuration,
		pendingUpdates:    pendingUpdates,
		updateQueued:      updateQueued,
		now:               time.Now,
		status:            status.Initial(),
		outcome:           outcomeSkipped,
	}, nil
}

// Reduce implements events.Reducer
func (m *PersistMetrics) Reduce(e events.Event) {
	if m == nil {
		return
	}
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(e.Kind()))))

	switch e.(type) {
	case events.Rehydrate:
		m.rehydrateStart = m.now()
		m.resetCommits()
	case events.RehydrateCompleted:
		if !m.rehydrateStart.IsZero() {
			m.rehydrateDuration.Record(ctx, m.now().Sub(m.rehydrateStart).Seconds())
			m.rehydrateStart = time.Time{}
		}
	case events.Persist, events.Purge:
		m.resetCommits()
	case events.UpdateRequested:
		m.commitStarts = append(m.commitStarts, m.now())
	case events.RemoteUpdateSucceeded:
		m.outcome = outcomeSuccess
	case events.RemoteUpdateFailed:
		m.outcome = outcomeFailure
	case events.UpdateSucceeded:
		if len(m.commitStarts) > 0 {
			start := m.commitStarts[0]
			m.commitStarts = m.commitStarts[1:]
			m.commitDuration.Record(ctx, m.now().Sub(start).Seconds(),
				metric.WithAttributes(attribute.String("remote", m.outcome)))
		}
		m.outcome = outcomeSkipped
	}

	next := status.Reduce(m.status, e)
	if next != m.status {
		m.status = next
		m.pendingUpdates.Record(ctx, int64(next.PendingUpdateCount))
		queued := int64(0)
		if next.IsUpdateQueued {
			queued = 1
		}
		m.updateQueued.Record(ctx, queued)
	}
}

func (m *PersistMetrics) resetCommits() {
	m.commitStarts = nil
	m.outcome = outcomeSkipped
}
