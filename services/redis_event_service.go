package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// RedisEventService publishes ledger events on Redis Pub/Sub. Subscribers
// (the websocket gateway of the trip service) listen on "trip:{tripID}".
type RedisEventService struct {
	redisClient    redis.UniversalClient
	log            *zap.SugaredLogger
	metrics        *EventMetrics
	publishTimeout time.Duration
}

var _ types.EventPublisher = (*RedisEventService)(nil)

// EventMetrics instruments event publishing.
type EventMetrics struct {
	publishLatency prometheus.Histogram
	errorCount     prometheus.Counter
	eventCount     *prometheus.CounterVec
}

func newEventMetrics(reg prometheus.Registerer) *EventMetrics {
	factory := promauto.With(reg)
	return &EventMetrics{
		publishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nomadcrew_ledger_event_publish_duration_seconds",
			Help:    "Time taken to publish ledger events",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		errorCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "nomadcrew_ledger_event_errors_total",
			Help: "Total number of ledger events that failed to publish",
		}),
		eventCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nomadcrew_ledger_events_published_total",
			Help: "Total number of ledger events published",
		}, []string{"event_type"}),
	}
}

// NewRedisEventService returns a RedisEventService registering its metrics
// with reg. A non-positive publishTimeout falls back to five seconds.
func NewRedisEventService(redisClient redis.UniversalClient, publishTimeout time.Duration, reg prometheus.Registerer) *RedisEventService {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &RedisEventService{
		redisClient:    redisClient,
		log:            logger.GetLogger(),
		metrics:        newEventMetrics(reg),
		publishTimeout: publishTimeout,
	}
}

// Publish fills in missing event defaults, serializes the event and publishes
// it on the trip channel.
func (r *RedisEventService) Publish(ctx context.Context, tripID string, event types.Event) error {
	startTime := time.Now()
	defer func() {
		r.metrics.publishLatency.Observe(time.Since(startTime).Seconds())
	}()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	if event.TripID == "" {
		event.TripID = tripID
	}

	if err := event.Validate(); err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("invalid event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := TripChannel(tripID)
	r.log.Debugw("Publishing event",
		"channel", channel,
		"eventType", event.Type,
		"eventID", event.ID,
		"correlationID", event.Metadata.CorrelationID,
		"payloadSize", len(data),
	)

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	if err := r.redisClient.Publish(publishCtx, channel, data).Err(); err != nil {
		r.metrics.errorCount.Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	r.metrics.eventCount.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// TripChannel is the Pub/Sub channel carrying a trip's events.
func TripChannel(tripID string) string {
	return fmt.Sprintf("trip:%s", tripID)
}
