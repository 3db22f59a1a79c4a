package services

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LedgerServiceName identifies this service in health responses.
const LedgerServiceName = "expense-ledger"

// Pinger is satisfied by pgxpool.Pool and the sqlite ledger store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	store       Pinger
	driver      string
	redisClient redis.UniversalClient
	version     string
	startedAt   time.Time
	log         *zap.SugaredLogger
}

func NewHealthService(store Pinger, driver string, redisClient redis.UniversalClient, version string) *HealthService {
	return &HealthService{
		store:       store,
		driver:      driver,
		redisClient: redisClient,
		version:     version,
		startedAt:   time.Now().UTC(),
		log:         logger.GetLogger(),
	}
}

// CheckHealth pings the ledger store and the event bus. Without its store the
// ledger cannot answer anything, so a failing store marks it down; the event
// bus only carries events and rate limits, so losing it degrades the service.
func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	storeStatus := h.probe(ctx, "Ledger store", h.store.Ping)
	storeStatus.Driver = h.driver
	busStatus := h.probe(ctx, "Event bus", func(ctx context.Context) error {
		return h.redisClient.Ping(ctx).Err()
	})

	status := types.HealthStatusUp
	switch {
	case storeStatus.Status == types.HealthStatusDown:
		status = types.HealthStatusDown
	case busStatus.Status == types.HealthStatusDown:
		status = types.HealthStatusDegraded
	}

	now := time.Now().UTC()
	return types.HealthCheck{
		Service: LedgerServiceName,
		Status:  status,
		Components: map[string]types.HealthComponent{
			types.ComponentLedgerStore: storeStatus,
			types.ComponentEventBus:    busStatus,
		},
		Version:       h.version,
		CheckedAt:     now,
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
	}
}

func (h *HealthService) probe(ctx context.Context, name string, ping func(context.Context) error) types.HealthComponent {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		h.log.Errorw("Health check failed", "component", name, "error", err)
		return types.HealthComponent{
			Status:    types.HealthStatusDown,
			LatencyMs: latency,
			Details:   name + " unreachable",
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp, LatencyMs: latency}
}
