package services

import (
	"context"
	"errors"
	"testing"

	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/go-redis/redismock/v9"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthService_CheckHealth(t *testing.T) {
	tests := []struct {
		name           string
		dbErr          error
		redisErr       error
		expectedStatus types.HealthStatus
		expectedComps  map[string]types.HealthStatus
	}{
		{
			name:           "all healthy",
			expectedStatus: types.HealthStatusUp,
			expectedComps: map[string]types.HealthStatus{
				types.ComponentLedgerStore: types.HealthStatusUp,
				types.ComponentEventBus:    types.HealthStatusUp,
			},
		},
		{
			name:           "database down",
			dbErr:          errors.New("connection refused"),
			expectedStatus: types.HealthStatusDown,
			expectedComps: map[string]types.HealthStatus{
				types.ComponentLedgerStore: types.HealthStatusDown,
				types.ComponentEventBus:    types.HealthStatusUp,
			},
		},
		{
			name:           "redis down degrades",
			redisErr:       errors.New("connection refused"),
			expectedStatus: types.HealthStatusDegraded,
			expectedComps: map[string]types.HealthStatus{
				types.ComponentLedgerStore: types.HealthStatusUp,
				types.ComponentEventBus:    types.HealthStatusDown,
			},
		},
		{
			name:           "both down",
			dbErr:          errors.New("connection refused"),
			redisErr:       context.DeadlineExceeded,
			expectedStatus: types.HealthStatusDown,
			expectedComps: map[string]types.HealthStatus{
				types.ComponentLedgerStore: types.HealthStatusDown,
				types.ComponentEventBus:    types.HealthStatusDown,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mockDB.Close()
			mockDB.ExpectPing().WillReturnError(tt.dbErr)

			redisClient, mockRedis := redismock.NewClientMock()
			if tt.redisErr != nil {
				mockRedis.ExpectPing().SetErr(tt.redisErr)
			} else {
				mockRedis.ExpectPing().SetVal("PONG")
			}

			service := NewHealthService(mockDB, "postgres", redisClient, "1.2.3")
			result := service.CheckHealth(context.Background())

			assert.Equal(t, tt.expectedStatus, result.Status)
			assert.Equal(t, "1.2.3", result.Version)
			assert.Equal(t, LedgerServiceName, result.Service)
			assert.Equal(t, tt.expectedStatus != types.HealthStatusDown, result.Ready())
			assert.False(t, result.CheckedAt.Before(result.StartedAt))
			assert.GreaterOrEqual(t, result.UptimeSeconds, int64(0))
			assert.Equal(t, "postgres", result.Components[types.ComponentLedgerStore].Driver)
			assert.Empty(t, result.Components[types.ComponentEventBus].Driver)
			for comp, expected := range tt.expectedComps {
				assert.Equal(t, expected, result.Components[comp].Status, comp)
			}
			if tt.dbErr != nil {
				assert.Equal(t, "Ledger store unreachable", result.Components[types.ComponentLedgerStore].Details)
			}

			require.NoError(t, mockDB.ExpectationsWereMet())
			require.NoError(t, mockRedis.ExpectationsWereMet())
		})
	}
}
