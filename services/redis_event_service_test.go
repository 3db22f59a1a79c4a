package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/NomadCrew/nomad-crew-ledger/types"
	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

func testEvent(t *testing.T) types.Event {
	t.Helper()
	paid := true
	payload, err := types.ExpenseEventPayload{ExpenseID: "exp-1", ParticipantID: "C", Paid: &paid}.MarshalPayload()
	require.NoError(t, err)
	return types.Event{
		BaseEvent: types.BaseEvent{
			ID:        "evt-1",
			Type:      types.EventTypeExpenseSplitUpdated,
			TripID:    "trip-1",
			UserID:    "C",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Version:   1,
		},
		Metadata: types.EventMetadata{Source: "expense_service"},
		Payload:  payload,
	}
}

func TestRedisEventService_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes on the trip channel", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		svc := NewRedisEventService(client, time.Second, prometheus.NewRegistry())

		event := testEvent(t)
		data, err := json.Marshal(event)
		require.NoError(t, err)
		mock.ExpectPublish("trip:trip-1", data).SetVal(1)

		require.NoError(t, svc.Publish(ctx, "trip-1", event))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.eventCount.WithLabelValues(string(types.EventTypeExpenseSplitUpdated))))
		assert.Equal(t, 0.0, testutil.ToFloat64(svc.metrics.errorCount))
	})

	t.Run("redis failure is reported", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		svc := NewRedisEventService(client, time.Second, prometheus.NewRegistry())

		event := testEvent(t)
		data, err := json.Marshal(event)
		require.NoError(t, err)
		mock.ExpectPublish("trip:trip-1", data).SetErr(errors.New("connection refused"))

		err = svc.Publish(ctx, "trip-1", event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish event")
		assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.errorCount))
	})

	t.Run("invalid event is rejected before publishing", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		svc := NewRedisEventService(client, 0, prometheus.NewRegistry())
		assert.Equal(t, defaultPublishTimeout, svc.publishTimeout)

		event := testEvent(t)
		event.Type = ""
		err := svc.Publish(ctx, "trip-1", event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTripChannel(t *testing.T) {
	assert.Equal(t, "trip:abc", TripChannel("abc"))
}
