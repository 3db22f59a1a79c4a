package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	apperrors "github.com/NomadCrew/nomad-crew-ledger/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = time.Minute

func newRateLimitedRouter(limiter gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	_ = router.SetTrustedProxies(nil)
	router.Use(ErrorHandler())
	router.POST("/v1/trips/:id/expenses", limiter, func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return router
}

// postExpense comes from 192.0.2.1, the httptest default remote address.
func postExpense(forwardedFor string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/trips/trip-1/expenses", nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	return req
}

func TestWriteRateLimiter(t *testing.T) {
	key := writeRateKey("trip-1", "192.0.2.1")

	t.Run("allows requests under the limit", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectTxPipeline()
		mock.ExpectIncr(key).SetVal(2)
		mock.ExpectExpireNX(key, testWindow).SetVal(false)
		mock.ExpectTxPipelineExec()

		router := newRateLimitedRouter(WriteRateLimiter(client, 5, testWindow))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, postExpense(""))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Remaining"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocks requests over the limit", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectTxPipeline()
		mock.ExpectIncr(key).SetVal(6)
		mock.ExpectExpireNX(key, testWindow).SetVal(false)
		mock.ExpectTxPipelineExec()
		mock.ExpectTTL(key).SetVal(30 * time.Second)

		router := newRateLimitedRouter(WriteRateLimiter(client, 5, testWindow))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, postExpense(""))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, string(apperrors.RateLimitError), body.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails open when redis is unavailable", func(t *testing.T) {
		client, _ := redismock.NewClientMock()

		router := newRateLimitedRouter(WriteRateLimiter(client, 5, testWindow))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, postExpense(""))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("ignores forwarding headers from untrusted clients", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		router := newRateLimitedRouter(WriteRateLimiter(client, 5, testWindow))

		for i, spoofed := range []string{"10.0.0.7", "10.0.0.8", "10.0.0.9"} {
			mock.ExpectTxPipeline()
			mock.ExpectIncr(key).SetVal(int64(i + 1))
			mock.ExpectExpireNX(key, testWindow).SetVal(i == 0)
			mock.ExpectTxPipelineExec()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, postExpense(spoofed))
			assert.Equal(t, http.StatusCreated, w.Code)
			assert.Equal(t, strconv.Itoa(5-(i+1)), w.Header().Get("X-RateLimit-Remaining"))
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("uses the forwarded client behind a trusted proxy", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		router := newRateLimitedRouter(WriteRateLimiter(client, 5, testWindow))
		require.NoError(t, router.SetTrustedProxies([]string{"192.0.2.1"}))

		forwardedKey := writeRateKey("trip-1", "10.0.0.7")
		mock.ExpectTxPipeline()
		mock.ExpectIncr(forwardedKey).SetVal(1)
		mock.ExpectExpireNX(forwardedKey, testWindow).SetVal(true)
		mock.ExpectTxPipelineExec()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, postExpense("10.0.0.7"))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
