// Package db connects to PostgreSQL and applies the ledger schema.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseClient owns the pgx pool used by the ledger store.
type DatabaseClient struct {
	pool       *pgxpool.Pool
	config     *pgxpool.Config
	mu         sync.RWMutex
	maxRetries int
	retryDelay time.Duration
}

// NewDatabaseClient wraps config; call Connect before GetPool.
func NewDatabaseClient(config *pgxpool.Config) *DatabaseClient {
	return &DatabaseClient{
		config:     config,
		maxRetries: 5,
		retryDelay: time.Second,
	}
}

// Connect opens the pool and pings it, retrying with exponential backoff.
func (dc *DatabaseClient) Connect(ctx context.Context) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.config == nil {
		return fmt.Errorf("cannot connect: database configuration not available")
	}

	log := logger.GetLogger()
	delay := dc.retryDelay
	var lastErr error

	for attempt := 1; attempt <= dc.maxRetries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, dc.config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				dc.pool = pool
				if attempt > 1 {
					log.Infow("Connected to database after retries", "attempt", attempt)
				}
				return nil
			}
			pool.Close()
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("database connect aborted: %w", ctx.Err())
		}
		log.Warnw("Database connection attempt failed",
			"attempt", attempt,
			"max_attempts", dc.maxRetries,
			"error", err)

		if attempt == dc.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("database connect aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = delay * 3 / 2
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", dc.maxRetries, lastErr)
}

// GetPool returns the connected pool, or nil before Connect succeeds.
func (dc *DatabaseClient) GetPool() *pgxpool.Pool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.pool
}

// Close releases the pool.
func (dc *DatabaseClient) Close() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.pool != nil {
		dc.pool.Close()
		dc.pool = nil
	}
}
