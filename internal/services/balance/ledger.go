package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	ledgerConnectAttempts = 5
	ledgerMaxLifetime     = time.Hour
	ledgerMaxIdleTime     = 15 * time.Minute
	ledgerConnectTimeout  = 10 * time.Second
)

const createLedgerTable = `
CREATE TABLE IF NOT EXISTS collateral_balances (
	pubkey       CHAR(64) PRIMARY KEY,
	balance_sats BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectBalance = `SELECT balance_sats FROM collateral_balances WHERE pubkey = $1`

// LedgerLookup reads balances from a PostgreSQL ledger table that the
// payment provider keeps current.
type LedgerLookup struct {
	pool *pgxpool.Pool
}

func ledgerPoolConfig(dbURL string, maxConns int32) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URI: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = ledgerMaxLifetime
	config.MaxConnIdleTime = ledgerMaxIdleTime
	config.ConnConfig.ConnectTimeout = ledgerConnectTimeout
	config.HealthCheckPeriod = 30 * time.Second
	return config, nil
}

// NewLedgerLookup connects with retries and exponential backoff, then makes
// sure the ledger table exists.
func NewLedgerLookup(ctx context.Context, dbURL string, maxConns int32) (*LedgerLookup, error) {
	config, err := ledgerPoolConfig(dbURL, maxConns)
	if err != nil {
		return nil, err
	}

	backoff := 2 * time.Second
	for attempt := 1; ; attempt++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				if _, err = pool.Exec(ctx, createLedgerTable); err == nil {
					logger.Info("Ledger database connected",
						zap.Int("attempts", attempt),
						zap.Int32("max_conns", pool.Stat().MaxConns()))
					return &LedgerLookup{pool: pool}, nil
				}
			}
			pool.Close()
		}
		if attempt == ledgerConnectAttempts {
			break
		}

		logger.Warn("Failed to connect to ledger, retrying...",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("failed to connect to ledger after %d attempts: %w", ledgerConnectAttempts, err)
}

// Balance returns the recorded balance; an unknown pubkey holds zero.
func (l *LedgerLookup) Balance(ctx context.Context, pubkey string) (int64, error) {
	var sats int64
	err := l.pool.QueryRow(ctx, selectBalance, pubkey).Scan(&sats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger query failed: %w", err)
	}
	return sats, nil
}

// Ping checks database connectivity
func (l *LedgerLookup) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Stats reports pool usage for the health endpoint.
func (l *LedgerLookup) Stats() map[string]interface{} {
	stat := l.pool.Stat()
	return map[string]interface{}{
		"open_connections": stat.TotalConns(),
		"in_use":           stat.AcquiredConns(),
		"idle":             stat.IdleConns(),
		"max_connections":  stat.MaxConns(),
	}
}

func (l *LedgerLookup) Close() {
	l.pool.Close()
}
