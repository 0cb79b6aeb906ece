package repository

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Advisory lock keys scoped to each identifier counter. The values are
// arbitrary but fixed; they must not collide with other locks in the
// database.
const (
	registrationLockKey int64 = 7342001
	affiliateLockKey    int64 = 7342002
)

type allocationMetrics interface {
	ObserveAllocationFallback()
}

// SequenceRepository allocates human-readable sequential identifiers
// (REG-001, AFF-002, ...) under a PostgreSQL advisory lock.
type SequenceRepository struct {
	db          *sqlx.DB
	metrics     allocationMetrics
	logger      *zap.Logger
	lockTimeout time.Duration
}

// NewSequenceRepository constructs the repository.
func NewSequenceRepository(db *sqlx.DB, metrics allocationMetrics, logger *zap.Logger, lockTimeout time.Duration) *SequenceRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &SequenceRepository{db: db, metrics: metrics, logger: logger, lockTimeout: lockTimeout}
}

// NextRegistrationID returns the next registration identifier.
func (r *SequenceRepository) NextRegistrationID(ctx context.Context) (string, error) {
	return r.nextID(ctx, registrationLockKey, "REG-", "registrations", "registration_id")
}

// NextAffiliateID returns the next affiliate application identifier.
func (r *SequenceRepository) NextAffiliateID(ctx context.Context) (string, error) {
	return r.nextID(ctx, affiliateLockKey, "AFF-", "affiliates", "affiliate_id")
}

// nextID scans the maximal numeric suffix under an advisory lock and
// increments it. When the lock cannot be acquired within the timeout it
// falls back to a timestamp+salt form that is unique but not sequential;
// that degradation is logged and deliberate.
func (r *SequenceRepository) nextID(ctx context.Context, lockKey int64, prefix, table, column string) (string, error) {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		// The server can grant the lock in the instant the wait is cancelled,
		// and a pooled connection would then carry it until recycled. Unlock
		// is a no-op when the grant never happened, so issue it either way.
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockKey); uerr != nil {
			r.logger.Warn("identifier lock cleanup failed", zap.String("prefix", prefix), zap.Error(uerr))
		}
		r.logger.Warn("identifier lock not acquired, falling back to timestamp form",
			zap.String("prefix", prefix), zap.Error(err))
		if r.metrics != nil {
			r.metrics.ObserveAllocationFallback()
		}
		return fallbackID(prefix), nil
	}

	// Fallback-form identifiers (prefix + timestamp + salt) contain a second
	// dash and are excluded from the suffix scan by the pattern match.
	query := fmt.Sprintf(
		"SELECT COALESCE(MAX(CAST(SUBSTRING(%s FROM 5) AS INTEGER)), 0) FROM %s WHERE %s ~ $1",
		column, table, column)

	var maxSuffix int
	scanErr := conn.GetContext(ctx, &maxSuffix, query, "^"+prefix+"[0-9]+$")

	// Release unconditionally, also when the scan failed.
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockKey); err != nil {
		r.logger.Warn("identifier lock release failed", zap.String("prefix", prefix), zap.Error(err))
	}

	if scanErr != nil {
		return "", fmt.Errorf("scan max identifier suffix: %w", scanErr)
	}

	return fmt.Sprintf("%s%03d", prefix, maxSuffix+1), nil
}

func fallbackID(prefix string) string {
	return fmt.Sprintf("%s%d-%d", prefix, time.Now().Unix(), 100+rand.Intn(900))
}
