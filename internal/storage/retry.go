package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/config"
)

// RetryPolicy 控制对瞬时存储错误的有限重试。
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetryPolicy is used when no configuration is supplied.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Interval: 50 * time.Millisecond}

// NewRetryPolicy builds a policy from the STORE section.
func NewRetryPolicy(cfg config.StoreConfig) RetryPolicy {
	p := RetryPolicy{Attempts: cfg.RetryAttempts, Interval: cfg.RetryInterval}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	return p
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempts are used up. Exhaustion surfaces as apperr.CodeTransientFailure.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Interval
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = 0 // 由重试次数限制

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil && IsTransient(err) {
		return apperr.Transient(err)
	}
	return err
}

// IsTransient reports whether err is worth retrying: lost connections,
// serialization failures and lock contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperr.Is(err, apperr.CodeTransientFailure) {
		return false // 已经重试过
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization_failure, deadlock_detected
			return true
		case pgErr.Code == "57P01", pgErr.Code == "53300": // admin_shutdown, too_many_connections
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1205, 1213: // too many connections, lock wait timeout, deadlock
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

var retryPolicy = DefaultRetryPolicy

// SetRetryPolicy replaces the policy used by every repository. Call it once at startup.
func SetRetryPolicy(p RetryPolicy) {
	retryPolicy = p
}

// Retry runs op under the process-wide policy. Services use it to retry a
// whole transaction; a statement inside an open transaction is never retried
// on its own.
func Retry(ctx context.Context, op func() error) error {
	return retryPolicy.Do(ctx, op)
}

// withRetry retries op unless db is bound to a transaction, where the
// enclosing Retry owns the retry decision.
func withRetry(ctx context.Context, db *gorm.DB, op func() error) error {
	if _, inTx := db.Statement.ConnPool.(gorm.TxCommitter); inTx {
		return op()
	}
	return retryPolicy.Do(ctx, op)
}
