package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"im-chat/internal/apperr"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection class", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"canceled", context.Canceled, false},
		{"already exhausted", apperr.Transient(driver.ErrBadConn), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := RetryPolicy{Attempts: 3, Interval: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyExhaustionIsTransientFailure(t *testing.T) {
	calls := 0
	err := RetryPolicy{Attempts: 3, Interval: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return driver.ErrBadConn
	})
	assert.Equal(t, 3, calls)
	assert.True(t, apperr.Is(err, apperr.CodeTransientFailure))
	assert.ErrorIs(t, err, driver.ErrBadConn)
}

func TestRepositoryRetriesSerializationFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := Open(postgres.New(postgres.Config{Conn: sqlDB}), "silent")
	require.NoError(t, err)

	prev := retryPolicy
	SetRetryPolicy(RetryPolicy{Attempts: 3, Interval: time.Millisecond})
	defer SetRetryPolicy(prev)

	mock.ExpectQuery(`SELECT \* FROM "friend_requests"`).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectQuery(`SELECT \* FROM "friend_requests"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "recipient_id"}).AddRow(7, 1, 2))

	req, err := NewGormFriendRequestRepository(db).GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, req.ID)
	assert.EqualValues(t, 2, req.RecipientID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
