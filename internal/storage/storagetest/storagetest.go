// Package storagetest opens throwaway in-memory databases for tests.
package storagetest

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// NewDB returns a migrated sqlite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := storage.Open(sqlite.Open(dsn), "silent")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrateTables(db))
	return db
}

// CreateUser inserts a verified user with the given first name.
func CreateUser(t testing.TB, db *gorm.DB, firstName string) *models.User {
	t.Helper()

	user := &models.User{
		FirstName: firstName,
		LastName:  "Test",
		Email:     fmt.Sprintf("%s-%s@example.com", firstName, uuid.NewString()[:8]),
		Verified:  true,
		Status:    models.UserStatusOffline,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
