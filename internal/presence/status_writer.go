package presence

import (
	"context"

	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// NewStatusWriter returns an Observer that copies status into users.status.
// The column is for display only.
func NewStatusWriter(users storage.UserRepository) Observer {
	return ObserverFunc(func(ctx context.Context, userID uint, status models.UserStatus) error {
		return users.UpdateStatus(ctx, userID, status)
	})
}
