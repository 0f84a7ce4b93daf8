package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/apperr"
	"im-chat/internal/services"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

func TestUpdateMeOnlyTouchesGivenFields(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	svc := services.NewUserService(storage.NewGormUserRepository(db), storage.NewGormFriendshipRepository(db))
	ctx := context.Background()

	about := "hello there"
	user, err := svc.UpdateMe(ctx, alice.ID, services.ProfileUpdate{About: &about})
	require.NoError(t, err)
	assert.Equal(t, "hello there", user.About)
	assert.Equal(t, "alice", user.FirstName)

	empty := ""
	_, err = svc.UpdateMe(ctx, alice.ID, services.ProfileUpdate{FirstName: &empty})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))

	_, err = svc.GetMe(ctx, 4242)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestGetUsersExcludesSelfAndFriends(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	carol := storagetest.CreateUser(t, db, "carol")
	friendships := storage.NewGormFriendshipRepository(db)
	svc := services.NewUserService(storage.NewGormUserRepository(db), friendships)
	ctx := context.Background()

	_, err := friendships.CreateIfAbsent(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	users, err := svc.GetUsers(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, carol.ID, users[0].ID)
}
