package storage_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"im-chat/internal/models"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

func TestConversationFindOrCreateByPairIsIdempotent(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	repo := storage.NewGormConversationRepository(db)
	ctx := context.Background()

	first, created, err := repo.FindOrCreateByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.FindOrCreateByPair(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []uint{alice.ID, bob.ID}, second.Participants())

	var count int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConversationFindOrCreateByPairConcurrent(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	repo := storage.NewGormConversationRepository(db)

	const callers = 8
	ids := make([]uint, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			conv, _, err := repo.FindOrCreateByPair(context.Background(), a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestConversationRejectsSelfPair(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")

	_, _, err := storage.NewGormConversationRepository(db).FindOrCreateByPair(context.Background(), alice.ID, alice.ID)
	assert.ErrorIs(t, err, storage.ErrSelfConversation)
}

func TestMessageAppendAssignsSequence(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	ctx := context.Background()

	conv, _, err := storage.NewGormConversationRepository(db).FindOrCreateByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	messages := storage.NewGormMessageRepository(db)
	for i, text := range []string{"hi", "hello", "bye"} {
		msg := &models.Message{
			ConversationID: conv.ID,
			FromUserID:     alice.ID,
			ToUserID:       bob.ID,
			Type:           models.TextMessage,
			Text:           text,
		}
		require.NoError(t, messages.Append(ctx, msg))
		assert.EqualValues(t, i+1, msg.Seq)
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	got, err := messages.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, "bye", got[2].Text)

	reloaded, err := storage.NewGormConversationRepository(db).GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastMessageAt)
}

func TestMessageAppendUnknownConversation(t *testing.T) {
	db := storagetest.NewDB(t)

	err := storage.NewGormMessageRepository(db).Append(context.Background(), &models.Message{
		ConversationID: 999,
		FromUserID:     1,
		ToUserID:       2,
		Type:           models.TextMessage,
	})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFriendshipCreateIfAbsentIsSymmetric(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendshipRepository(db)
	ctx := context.Background()

	created, err := repo.CreateIfAbsent(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, created)

	ok, err := repo.AreFriends(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	aliceFriends, err := repo.GetFriendIDs(ctx, alice.ID)
	require.NoError(t, err)
	bobFriends, err := repo.GetFriendIDs(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{bob.ID}, aliceFriends)
	assert.Equal(t, []uint{alice.ID}, bobFriends)

	_, err = repo.CreateIfAbsent(ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, storage.ErrSelfFriendship)
}

func TestFriendRequestDeleteReportsRows(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	repo := storage.NewGormFriendRequestRepository(db)
	ctx := context.Background()

	req := &models.FriendRequest{SenderID: alice.ID, RecipientID: bob.ID}
	require.NoError(t, repo.Create(ctx, req))
	dup := &models.FriendRequest{SenderID: alice.ID, RecipientID: bob.ID}
	require.NoError(t, repo.Create(ctx, dup), "duplicate pending requests are allowed")

	pending, err := repo.ListForRecipient(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	n, err := repo.Delete(ctx, req.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.Delete(ctx, req.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestUserListVerifiedExcept(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	carol := storagetest.CreateUser(t, db, "carol")
	require.NoError(t, db.Model(carol).Update("verified", false).Error)
	repo := storage.NewGormUserRepository(db)

	users, err := repo.ListVerifiedExcept(context.Background(), []uint{alice.ID})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, bob.ID, users[0].ID)
	assert.Equal(t, "bob", users[0].FirstName)

	n, err := repo.CountExisting(context.Background(), alice.ID, bob.ID, 4242)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
