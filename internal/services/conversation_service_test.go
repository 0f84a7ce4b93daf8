package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
	"im-chat/internal/services"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

func newConversationService(db *gorm.DB) services.ConversationService {
	return services.NewConversationService(
		storage.NewGormUserRepository(db),
		storage.NewGormConversationRepository(db),
		storage.NewGormMessageRepository(db),
	)
}

func TestGetOrCreateSameConversationEitherOrder(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	svc := newConversationService(db)
	ctx := context.Background()

	c1, created, err := svc.GetOrCreate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	c2, created, err := svc.GetOrCreate(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	msgs, err := svc.FetchMessages(ctx, c1.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGetOrCreateConcurrentCallers(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	svc := newConversationService(db)

	var wg sync.WaitGroup
	ids := make(chan uint, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 0 {
				a, b = b, a
			}
			c, _, err := svc.GetOrCreate(context.Background(), a, b)
			if assert.NoError(t, err) {
				ids <- c.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[uint]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	var count int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGetOrCreateValidation(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	svc := newConversationService(db)
	ctx := context.Background()

	_, _, err := svc.GetOrCreate(ctx, alice.ID, alice.ID)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))

	_, _, err = svc.GetOrCreate(ctx, alice.ID, 4242)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAppendThenFetchEndsWithMessage(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	svc := newConversationService(db)
	ctx := context.Background()

	conv, _, err := svc.GetOrCreate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	file := "https://cdn.example.com/a.png"
	in := &models.Message{
		FromUserID: alice.ID,
		ToUserID:   bob.ID,
		Type:       models.MediaMessage,
		Text:       "look",
		File:       &file,
	}
	saved, err := svc.AppendMessage(ctx, conv.ID, in)
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero())

	msgs, err := svc.FetchMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, saved.ID, last.ID)
	assert.Equal(t, alice.ID, last.FromUserID)
	assert.Equal(t, bob.ID, last.ToUserID)
	assert.Equal(t, models.MediaMessage, last.Type)
	assert.Equal(t, "look", last.Text)
	require.NotNil(t, last.File)
	assert.Equal(t, file, *last.File)
	assert.EqualValues(t, 1, last.Seq)
}

func TestAppendMessageErrors(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	carol := storagetest.CreateUser(t, db, "carol")
	svc := newConversationService(db)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, 999, &models.Message{FromUserID: alice.ID, ToUserID: bob.ID})
	assert.ErrorIs(t, err, services.ErrConversationNotFound)

	conv, _, err := svc.GetOrCreate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, conv.ID, &models.Message{FromUserID: carol.ID, ToUserID: bob.ID, Type: models.TextMessage})
	assert.ErrorIs(t, err, services.ErrNotParticipant)

	_, err = svc.AppendMessage(ctx, conv.ID, &models.Message{FromUserID: alice.ID, ToUserID: bob.ID, Type: "Sticker"})
	assert.ErrorIs(t, err, services.ErrInvalidMessageType)

	_, err = svc.FetchMessages(ctx, 999)
	assert.ErrorIs(t, err, services.ErrConversationNotFound)
}

func TestFetchConversationsForUserJoinsProfiles(t *testing.T) {
	db := storagetest.NewDB(t)
	alice := storagetest.CreateUser(t, db, "alice")
	bob := storagetest.CreateUser(t, db, "bob")
	carol := storagetest.CreateUser(t, db, "carol")
	svc := newConversationService(db)
	ctx := context.Background()

	_, _, err := svc.GetOrCreate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, _, err = svc.GetOrCreate(ctx, carol.ID, alice.ID)
	require.NoError(t, err)
	_, _, err = svc.GetOrCreate(ctx, bob.ID, carol.ID)
	require.NoError(t, err)

	views, err := svc.FetchConversationsForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		require.Len(t, v.Participants, 2)
		names := []string{v.Participants[0].FirstName, v.Participants[1].FirstName}
		assert.Contains(t, names, "alice")
		assert.NotEmpty(t, v.Participants[0].Email)
	}
}
