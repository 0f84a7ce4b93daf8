package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/mailer"
)

type recordingMailer struct {
	sent []mailer.Email
}

func (r *recordingMailer) Send(_ context.Context, email mailer.Email) error {
	r.sent = append(r.sent, email)
	return nil
}

func TestSendEmailTaskRoundTrip(t *testing.T) {
	email := mailer.Email{To: "a@example.com", Subject: "Verification OTP", Text: "123456"}
	task, err := NewSendEmailTask(email)
	require.NoError(t, err)
	assert.Equal(t, TypeSendEmail, task.Type())

	rec := &recordingMailer{}
	require.NoError(t, HandleSendEmail(rec).ProcessTask(context.Background(), task))
	require.Len(t, rec.sent, 1)
	assert.Equal(t, email, rec.sent[0])
}

func TestSendEmailTaskBadPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(TypeSendEmail, []byte("{not json"))
	err := HandleSendEmail(&recordingMailer{}).ProcessTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
