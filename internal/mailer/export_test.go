package mailer

import "im-chat/internal/config"

func defaultMailConfig() config.MailConfig {
	return config.MailConfig{
		SMTPHost:  "localhost",
		SMTPPort:  2525,
		FromEmail: "noreply@example.com",
		FromName:  "IM Chat",
	}
}
