// Package mailer sends the transactional emails of the auth flow.
package mailer

import (
	"context"
	"fmt"
	"log"

	"gopkg.in/gomail.v2"

	"im-chat/internal/config"
)

// Email is a rendered message ready for delivery.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer delivers an Email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTPMailer 通过 gomail 发送邮件。
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer creates a mailer from the MAIL section.
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Send builds a multipart message and dials the SMTP server.
func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.Text)
	if email.HTML != "" {
		msg.AddAlternative("text/html", email.HTML)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("发送邮件到 %s 失败: %w", email.To, err)
	}
	log.Printf("邮件已发送: to=%s subject=%q", email.To, email.Subject)
	return nil
}

// LogMailer 只记录日志，用于未配置 SMTP 的开发环境。
type LogMailer struct{}

// Send logs the email instead of delivering it.
func (LogMailer) Send(_ context.Context, email Email) error {
	log.Printf("[mail] to=%s subject=%q\n%s", email.To, email.Subject, email.Text)
	return nil
}
