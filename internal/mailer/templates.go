package mailer

import (
	"fmt"
	"time"
)

// OTPEmail renders the email-verification code message.
func OTPEmail(to, name, otp string, ttl time.Duration) Email {
	minutes := int(ttl.Minutes())
	return Email{
		To:      to,
		Subject: "Verification OTP",
		Text: fmt.Sprintf("Hi %s,\n\nYour verification code is: %s\n\nThis code will expire in %d minutes.\n",
			name, otp, minutes),
		HTML: fmt.Sprintf("<p>Hi %s,</p><p>Your verification code is: <strong>%s</strong></p><p>This code will expire in %d minutes.</p>",
			name, otp, minutes),
	}
}

// ResetPasswordEmail renders the password reset link message.
func ResetPasswordEmail(to, name, resetURL string, ttl time.Duration) Email {
	minutes := int(ttl.Minutes())
	return Email{
		To:      to,
		Subject: "Reset Password",
		Text: fmt.Sprintf("Hi %s,\n\nUse the link below to reset your password. It expires in %d minutes.\n\n%s\n\nIf you didn't request a reset, ignore this email.\n",
			name, minutes, resetURL),
		HTML: fmt.Sprintf("<p>Hi %s,</p><p><a href=\"%s\">Reset your password</a>. The link expires in %d minutes.</p><p>If you didn't request a reset, ignore this email.</p>",
			name, resetURL, minutes),
	}
}
