package auth

import (
	"context"
	"fmt"
	"net/url"
)

// Notifier delivers a message to an email address.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// DefaultResetLinkBase is where the web client serves the reset form.
const DefaultResetLinkBase = "http://localhost:3000/reset-password"

const (
	subjectSecondFactor  = "Your 2FA Code - VolunteerSync"
	subjectPasswordReset = "Password Reset Request - VolunteerSync"
	subjectWelcome       = "Welcome to VolunteerSync!"
	signature            = "Best regards,\nVolunteerSync Team"
)

func secondFactorMessage(code string) (string, string) {
	body := fmt.Sprintf("Hello,\n\n"+
		"Your two-factor authentication code is:\n\n%s\n\n"+
		"This code will expire in %d minutes.\n\n"+
		"If you didn't request this, please contact support immediately.\n\n%s",
		code, int(SecondFactorTTL.Minutes()), signature)
	return subjectSecondFactor, body
}

func resetMessage(linkBase, token string) (string, string) {
	link := linkBase + "?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("Hello,\n\n"+
		"You requested to reset your password. Click the link below to reset it:\n\n%s\n\n"+
		"This link will expire in 1 hour.\n\n"+
		"If you didn't request this, please ignore this email.\n\n%s", link, signature)
	return subjectPasswordReset, body
}

// WelcomeMessage is sent after a volunteer registers.
func WelcomeMessage(firstName string) (string, string) {
	body := fmt.Sprintf("Hello %s,\n\n"+
		"Welcome to VolunteerSync! Your account has been successfully created.\n\n"+
		"You can now log in and start exploring volunteer opportunities.\n\n%s", firstName, signature)
	return subjectWelcome, body
}
