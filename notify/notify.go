// Package notify delivers one-time codes to users. The authentication core
// only depends on the Sender interface; SMTP and log-based senders are
// provided as adapters, and Dispatcher moves delivery off the request path.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Purpose names why a code was sent.
type Purpose string

const (
	// PurposePasswordReset marks password reset codes.
	PurposePasswordReset Purpose = "password_reset"
)

// Code is one delivery: the plaintext value and how long it stays valid.
type Code struct {
	Purpose Purpose
	Value   string
	TTL     time.Duration
}

// Sender delivers a code to an address. Implementations must not log the code
// at production log levels.
type Sender interface {
	Send(ctx context.Context, address string, code Code) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, address string, code Code) error

func (f SenderFunc) Send(ctx context.Context, address string, code Code) error {
	return f(ctx, address, code)
}

// Message is the rendered content for one delivery.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Render builds the message for code. Unknown purposes get a generic body.
func Render(product string, code Code) Message {
	if product == "" {
		product = "your account"
	}
	expiry := ""
	if code.TTL > 0 {
		expiry = "The code expires in " + humanDuration(code.TTL) + ". "
	}
	switch code.Purpose {
	case PurposePasswordReset:
		return Message{
			Subject: "Your password reset code",
			Text: fmt.Sprintf("Use code %s to reset the password for %s. "+
				"%sIf you did not ask for it, ignore this email.", code.Value, product, expiry),
			HTML: fmt.Sprintf("<p>Use code <strong>%s</strong> to reset the password for %s.</p>"+
				"<p>%sIf you did not ask for it, ignore this email.</p>", code.Value, product, expiry),
		}
	default:
		return Message{
			Subject: "Your verification code",
			Text:    fmt.Sprintf("Your verification code is %s. %s", code.Value, expiry),
			HTML:    fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>%s</p>", code.Value, expiry),
		}
	}
}

// humanDuration renders d in whole minutes, or seconds below one minute.
func humanDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int(d.Round(time.Second) / time.Second)
		if secs <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
