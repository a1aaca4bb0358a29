// Package notify delivers messages to a per-owner notification destination.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Notifier sends an HTML-formatted message to a destination (a chat id).
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// Telegram sends via the shoutrrr telegram service.
type Telegram struct {
	token   string
	timeout time.Duration
}

// NewTelegram builds a Telegram notifier.
func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{token: token, timeout: timeout}, nil
}

// Send pushes one message to the given chat. The destination varies per
// project owner, so the sender is built per call.
func (t *Telegram) Send(_ context.Context, destination, message string) error {
	serviceURL := fmt.Sprintf("telegram://%s@telegram?chats=%s&parseMode=HTML&preview=yes",
		t.token, url.QueryEscape(destination))

	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return fmt.Errorf("create telegram sender: %w", err)
	}
	sender.Timeout = t.timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	for _, sendErr := range sender.Send(message, &stypes.Params{}) {
		if sendErr != nil {
			return fmt.Errorf("send telegram message: %w", sendErr)
		}
	}
	return nil
}

// Noop drops every message. Used when no notification channel is configured,
// e.g. in local development.
type Noop struct{}

// Send discards the message.
func (Noop) Send(context.Context, string, string) error { return nil }
