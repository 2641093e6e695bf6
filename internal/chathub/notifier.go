package chathub

import (
	"context"
	"errors"

	"tastechat/backend/internal/models"
)

// Notifier delivers events and chat messages to users. Delivery is
// best effort: the core logs Notify errors and carries on.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, msg models.ChatMessage) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userIDs []string, msg models.ChatMessage) error

func (f NotifierFunc) Notify(ctx context.Context, userIDs []string, msg models.ChatMessage) error {
	return f(ctx, userIDs, msg)
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, userIDs []string, msg models.ChatMessage) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, userIDs, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, []string, models.ChatMessage) error { return nil }

// Default event texts. Front-ends may localize by message type.
const (
	textMatchFound   = "You have a new partner. Say hi!"
	textMatchTimeout = "Nobody matched your taste in time. Try again later."
	textIdleWarning  = "This chat has been quiet for a while and will close soon."
	textRoomClosed   = "The chat is closed."
	textPartnerLeft  = "Your partner has left the chat."
)
