// Package telegram is the Telegram front-end of the chat service. BotService
// turns bot updates into matching and room operations; Notifier delivers
// room events and partner messages back to Telegram chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"tastechat/backend/internal/localization"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Label string
	Data  string
}

// Outgoing is a text message for one chat, optionally with one row of buttons.
type Outgoing struct {
	ChatID  int64
	Text    string
	Buttons []Button
}

// Sender is the slice of the Bot API the front-end needs.
type Sender interface {
	Send(out Outgoing) error
	AnswerCallback(callbackID string) error
}

// BotSender talks to the real Bot API.
type BotSender struct {
	api *tgbotapi.BotAPI
}

// Connect authorizes the bot token.
func Connect(token string, logger zerolog.Logger) (*BotSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization failed: %w", err)
	}
	api.Debug = false
	logger.Info().Str("account", api.Self.UserName).Msg("telegram bot authorized")
	return &BotSender{api: api}, nil
}

func (b *BotSender) Send(out Outgoing) error {
	msg := tgbotapi.NewMessage(out.ChatID, out.Text)
	if len(out.Buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(out.Buttons))
		for _, btn := range out.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
	}
	_, err := b.api.Send(msg)
	return err
}

func (b *BotSender) AnswerCallback(callbackID string) error {
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// Updates starts long polling.
func (b *BotSender) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	return b.api.GetUpdatesChan(u)
}

// StopUpdates ends long polling and closes the updates channel.
func (b *BotSender) StopUpdates() {
	b.api.StopReceivingUpdates()
}

// Notifier delivers room traffic to members that came in through Telegram.
// Users without a Telegram id are skipped, as is the echo of a member's own
// text message.
type Notifier struct {
	sender      Sender
	users       storage.UserRepository
	localizer   *localization.Localizer
	defaultLang string
	logger      zerolog.Logger
}

func NewNotifier(sender Sender, users storage.UserRepository, localizer *localization.Localizer, defaultLang string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:      sender,
		users:       users,
		localizer:   localizer,
		defaultLang: defaultLang,
		logger:      logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

func (n *Notifier) Notify(ctx context.Context, userIDs []string, msg models.ChatMessage) error {
	var errs []error
	for _, userID := range userIDs {
		if msg.Type == models.MessageTypeText && msg.SenderID == userID {
			continue
		}

		user, err := n.users.GetUserByID(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if user.TelegramID == "" {
			continue
		}
		chatID, err := strconv.ParseInt(user.TelegramID, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s has malformed telegram id: %w", userID, err))
			continue
		}

		if err := n.sender.Send(Outgoing{ChatID: chatID, Text: n.render(user, msg)}); err != nil {
			n.logger.Warn().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("telegram delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) render(user *models.User, msg models.ChatMessage) string {
	switch msg.Type {
	case models.MessageTypeText, models.MessageTypeError:
		return msg.Content
	}
	lang := languageOf(user, n.defaultLang)
	if text := n.localizer.GetString(lang, msg.Type); text != msg.Type {
		return text
	}
	return msg.Content
}

func languageOf(user *models.User, fallback string) string {
	if user != nil && user.Language != "" {
		return user.Language
	}
	return fallback
}
