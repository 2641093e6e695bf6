package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/complaint"
	"tastechat/backend/internal/localization"
	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	langCallbackPrefix = "set_lang_"
	maxInterests       = 20
)

// Services are the chat subsystems the bot drives.
type Services struct {
	Users      storage.UserRepository
	Matcher    *chathub.MatcherService
	Rooms      *chathub.Registry
	Complaints *complaint.Service
	Localizer  *localization.Localizer
	// DefaultLanguage is used for users who never picked one.
	DefaultLanguage string
}

// BotService handles Telegram updates.
type BotService struct {
	sender Sender
	Services
	logger zerolog.Logger
	now    func() time.Time
}

func NewBotService(sender Sender, services Services, logger zerolog.Logger) *BotService {
	if services.DefaultLanguage == "" {
		services.DefaultLanguage = localization.DefaultLanguage
	}
	return &BotService{
		sender:   sender,
		Services: services,
		logger:   logger.With().Str("component", "telegram_bot").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for retry hints.
func (s *BotService) SetClock(now func() time.Time) {
	s.now = now
}

// Run consumes updates until ctx is cancelled or the channel closes.
func (s *BotService) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	s.logger.Info().Msg("telegram bot listening for updates")
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches a single update. A panic in a handler is logged
// and does not stop the loop.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("telegram update handler panicked")
		}
	}()

	switch {
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.TelegramUpdates.WithLabelValues("callback").Inc()
		s.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (s *BotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	user, err := s.Users.SaveUserIfNotExists(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to resolve telegram user")
		s.reply(chatID, s.text(nil, "error_generic"))
		return
	}

	if msg.IsCommand() {
		metrics.TelegramUpdates.WithLabelValues("command").Inc()
		s.handleCommand(ctx, chatID, user, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
		return
	}

	if msg.Text == "" {
		metrics.TelegramUpdates.WithLabelValues("unsupported").Inc()
		s.reply(chatID, s.text(user, "unsupported_message"))
		return
	}

	metrics.TelegramUpdates.WithLabelValues("text").Inc()
	s.handleText(ctx, chatID, user, msg.Text)
}

func (s *BotService) handleCommand(ctx context.Context, chatID int64, user *models.User, command, args string) {
	switch command {
	case "start":
		s.reply(chatID, s.text(user, "welcome"))
	case "help":
		s.reply(chatID, s.text(user, "help"))
	case "search":
		s.handleSearch(ctx, chatID, user)
	case "stop":
		s.handleStop(ctx, chatID, user)
	case "next":
		s.handleNext(ctx, chatID, user)
	case "status":
		s.handleStatus(ctx, chatID, user)
	case "interests":
		s.handleInterests(ctx, chatID, user, args)
	case "language":
		s.handleLanguage(ctx, chatID, user, args)
	case "report":
		s.handleReport(ctx, chatID, user, args)
	default:
		s.reply(chatID, s.text(user, "help"))
	}
}

func (s *BotService) handleSearch(ctx context.Context, chatID int64, user *models.User) {
	status, err := s.Matcher.RequestMatching(ctx, user.ID)
	if err != nil {
		s.replyError(chatID, user, err)
		return
	}
	// A match notifies both members through the notifier.
	if status.State == chathub.StateWaiting {
		s.reply(chatID, s.text(user, "searching"))
	}
}

func (s *BotService) handleStop(ctx context.Context, chatID int64, user *models.User) {
	wasWaiting := s.Matcher.GetMatchingStatus(ctx, user.ID).State == chathub.StateWaiting
	if err := s.Matcher.EndMatch(ctx, user.ID); err != nil {
		s.replyError(chatID, user, err)
		return
	}
	if wasWaiting {
		s.reply(chatID, s.text(user, "search_cancelled"))
	}
}

func (s *BotService) handleNext(ctx context.Context, chatID int64, user *models.User) {
	if err := s.Matcher.EndMatch(ctx, user.ID); err != nil && !errors.Is(err, chathub.ErrNoActiveMatch) {
		s.replyError(chatID, user, err)
		return
	}
	s.handleSearch(ctx, chatID, user)
}

func (s *BotService) handleStatus(ctx context.Context, chatID int64, user *models.User) {
	status := s.Matcher.GetMatchingStatus(ctx, user.ID)
	switch status.State {
	case chathub.StateWaiting:
		s.reply(chatID, s.format(user, "status_waiting", status.WaitingSeconds))
	case chathub.StateChatting:
		s.reply(chatID, s.text(user, "status_chatting"))
	default:
		s.reply(chatID, s.text(user, "status_idle"))
	}
}

func (s *BotService) handleInterests(ctx context.Context, chatID int64, user *models.User, args string) {
	interests := ParseInterests(args)
	if len(interests) == 0 {
		s.reply(chatID, s.text(user, "interests_usage"))
		return
	}
	user.Interests = interests
	if err := s.Users.UpdateUser(ctx, user); err != nil {
		s.replyError(chatID, user, err)
		return
	}
	s.reply(chatID, s.format(user, "interests_saved", strings.Join(interests, ", ")))
}

// ParseInterests splits a comma separated list into lowercase unique tags.
func ParseInterests(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.Join(strings.Fields(part), " "))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxInterests {
			break
		}
	}
	return out
}

func (s *BotService) handleLanguage(ctx context.Context, chatID int64, user *models.User, args string) {
	if args == "" {
		var buttons []Button
		for _, lang := range s.Localizer.Languages() {
			buttons = append(buttons, Button{Label: strings.ToUpper(lang), Data: langCallbackPrefix + lang})
		}
		s.send(Outgoing{
			ChatID:  chatID,
			Text:    s.format(user, "language_usage", strings.Join(s.Localizer.Languages(), "|")),
			Buttons: buttons,
		})
		return
	}
	s.setLanguage(ctx, chatID, user, strings.ToLower(args))
}

func (s *BotService) setLanguage(ctx context.Context, chatID int64, user *models.User, lang string) {
	if !s.Localizer.Supports(lang) {
		s.reply(chatID, s.format(user, "language_usage", strings.Join(s.Localizer.Languages(), "|")))
		return
	}
	user.Language = lang
	if err := s.Users.UpdateUser(ctx, user); err != nil {
		s.replyError(chatID, user, err)
		return
	}
	s.reply(chatID, s.text(user, "language_changed"))
}

func (s *BotService) handleReport(ctx context.Context, chatID int64, user *models.User, reason string) {
	if reason == "" {
		s.reply(chatID, s.text(user, "report_usage"))
		return
	}
	room, ok := s.Rooms.GetUserChatRoom(ctx, user.ID)
	if !ok {
		s.reply(chatID, s.text(user, "not_in_chat"))
		return
	}
	if _, err := s.Complaints.FileComplaint(ctx, user.ID, room.RoomID, reason); err != nil {
		if errors.Is(err, complaint.ErrReasonTooLong) || errors.Is(err, complaint.ErrEmptyReason) {
			s.reply(chatID, s.text(user, "report_usage"))
			return
		}
		s.replyError(chatID, user, err)
		return
	}
	s.reply(chatID, s.text(user, "report_submitted"))
}

func (s *BotService) handleText(ctx context.Context, chatID int64, user *models.User, text string) {
	room, ok := s.Rooms.GetUserChatRoom(ctx, user.ID)
	if !ok {
		s.reply(chatID, s.text(user, "not_in_chat"))
		return
	}
	if _, err := s.Rooms.SendMessage(ctx, room.RoomID, user.ID, text); err != nil {
		s.replyError(chatID, user, err)
	}
}

func (s *BotService) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if err := s.sender.AnswerCallback(query.ID); err != nil {
		s.logger.Warn().Err(err).Msg("failed to answer callback query")
	}
	if query.From == nil {
		return
	}

	chatID := query.From.ID
	user, err := s.Users.SaveUserIfNotExists(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to resolve telegram user")
		return
	}

	if lang, ok := strings.CutPrefix(query.Data, langCallbackPrefix); ok {
		s.setLanguage(ctx, chatID, user, lang)
	}
}

// replyError maps a chat error to a localized reply.
func (s *BotService) replyError(chatID int64, user *models.User, err error) {
	var throttled *ratelimit.ThrottleError
	switch {
	case errors.As(err, &throttled):
		wait := int64(math.Ceil(throttled.ResetAt.Sub(s.now()).Seconds()))
		if wait < 1 {
			wait = 1
		}
		s.reply(chatID, s.format(user, "rate_limited", wait))
	case errors.Is(err, chathub.ErrAlreadyQueued):
		s.reply(chatID, s.text(user, "already_searching"))
	case errors.Is(err, chathub.ErrAlreadyMatched), errors.Is(err, chathub.ErrAlreadyInRoom):
		s.reply(chatID, s.text(user, "already_chatting"))
	case errors.Is(err, chathub.ErrNoActiveMatch), errors.Is(err, chathub.ErrNotWaiting):
		s.reply(chatID, s.text(user, "nothing_to_stop"))
	case errors.Is(err, chathub.ErrNotMember), errors.Is(err, chathub.ErrRoomClosed):
		s.reply(chatID, s.text(user, "not_in_chat"))
	case chathub.Kind(err) == chathub.KindValidation:
		s.reply(chatID, s.text(user, "message_rejected"))
	default:
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("telegram request failed")
		s.reply(chatID, s.text(user, "error_generic"))
	}
}

func (s *BotService) text(user *models.User, key string) string {
	return s.Localizer.GetString(languageOf(user, s.DefaultLanguage), key)
}

func (s *BotService) format(user *models.User, key string, args ...any) string {
	return fmt.Sprintf(s.text(user, key), args...)
}

func (s *BotService) reply(chatID int64, text string) {
	s.send(Outgoing{ChatID: chatID, Text: text})
}

func (s *BotService) send(out Outgoing) {
	if err := s.sender.Send(out); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", out.ChatID).Msg("failed to send telegram message")
	}
}
