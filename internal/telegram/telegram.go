// Package telegram adapts the Telegram Bot API to the funnel's Messenger
// interface and runs the long-polling update loop.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zaimline/funnelbot/internal/funnel"
	"github.com/zaimline/funnelbot/internal/models"
)

// Bot wraps a Telegram bot connection. It implements funnel.Messenger.
type Bot struct {
	api *tgbotapi.BotAPI
}

// Opts holds the configuration for a Bot.
type Opts struct {
	Token string
	Debug bool
}

// Option configures a Bot.
type Option func(*Opts)

// WithToken sets the bot API token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithDebug enables the library's request tracing.
func WithDebug(debug bool) Option {
	return func(o *Opts) { o.Debug = debug }
}

// NewBot authenticates against the Telegram API.
func NewBot(opts ...Option) (*Bot, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate bot: %w", err)
	}
	api.Debug = cfg.Debug
	slog.Info("Telegram bot authenticated", "username", api.Self.UserName)
	return &Bot{api: api}, nil
}

// SendText sends a text message with an optional inline keyboard.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string, keyboard [][]funnel.Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := inlineMarkup(keyboard); markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return sent.MessageID, nil
}

// SendPhoto sends a local image with a caption and an optional inline keyboard.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, imagePath, caption string, keyboard [][]funnel.Button) (int, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(imagePath))
	photo.Caption = caption
	if markup := inlineMarkup(keyboard); markup != nil {
		photo.ReplyMarkup = markup
	}
	sent, err := b.api.Send(photo)
	if err != nil {
		return 0, fmt.Errorf("failed to send photo: %w", err)
	}
	return sent.MessageID, nil
}

// DeleteMessage removes a previously sent message from the chat.
func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query so the client stops the
// loading spinner.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// SendPlainText sends a bare text message. The follow-up engine uses it as
// its delivery function; for direct chats the chat id equals the user id.
func (b *Bot) SendPlainText(ctx context.Context, chatID int64, text string) (int, error) {
	return b.SendText(ctx, chatID, text, nil)
}

// Run consumes the long-polling update stream and dispatches each update to
// the machine until the context is cancelled.
func (b *Bot) Run(ctx context.Context, machine *funnel.Machine) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	slog.Info("Update loop started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			slog.Info("Update loop stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, machine, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, machine *funnel.Machine, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		machine.HandleMessage(ctx, funnel.Message{
			From:   identity(update.Message.From),
			ChatID: update.Message.Chat.ID,
			Text:   update.Message.Text,
		})
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil {
			slog.Warn("Callback without origin message", "callbackID", cb.ID)
			return
		}
		machine.HandleCallback(ctx, funnel.Callback{
			ID:        cb.ID,
			From:      identity(cb.From),
			ChatID:    cb.Message.Chat.ID,
			MessageID: cb.Message.MessageID,
			Data:      cb.Data,
		})
	}
}

func identity(u *tgbotapi.User) models.Identity {
	if u == nil {
		return models.Identity{}
	}
	return models.Identity{
		ID:        u.ID,
		Alias:     u.UserName,
		FirstName: u.FirstName,
	}
}

// inlineMarkup converts funnel buttons into a Telegram inline keyboard.
// Buttons with a URL open it; the rest emit callback data.
func inlineMarkup(keyboard [][]funnel.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Label, btn.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
