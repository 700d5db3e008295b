// Package funnel implements the questionnaire conversation state machine:
// welcome, loan amount, credit history, final offer link, plus the static
// informational commands.
package funnel

import (
	"context"

	"github.com/zaimline/funnelbot/internal/models"
)

// Callback payloads of the funnel buttons.
const (
	ActionBegin  = "start_questionnaire"
	ActionBack   = "back_to_amount"
	PrefixAmount = "amount_"
	PrefixCredit = "credit_"
	PrefixNav    = "nav_"
)

// InfoCommands are the state-independent informational commands. Each is
// reachable as a slash command and as a nav_ button.
var InfoCommands = []string{"day", "week", "how", "all", "insurance"}

// Button is one inline keyboard button. Data and URL are mutually exclusive:
// Data produces a callback button, URL a link button.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Messenger is the reply channel the funnel speaks through. The Telegram
// transport implements it; tests use a mock.
type Messenger interface {
	// SendText sends a text message and returns the new message id.
	SendText(ctx context.Context, chatID int64, text string, keyboard [][]Button) (int, error)
	// SendPhoto sends an image with a caption and returns the new message id.
	SendPhoto(ctx context.Context, chatID int64, imagePath, caption string, keyboard [][]Button) (int, error)
	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// AnswerCallback acknowledges a callback query.
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Message is an inbound text or command update.
type Message struct {
	From   models.Identity
	ChatID int64
	Text   string
}

// Callback is an inbound button press.
type Callback struct {
	ID        string
	From      models.Identity
	ChatID    int64
	MessageID int
	Data      string
}
