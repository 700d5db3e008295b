// Package models defines the core data structures for FunnelBot.
//
// It includes the per-user conversation state, the persisted user record and
// the funnel step constants, which are shared across modules.
package models

import (
	"errors"
	"strconv"
	"time"
)

// FunnelStep identifies where a user currently is in the questionnaire.
type FunnelStep string

const (
	// StepIdle means the user has only seen the welcome screen.
	StepIdle FunnelStep = "idle"
	// StepAwaitingAmount means the amount menu is being shown.
	StepAwaitingAmount FunnelStep = "awaiting_amount"
	// StepAwaitingCredit means the credit-history menu is being shown.
	StepAwaitingCredit FunnelStep = "awaiting_credit"
	// StepCompleted means the user has received the final offer link.
	StepCompleted FunnelStep = "completed"
)

// MaxMessageStatus is the number of scheduled follow-up stages. A user whose
// MessageStatus has reached this value receives no further follow-ups.
const MaxMessageStatus = 4

// Error variables for better error handling and testability
var (
	ErrEmptyDSN       = errors.New("database DSN not set")
	ErrInvalidStatus  = errors.New("message status out of range")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Identity identifies a Telegram user on an inbound update.
// FirstName is display-only and never persisted.
type Identity struct {
	ID        int64  `json:"id"`
	Alias     string `json:"alias,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Subject returns the default attribution subject for the user: the alias
// when present, otherwise the stringified id.
func (i Identity) Subject() string {
	if i.Alias != "" {
		return i.Alias
	}
	return strconv.FormatInt(i.ID, 10)
}

// Conversation is the per-user in-process funnel state. It is created lazily
// on first interaction and mutated on every funnel step.
type Conversation struct {
	Step          FunnelStep `json:"step,omitempty"`
	LoanAmount    string     `json:"loan_amount,omitempty"`
	CreditHistory string     `json:"credit_history,omitempty"`

	// Channel is the "adid" attribution tag. The empty string is a valid,
	// meaningful value; Initialized distinguishes it from "never set".
	Channel string `json:"channel"`
	// Subject is the "sub2" tracking subject. Once set it is never unset.
	Subject string `json:"subject,omitempty"`
	// Note is the optional "addinfo" annotation from the deep link.
	Note string `json:"note,omitempty"`

	// Initialized reports that attribution defaults have been applied, so a
	// tracking call can be attempted even without a channel tag.
	Initialized bool `json:"initialized,omitempty"`

	// LastMessageID is the id of the most recent message delivered to the
	// user, kept for cleanup-by-deletion before the next send.
	LastMessageID int `json:"last_message_id,omitempty"`
}

// RegisteredUser is the durable record of a user seen by the bot.
type RegisteredUser struct {
	ID        int64     `json:"id"`
	Alias     string    `json:"alias,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// MessageStatus counts how many scheduled follow-ups have been sent.
	// It is monotone non-decreasing and only ever advances by one.
	MessageStatus int `json:"message_status"`
}
