package followup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zaimline/funnelbot/internal/content"
	"github.com/zaimline/funnelbot/internal/models"
	"github.com/zaimline/funnelbot/internal/store"
	"github.com/zaimline/funnelbot/internal/util"
)

// Stage couples a content key with its elapsed-time threshold.
type Stage struct {
	Name  string
	After time.Duration
}

// Stages is the fixed follow-up sequence, in send order. A user's message
// status indexes into it: status n means stages [0,n) have been sent.
var Stages = [models.MaxMessageStatus]Stage{
	{Name: content.Stage5Min, After: 5 * time.Minute},
	{Name: content.Stage15Min, After: 15 * time.Minute},
	{Name: content.Stage24H, After: 24 * time.Hour},
	{Name: content.Stage30H, After: 30 * time.Hour},
}

// MaxJitter is the upper bound of the random delay before a due send.
const MaxJitter = 15 * time.Second

// Engine sweeps the registry once per tick and sends due follow-ups.
type Engine struct {
	registry store.Registry
	content  *content.Provider
	send     func(ctx context.Context, chatID int64, text string) (int, error)
	timer    Timer
	now      func() time.Time
	jitter   func() time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTimer overrides the deferred-send timer.
func WithTimer(t Timer) EngineOption {
	return func(e *Engine) { e.timer = t }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithJitter overrides the jitter source.
func WithJitter(jitter func() time.Duration) EngineOption {
	return func(e *Engine) { e.jitter = jitter }
}

// NewEngine creates a follow-up engine. send delivers a plain text message
// to a user's chat and returns the message id.
func NewEngine(registry store.Registry, provider *content.Provider, send func(ctx context.Context, chatID int64, text string) (int, error), opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		content:  provider,
		send:     send,
		timer:    NewSimpleTimer(),
		now:      time.Now,
		jitter:   func() time.Duration { return util.Jitter(MaxJitter) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sweep runs one scheduling pass: it fetches pending users, arms a jittered
// deferred send for each user whose next stage is due, and returns without
// waiting for the sends. A user advances at most one stage per sweep even
// when several thresholds have already elapsed.
func (e *Engine) Sweep(ctx context.Context) {
	users, err := e.registry.ListPendingFollowUps(ctx)
	if err != nil {
		slog.Error("Sweep failed to list pending users", "error", err)
		return
	}

	now := e.now()
	scheduled := 0
	for _, u := range users {
		stage, next, due := dueStage(u, now)
		if !due {
			continue
		}
		delay := e.jitter()
		user := u
		if _, err := e.timer.ScheduleAfter(delay, func() {
			e.deliver(context.Background(), user, stage, next)
		}); err != nil {
			slog.Error("Sweep failed to arm send", "error", err, "userID", u.ID, "stage", stage.Name)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		slog.Info("Sweep scheduled follow-ups", "pending", len(users), "scheduled", scheduled)
	}
}

// dueStage returns the next stage for the user and whether its threshold
// has elapsed. Only the stage indexed by the current status is considered,
// which is what limits catch-up to one stage per sweep.
func dueStage(u models.RegisteredUser, now time.Time) (Stage, int, bool) {
	if u.MessageStatus < 0 || u.MessageStatus >= len(Stages) {
		return Stage{}, 0, false
	}
	stage := Stages[u.MessageStatus]
	if now.Sub(u.CreatedAt) < stage.After {
		return Stage{}, 0, false
	}
	return stage, u.MessageStatus + 1, true
}

// deliver sends one follow-up and then persists the advanced status. The
// status write strictly follows a successful send, so a failed send leaves
// the user eligible for the next sweep; a crash in between may duplicate
// one message after restart, which is accepted.
func (e *Engine) deliver(ctx context.Context, u models.RegisteredUser, stage Stage, next int) {
	sc, ok := e.content.Bundle().FollowUps[stage.Name]
	if !ok {
		slog.Error("No content for follow-up stage", "stage", stage.Name, "userID", u.ID)
		return
	}

	// Best-effort addressing; an unknown name substitutes to empty.
	text := strings.ReplaceAll(sc.Text, "{name}", u.Alias)
	if sc.Link != "" {
		text = text + "\n\n" + sc.Link
	}

	if _, err := e.send(ctx, u.ID, text); err != nil {
		slog.Error("Follow-up send failed", "error", err, "userID", u.ID, "stage", stage.Name)
		return
	}

	affected, err := e.registry.AdvanceStatus(ctx, u.ID, next)
	if err != nil {
		slog.Error("Follow-up status advance failed", "error", err, "userID", u.ID, "status", next)
		return
	}
	if !affected {
		slog.Warn("Follow-up status advance affected no rows", "userID", u.ID, "status", next)
		return
	}
	slog.Info("Follow-up sent", "userID", u.ID, "stage", stage.Name, "status", next)
}

// Stop cancels pending deferred sends (used on shutdown).
func (e *Engine) Stop() {
	e.timer.Stop()
}
