package funnel

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zaimline/funnelbot/internal/attribution"
	"github.com/zaimline/funnelbot/internal/content"
	"github.com/zaimline/funnelbot/internal/models"
	"github.com/zaimline/funnelbot/internal/session"
	"github.com/zaimline/funnelbot/internal/store"
	"github.com/zaimline/funnelbot/internal/tracking"
)

// Machine drives the funnel. Tracking and the user registry are optional
// collaborators chosen at composition time; the conversation logic is one
// code path either way.
type Machine struct {
	content   *content.Provider
	sessions  *session.Manager
	links     *attribution.Builder
	messenger Messenger
	registry  store.Registry
	tracker   *tracking.Client
	imageDir  string
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithRegistry wires the durable user registry.
func WithRegistry(r store.Registry) MachineOption {
	return func(m *Machine) { m.registry = r }
}

// WithTracker wires the outbound tracking client.
func WithTracker(t *tracking.Client) MachineOption {
	return func(m *Machine) { m.tracker = t }
}

// WithImageDir sets the directory configured image paths resolve against.
func WithImageDir(dir string) MachineOption {
	return func(m *Machine) { m.imageDir = dir }
}

// NewMachine creates the funnel state machine.
func NewMachine(provider *content.Provider, sessions *session.Manager, links *attribution.Builder, messenger Messenger, opts ...MachineOption) *Machine {
	m := &Machine{
		content:   provider,
		sessions:  sessions,
		links:     links,
		messenger: messenger,
	}
	for _, opt := range opts {
		opt(m)
	}
	slog.Debug("Funnel machine created", "registry", m.registry != nil, "tracker", m.tracker != nil)
	return m
}

// HandleMessage processes an inbound text update.
func (m *Machine) HandleMessage(ctx context.Context, msg Message) {
	defer m.recoverPanic(ctx, msg.ChatID)
	slog.Debug("HandleMessage", "userID", msg.From.ID, "text_length", len(msg.Text))

	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		m.replyUnknown(ctx, msg.From, msg.ChatID)
		return
	}

	switch cmd := fields[0]; cmd {
	case "/start":
		payload := ""
		if len(fields) > 1 {
			payload = fields[1]
		}
		m.handleStart(ctx, msg.From, msg.ChatID, payload)
	case "/day", "/week", "/how", "/all", "/insurance":
		m.handleInfo(ctx, msg.From, msg.ChatID, strings.TrimPrefix(cmd, "/"))
	default:
		m.replyUnknown(ctx, msg.From, msg.ChatID)
	}
}

// HandleCallback processes an inbound button press.
func (m *Machine) HandleCallback(ctx context.Context, cb Callback) {
	defer m.recoverPanic(ctx, cb.ChatID)
	slog.Debug("HandleCallback", "userID", cb.From.ID, "data", cb.Data)

	if err := m.messenger.AnswerCallback(ctx, cb.ID); err != nil {
		// An expired query is routine after long inactivity.
		if strings.Contains(err.Error(), "query is too old") {
			slog.Debug("Callback ack expired", "userID", cb.From.ID)
		} else {
			slog.Warn("Callback ack failed", "error", err, "userID", cb.From.ID)
		}
	}

	switch {
	case cb.Data == ActionBegin:
		m.handleBegin(ctx, cb.From, cb.ChatID)
	case cb.Data == ActionBack:
		m.handleBack(ctx, cb.From, cb.ChatID)
	case strings.HasPrefix(cb.Data, PrefixAmount):
		m.handleAmount(ctx, cb.From, cb.ChatID, strings.TrimPrefix(cb.Data, PrefixAmount))
	case strings.HasPrefix(cb.Data, PrefixCredit):
		m.handleCredit(ctx, cb.From, cb.ChatID, strings.TrimPrefix(cb.Data, PrefixCredit))
	case strings.HasPrefix(cb.Data, PrefixNav):
		m.handleInfo(ctx, cb.From, cb.ChatID, strings.TrimPrefix(cb.Data, PrefixNav))
	default:
		m.replyUnknown(ctx, cb.From, cb.ChatID)
	}
}

// handleStart initializes the conversation, captures deep-link attribution
// and presents the welcome screen.
func (m *Machine) handleStart(ctx context.Context, id models.Identity, chatID int64, payload string) {
	m.registerSeen(ctx, id)

	_, err := m.sessions.Update(ctx, id.ID, func(c *models.Conversation) {
		attribution.ApplyPayload(c, payload)
		c.Step = models.StepIdle
	})
	if err != nil {
		slog.Error("handleStart session update failed", "error", err, "userID", id.ID)
		return
	}
	if _, err := m.sessions.EnsureInitialized(ctx, id.ID, id.Subject()); err != nil {
		slog.Error("handleStart initialization failed", "error", err, "userID", id.ID)
		return
	}
	slog.Info("Funnel started", "userID", id.ID, "payload_set", payload != "")

	welcome := m.content.Bundle().Welcome
	kb := [][]Button{{{Label: welcome.Button, Data: ActionBegin}}}
	m.reply(ctx, id, chatID, welcome.Text, welcome.Image, kb)
}

// handleBegin moves the user to the amount question.
func (m *Machine) handleBegin(ctx context.Context, id models.Identity, chatID int64) {
	conv, err := m.sessions.Update(ctx, id.ID, func(c *models.Conversation) {
		c.Step = models.StepAwaitingAmount
	})
	if err != nil {
		slog.Error("handleBegin session update failed", "error", err, "userID", id.ID)
		return
	}
	m.track(conv, id.ID, ActionBegin)
	m.presentAmounts(ctx, id, chatID)
}

// handleBack re-enters the amount question from the credit question.
func (m *Machine) handleBack(ctx context.Context, id models.Identity, chatID int64) {
	if _, err := m.sessions.Update(ctx, id.ID, func(c *models.Conversation) {
		c.Step = models.StepAwaitingAmount
	}); err != nil {
		slog.Error("handleBack session update failed", "error", err, "userID", id.ID)
		return
	}
	m.presentAmounts(ctx, id, chatID)
}

// handleAmount records the selected amount and presents the credit question.
func (m *Machine) handleAmount(ctx context.Context, id models.Identity, chatID int64, value string) {
	conv, err := m.sessions.Update(ctx, id.ID, func(c *models.Conversation) {
		c.LoanAmount = value
		c.Step = models.StepAwaitingCredit
	})
	if err != nil {
		slog.Error("handleAmount session update failed", "error", err, "userID", id.ID)
		return
	}

	bundle := m.content.Bundle()
	label := trackLabelFor(bundle.Amounts.Options, value)
	if label == "" {
		label = PrefixAmount + value
	}
	m.track(conv, id.ID, label)

	var rows [][]Button
	for _, opt := range bundle.Credit.Options {
		rows = append(rows, []Button{{Label: opt.Label, Data: PrefixCredit + string(opt.Value)}})
	}
	back := bundle.Credit.BackLabel
	if back == "" {
		back = "Back"
	}
	rows = append(rows, []Button{{Label: back, Data: ActionBack}})
	m.reply(ctx, id, chatID, bundle.Credit.Text, bundle.Credit.Image, rows)
}

// handleCredit records the credit history and presents the final offer link.
func (m *Machine) handleCredit(ctx context.Context, id models.Identity, chatID int64, value string) {
	conv, err := m.sessions.Update(ctx, id.ID, func(c *models.Conversation) {
		c.CreditHistory = value
		c.Step = models.StepCompleted
	})
	if err != nil {
		slog.Error("handleCredit session update failed", "error", err, "userID", id.ID)
		return
	}

	bundle := m.content.Bundle()
	trackLabel := trackLabelFor(bundle.Credit.Options, value)
	if trackLabel == "" {
		trackLabel = PrefixCredit + value
	}
	m.track(conv, id.ID, trackLabel)

	// The addinfo override is the button's configured label, not the raw
	// history value. Without a captured subject the user gets the plain
	// configured link instead of a tracking one.
	link := bundle.Offer.Link
	if conv.Subject != "" {
		if built := m.links.UserLink(bundle.Offer.Link, id, conv, labelFor(bundle.Credit.Options, value)); built != "" {
			link = built
		}
	}
	slog.Info("Funnel completed", "userID", id.ID, "amount", conv.LoanAmount, "credit", value)

	var kb [][]Button
	if link != "" {
		kb = [][]Button{{{Label: bundle.Offer.Button, URL: link}}}
	}
	m.reply(ctx, id, chatID, bundle.Offer.Text, bundle.Offer.Image, kb)
}

// handleInfo serves a state-independent informational command.
func (m *Machine) handleInfo(ctx context.Context, id models.Identity, chatID int64, cmd string) {
	bundle := m.content.Bundle()
	screen, ok := bundle.Info[cmd]
	if !ok {
		slog.Debug("handleInfo unknown command", "cmd", cmd)
		m.replyUnknown(ctx, id, chatID)
		return
	}
	m.registerSeen(ctx, id)

	conv, err := m.sessions.EnsureInitialized(ctx, id.ID, id.Subject())
	if err != nil {
		slog.Error("handleInfo initialization failed", "error", err, "userID", id.ID)
		return
	}

	var rows [][]Button
	if screen.Link != "" {
		link := m.links.UserLink(screen.Link, id, conv, "")
		if link == "" {
			link = screen.Link
		}
		label := screen.Button
		if label == "" {
			label = link
		}
		rows = append(rows, []Button{{Label: label, URL: link}})
	}
	// Navigation to the other informational commands.
	var nav []Button
	for _, other := range InfoCommands {
		if other == cmd {
			continue
		}
		if _, exists := bundle.Info[other]; exists {
			nav = append(nav, Button{Label: "/" + other, Data: PrefixNav + other})
		}
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	m.reply(ctx, id, chatID, screen.Text, screen.Image, rows)
}

// replyUnknown answers any unrecognized input without touching the step.
func (m *Machine) replyUnknown(ctx context.Context, id models.Identity, chatID int64) {
	text := m.content.Bundle().Unknown
	if text == "" {
		text = "Please choose a command."
	}
	m.reply(ctx, id, chatID, text, "", nil)
}

// presentAmounts shows the amount menu.
func (m *Machine) presentAmounts(ctx context.Context, id models.Identity, chatID int64) {
	bundle := m.content.Bundle()
	var rows [][]Button
	for _, opt := range bundle.Amounts.Options {
		rows = append(rows, []Button{{Label: opt.Label, Data: PrefixAmount + string(opt.Value)}})
	}
	m.reply(ctx, id, chatID, bundle.Amounts.Text, bundle.Amounts.Image, rows)
}

// reply deletes the previously delivered message (best-effort), sends the
// new one (photo when the configured image exists, text otherwise) and
// records the new message id for the next cleanup.
func (m *Machine) reply(ctx context.Context, id models.Identity, chatID int64, text, image string, keyboard [][]Button) {
	conv, err := m.sessions.GetOrCreate(ctx, id.ID)
	if err == nil && conv.LastMessageID != 0 {
		if derr := m.messenger.DeleteMessage(ctx, chatID, conv.LastMessageID); derr != nil {
			slog.Debug("Previous message deletion failed", "error", derr, "chatID", chatID, "messageID", conv.LastMessageID)
		}
	}

	var msgID int
	if path, ok := m.imagePath(image); ok {
		msgID, err = m.messenger.SendPhoto(ctx, chatID, path, text, keyboard)
	} else {
		msgID, err = m.messenger.SendText(ctx, chatID, text, keyboard)
	}
	if err != nil {
		slog.Error("Reply send failed", "error", err, "chatID", chatID)
		return
	}
	if rerr := m.sessions.RecordDelivery(ctx, id.ID, msgID); rerr != nil {
		slog.Error("Delivery recording failed", "error", rerr, "userID", id.ID)
	}
}

// imagePath resolves a configured relative image path, reporting whether the
// file exists. A missing file degrades the reply to text-only.
func (m *Machine) imagePath(image string) (string, bool) {
	if image == "" {
		return "", false
	}
	path := filepath.Join(m.imageDir, image)
	if _, err := os.Stat(path); err != nil {
		slog.Debug("Configured image not found, sending text only", "path", path)
		return "", false
	}
	return path, true
}

// track fires an attribution tracking call when a tracker is wired.
func (m *Machine) track(conv *models.Conversation, userID int64, note string) {
	if m.tracker == nil {
		return
	}
	m.tracker.Fire(m.links.TrackingLink(conv.Channel, conv.Subject, note, userID))
}

// registerSeen records the user in the durable registry when one is wired.
func (m *Machine) registerSeen(ctx context.Context, id models.Identity) {
	if m.registry == nil {
		return
	}
	if err := m.registry.UpsertSeen(ctx, id.ID, id.Alias); err != nil {
		slog.Error("User registration failed", "error", err, "userID", id.ID)
	}
}

// recoverPanic is the top-level guard: the user gets an apology and the
// process keeps serving everyone else.
func (m *Machine) recoverPanic(ctx context.Context, chatID int64) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("Handler panic recovered", "panic", r, "chatID", chatID)
	apology := m.content.Bundle().Apology
	if apology == "" {
		apology = "Something went wrong. Please try again."
	}
	if _, err := m.messenger.SendText(ctx, chatID, apology, nil); err != nil {
		slog.Error("Apology send failed", "error", err, "chatID", chatID)
	}
}

// trackLabelFor returns the attribution-safe label of the option whose value
// matches, comparing as strings because content files store values as
// numbers or strings interchangeably.
func trackLabelFor(options []content.MenuOption, value string) string {
	for _, opt := range options {
		if string(opt.Value) == value {
			if opt.TrackLabel != "" {
				return opt.TrackLabel
			}
			return opt.Label
		}
	}
	return ""
}

// labelFor returns the display label of the matching option, or the raw
// value when nothing matches.
func labelFor(options []content.MenuOption, value string) string {
	for _, opt := range options {
		if string(opt.Value) == value {
			return opt.Label
		}
	}
	return value
}
