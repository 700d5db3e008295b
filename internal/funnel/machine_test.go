package funnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zaimline/funnelbot/internal/attribution"
	"github.com/zaimline/funnelbot/internal/content"
	"github.com/zaimline/funnelbot/internal/models"
	"github.com/zaimline/funnelbot/internal/session"
	"github.com/zaimline/funnelbot/internal/store"
	"github.com/zaimline/funnelbot/internal/tracking"
)

func userIdentity(id int64) models.Identity {
	return models.Identity{ID: id, Alias: "alice_tg", FirstName: "Alice"}
}

const testContent = `{
	"welcome": {"text": "Hi!", "button": "Begin"},
	"amounts": {
		"text": "How much?",
		"options": [
			{"value": 5000, "label": "5 000", "track_label": "amount-5k"},
			{"value": "10000", "label": "10 000", "track_label": "amount-10k"}
		]
	},
	"credit": {
		"text": "Credit history?",
		"options": [
			{"value": "good", "label": "No delinquencies", "track_label": "credit-good"},
			{"value": "bad", "label": "Had issues"}
		],
		"back_label": "Back"
	},
	"offer": {"text": "Your offer", "link": "https://offers.example.com/go", "button": "Get money"},
	"info": {
		"day": {"text": "Offer of the day", "link": "https://offers.example.com/day", "button": "Open"},
		"week": {"text": "Offer of the week"}
	},
	"follow_ups": {},
	"unknown": "Choose a command",
	"apology": "Sorry, try again"
}`

type sentMessage struct {
	chatID   int64
	text     string
	image    string
	keyboard [][]Button
}

type mockMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	deleted []int
	acks    []string
	ackErr  error
	nextID  int
}

func (m *mockMessenger) SendText(ctx context.Context, chatID int64, text string, kb [][]Button) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text, keyboard: kb})
	return m.nextID, nil
}

func (m *mockMessenger) SendPhoto(ctx context.Context, chatID int64, imagePath, caption string, kb [][]Button) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: caption, image: imagePath, keyboard: kb})
	return m.nextID, nil
}

func (m *mockMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *mockMessenger) AnswerCallback(ctx context.Context, callbackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, callbackID)
	return m.ackErr
}

func (m *mockMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no message sent")
	}
	return m.sent[len(m.sent)-1]
}

type trackedHit struct {
	query url.Values
}

// testHarness wires a machine against a mock messenger and an httptest
// tracking endpoint.
type testHarness struct {
	machine   *Machine
	messenger *mockMessenger
	registry  *store.InMemoryRegistry
	hitsMu    sync.Mutex
	hits      []trackedHit
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{messenger: &mockMessenger{}, registry: store.NewInMemoryRegistry()}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hitsMu.Lock()
		h.hits = append(h.hits, trackedHit{query: r.URL.Query()})
		h.hitsMu.Unlock()
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "content.json")
	if err := os.WriteFile(path, []byte(testContent), 0o644); err != nil {
		t.Fatalf("failed to write content: %v", err)
	}
	provider, err := content.NewProvider(path)
	if err != nil {
		t.Fatalf("failed to load content: %v", err)
	}

	tracker := tracking.NewClient()
	t.Cleanup(tracker.Close)

	links := attribution.NewBuilder(attribution.WithTrackingBase(srv.URL))
	h.machine = NewMachine(provider, session.NewManager(session.NewLRUStore()), links, h.messenger,
		WithRegistry(h.registry), WithTracker(tracker))
	return h
}

func (h *testHarness) waitHits(t *testing.T, n int) []trackedHit {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.hitsMu.Lock()
		count := len(h.hits)
		h.hitsMu.Unlock()
		if count >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.hitsMu.Lock()
	defer h.hitsMu.Unlock()
	if len(h.hits) < n {
		t.Fatalf("expected %d tracking hits, got %d", n, len(h.hits))
	}
	return append([]trackedHit(nil), h.hits...)
}

func identity() (id int64, chat int64) { return 42, 42 }

func TestFullFunnelPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID, chatID := identity()
	from := userIdentity(userID)

	h.machine.HandleMessage(ctx, Message{From: from, ChatID: chatID, Text: "/start ch_promo1__sub2_alice"})
	welcome := h.messenger.last(t)
	if welcome.text != "Hi!" || welcome.keyboard[0][0].Data != ActionBegin {
		t.Fatalf("welcome screen wrong: %+v", welcome)
	}

	h.machine.HandleCallback(ctx, Callback{ID: "cb1", From: from, ChatID: chatID, Data: ActionBegin})
	amounts := h.messenger.last(t)
	if amounts.text != "How much?" || len(amounts.keyboard) != 2 {
		t.Fatalf("amount menu wrong: %+v", amounts)
	}
	if amounts.keyboard[0][0].Data != "amount_5000" {
		t.Errorf("amount button data = %q", amounts.keyboard[0][0].Data)
	}

	h.machine.HandleCallback(ctx, Callback{ID: "cb2", From: from, ChatID: chatID, Data: "amount_5000"})
	credit := h.messenger.last(t)
	if credit.text != "Credit history?" {
		t.Fatalf("credit menu wrong: %+v", credit)
	}
	backRow := credit.keyboard[len(credit.keyboard)-1]
	if backRow[0].Data != ActionBack {
		t.Errorf("missing back button: %+v", credit.keyboard)
	}

	h.machine.HandleCallback(ctx, Callback{ID: "cb3", From: from, ChatID: chatID, Data: "credit_good"})
	offer := h.messenger.last(t)
	if offer.text != "Your offer" {
		t.Fatalf("offer screen wrong: %+v", offer)
	}
	link, err := url.Parse(offer.keyboard[0][0].URL)
	if err != nil {
		t.Fatalf("offer link does not parse: %v", err)
	}
	q := link.Query()
	if q.Get("adid") != "promo1" || q.Get("sub2") != "alice" {
		t.Errorf("offer link attribution wrong: %v", q)
	}
	// The addinfo override is the credit button's configured label.
	if q.Get("addinfo") != "No delinquencies" {
		t.Errorf("addinfo = %q, want button label", q.Get("addinfo"))
	}

	hits := h.waitHits(t, 3)
	labels := map[string]bool{}
	for _, hit := range hits {
		labels[hit.query.Get("addinfo")] = true
		if hit.query.Get("adid") != "promo1" {
			t.Errorf("tracking adid = %q", hit.query.Get("adid"))
		}
	}
	for _, want := range []string{ActionBegin, "amount-5k", "credit-good"} {
		if !labels[want] {
			t.Errorf("missing tracking event %q (got %v)", want, labels)
		}
	}

	// Every reply after the first deletes its predecessor.
	h.messenger.mu.Lock()
	deleted := len(h.messenger.deleted)
	h.messenger.mu.Unlock()
	if deleted != 3 {
		t.Errorf("deleted %d previous messages, want 3", deleted)
	}
}

func TestUnmatchedAmountFallsBackToRawKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID, chatID := identity()
	from := userIdentity(userID)

	h.machine.HandleMessage(ctx, Message{From: from, ChatID: chatID, Text: "/start ch_x"})
	h.machine.HandleCallback(ctx, Callback{ID: "cb", From: from, ChatID: chatID, Data: "amount_7777"})

	hits := h.waitHits(t, 1)
	found := false
	for _, hit := range hits {
		if hit.query.Get("addinfo") == "amount_7777" {
			found = true
		}
	}
	if !found {
		t.Errorf("unmatched amount did not track raw key: %+v", hits)
	}
}

func TestBackReturnsToAmountMenu(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID, chatID := identity()
	from := userIdentity(userID)

	h.machine.HandleMessage(ctx, Message{From: from, ChatID: chatID, Text: "/start"})
	h.machine.HandleCallback(ctx, Callback{ID: "cb", From: from, ChatID: chatID, Data: ActionBegin})
	h.machine.HandleCallback(ctx, Callback{ID: "cb", From: from, ChatID: chatID, Data: "amount_5000"})
	h.machine.HandleCallback(ctx, Callback{ID: "cb", From: from, ChatID: chatID, Data: ActionBack})

	if got := h.messenger.last(t).text; got != "How much?" {
		t.Errorf("back did not re-present amount menu: %q", got)
	}
}

func TestUnknownTextLeavesStateAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID, chatID := identity()
	from := userIdentity(userID)

	h.machine.HandleMessage(ctx, Message{From: from, ChatID: chatID, Text: "hello there"})
	if got := h.messenger.last(t).text; got != "Choose a command" {
		t.Errorf("unknown input reply = %q", got)
	}
}

func TestInfoCommandRegistersUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID, chatID := identity()
	from := userIdentity(userID)

	h.machine.HandleMessage(ctx, Message{From: from, ChatID: chatID, Text: "/day"})
	msg := h.messenger.last(t)
	if msg.text != "Offer of the day" {
		t.Fatalf("info reply wrong: %+v", msg)
	}
	if msg.keyboard[0][0].URL == "" {
		t.Error("info reply missing link button")
	}

	users, err := h.registry.ListPendingFollowUps(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].ID != userID {
		t.Errorf("info command did not register user: %+v", users)
	}
}

func TestPlainLinkWithoutSubject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID, chatID := identity()
	from := userIdentity(userID)

	// Jump straight to the credit answer: no /start, so no subject captured.
	h.machine.HandleCallback(ctx, Callback{ID: "cb", From: from, ChatID: chatID, Data: "credit_bad"})
	offer := h.messenger.last(t)
	if offer.keyboard[0][0].URL != "https://offers.example.com/go" {
		t.Errorf("expected plain configured link, got %q", offer.keyboard[0][0].URL)
	}
}

func TestPanicProducesApology(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, chatID := identity()

	// First send panics, the apology goes through untouched.
	poisoned := &panickyMessenger{mockMessenger: h.messenger}
	h.machine.messenger = poisoned
	h.machine.HandleMessage(ctx, Message{From: userIdentity(1), ChatID: chatID, Text: "/start"})

	if got := h.messenger.last(t).text; got != "Sorry, try again" {
		t.Errorf("apology reply = %q", got)
	}
}

type panickyMessenger struct {
	*mockMessenger
	fired bool
}

func (p *panickyMessenger) SendText(ctx context.Context, chatID int64, text string, kb [][]Button) (int, error) {
	if !p.fired {
		p.fired = true
		panic("transport exploded")
	}
	return p.mockMessenger.SendText(ctx, chatID, text, kb)
}
