package session

import (
	"context"
	"testing"
	"time"

	"github.com/zaimline/funnelbot/internal/models"
)

func TestEnsureInitializedIdempotent(t *testing.T) {
	m := NewManager(NewLRUStore())
	ctx := context.Background()

	conv, err := m.EnsureInitialized(ctx, 42, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.Subject != "alice" {
		t.Fatalf("Subject = %q, want alice", conv.Subject)
	}
	if !conv.Initialized {
		t.Fatal("conversation not marked initialized")
	}
	if conv.Channel != "" {
		t.Fatalf("Channel = %q, want empty", conv.Channel)
	}

	// A second call with a different fallback must not overwrite anything.
	conv, err = m.EnsureInitialized(ctx, 42, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.Subject != "alice" {
		t.Errorf("Subject overwritten to %q", conv.Subject)
	}
}

func TestEnsureInitializedKeepsPayloadValues(t *testing.T) {
	store := NewLRUStore()
	m := NewManager(store)
	ctx := context.Background()

	conv, err := m.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv.Channel = "promo1"
	conv.Subject = "deep"
	if err := store.Save(ctx, 7, conv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conv, err = m.EnsureInitialized(ctx, 7, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.Subject != "deep" || conv.Channel != "promo1" {
		t.Errorf("deep-link attribution overwritten: %+v", conv)
	}
}

func TestRecordDelivery(t *testing.T) {
	m := NewManager(NewLRUStore())
	ctx := context.Background()

	if err := m.RecordDelivery(ctx, 5, 1001); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, err := m.GetOrCreate(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.LastMessageID != 1001 {
		t.Errorf("LastMessageID = %d, want 1001", conv.LastMessageID)
	}
}

func TestLRUStoreBounded(t *testing.T) {
	store := NewLRUStore(WithCapacity(3), WithTTL(time.Hour))
	ctx := context.Background()

	for id := int64(1); id <= 10; id++ {
		if _, err := store.GetOrCreate(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if store.Len() > 3 {
		t.Errorf("cache grew past capacity: %d", store.Len())
	}
}

func TestUpdateMutatesState(t *testing.T) {
	m := NewManager(NewLRUStore())
	ctx := context.Background()

	conv, err := m.Update(ctx, 9, func(c *models.Conversation) { c.LoanAmount = "5000" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.LoanAmount != "5000" {
		t.Errorf("LoanAmount = %q, want 5000", conv.LoanAmount)
	}
}
