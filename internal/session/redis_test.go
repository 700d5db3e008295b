package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), WithRedisAddr(mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, 42)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	conv.Channel = "promo1"
	conv.Subject = "alice"
	conv.LastMessageID = 777
	if err := store.Save(ctx, 42, conv); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.GetOrCreate(ctx, 42)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if got.Channel != "promo1" || got.Subject != "alice" || got.LastMessageID != 777 {
		t.Errorf("conversation did not round-trip: %+v", got)
	}
}

func TestRedisStoreManagerOperations(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestRedisStore(t))
	ctx := context.Background()

	if _, err := m.EnsureInitialized(ctx, 7, "bob"); err != nil {
		t.Fatalf("EnsureInitialized() error: %v", err)
	}
	// Second call must be a no-op for the subject.
	conv, err := m.EnsureInitialized(ctx, 7, "7")
	if err != nil {
		t.Fatalf("EnsureInitialized() error: %v", err)
	}
	if conv.Subject != "bob" {
		t.Errorf("Subject = %q, want bob", conv.Subject)
	}

	if err := m.RecordDelivery(ctx, 7, 31); err != nil {
		t.Fatalf("RecordDelivery() error: %v", err)
	}
	conv, err = m.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if conv.LastMessageID != 31 {
		t.Errorf("LastMessageID = %d, want 31", conv.LastMessageID)
	}
}

func TestRedisStoreCorruptValueResets(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), WithRedisAddr(mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore() error: %v", err)
	}
	defer store.Close()

	mr.Set("conv:5", "{not json")
	conv, err := store.GetOrCreate(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if conv.Subject != "" || conv.Initialized {
		t.Errorf("corrupt value not reset: %+v", conv)
	}
}
