package attribution

import (
	"testing"

	"github.com/zaimline/funnelbot/internal/models"
)

func TestApplyPayloadFull(t *testing.T) {
	conv := &models.Conversation{}
	ApplyPayload(conv, "ch_promo1__sub2_alice__addinfo_spring")
	if conv.Channel != "promo1" {
		t.Errorf("Channel = %q, want promo1", conv.Channel)
	}
	if conv.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", conv.Subject)
	}
	if conv.Note != "spring" {
		t.Errorf("Note = %q, want spring", conv.Note)
	}
}

func TestApplyPayloadMalformedPairs(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		channel string
		subject string
		note    string
	}{
		{"empty payload", "", "", "", ""},
		{"single key no value", "ch", "", "", ""},
		{"too many parts dropped", "ch_a_b__sub2_bob", "", "bob", ""},
		{"unknown key ignored", "utm_x__ch_direct", "direct", "", ""},
		{"only separators", "____", "", "", ""},
		{"valid pair survives neighbors", "x__ch_tg__y_z_w", "tg", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &models.Conversation{}
			ApplyPayload(conv, tt.payload)
			if conv.Channel != tt.channel {
				t.Errorf("Channel = %q, want %q", conv.Channel, tt.channel)
			}
			if conv.Subject != tt.subject {
				t.Errorf("Subject = %q, want %q", conv.Subject, tt.subject)
			}
			if conv.Note != tt.note {
				t.Errorf("Note = %q, want %q", conv.Note, tt.note)
			}
		})
	}
}

func TestApplyPayloadDoesNotClearExisting(t *testing.T) {
	conv := &models.Conversation{Channel: "old", Subject: "kept"}
	ApplyPayload(conv, "addinfo_extra")
	if conv.Channel != "old" || conv.Subject != "kept" {
		t.Errorf("existing attribution mutated: %+v", conv)
	}
	if conv.Note != "extra" {
		t.Errorf("Note = %q, want extra", conv.Note)
	}
}
