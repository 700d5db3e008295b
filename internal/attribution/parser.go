// Package attribution captures deep-link attribution parameters and builds
// outbound links that carry them.
package attribution

import (
	"log/slog"
	"strings"

	"github.com/zaimline/funnelbot/internal/models"
)

// Recognized deep-link payload keys.
const (
	keyChannel = "ch"
	keySubject = "sub2"
	keyNote    = "addinfo"
)

// ApplyPayload decodes a /start deep-link payload of the form
// "key_value__key_value..." and applies the recognized keys to the
// conversation in place. Pairs that do not split into exactly a key and a
// value are dropped, unrecognized keys are ignored, and a malformed payload
// never produces an error.
func ApplyPayload(conv *models.Conversation, payload string) {
	if payload == "" {
		return
	}
	for _, pair := range strings.Split(payload, "__") {
		parts := strings.Split(pair, "_")
		if len(parts) != 2 {
			slog.Debug("ApplyPayload dropping malformed pair", "pair", pair)
			continue
		}
		switch parts[0] {
		case keyChannel:
			conv.Channel = parts[1]
		case keySubject:
			conv.Subject = parts[1]
		case keyNote:
			conv.Note = parts[1]
		default:
			slog.Debug("ApplyPayload ignoring unrecognized key", "key", parts[0])
		}
	}
}
