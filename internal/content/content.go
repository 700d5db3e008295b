// Package content loads all user-facing texts, buttons and links from a JSON
// file and serves a cached copy that refreshes when the file changes on
// disk, so content edits go live without a restart.
package content

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Stage names of the scheduled follow-up messages, in send order. The
// content file must key its follow-up section by exactly these names.
const (
	Stage5Min  = "5min"
	Stage15Min = "15min"
	Stage24H   = "24h"
	Stage30H   = "30h"
)

// OptionValue is a menu option value that decodes from either a JSON string
// or a JSON number, since content files store amounts both ways.
type OptionValue string

// UnmarshalJSON accepts "5000" and 5000 interchangeably.
func (v *OptionValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = OptionValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("option value is neither string nor number: %w", err)
	}
	*v = OptionValue(n.String())
	return nil
}

// Screen is a single one-shot message: text plus optional image, link and
// button label.
type Screen struct {
	Text   string `json:"text"`
	Image  string `json:"image,omitempty"`
	Link   string `json:"link,omitempty"`
	Button string `json:"button,omitempty"`
}

// MenuOption is one selectable entry of a funnel menu. TrackLabel is the
// attribution-safe label reported to the tracking service.
type MenuOption struct {
	Value      OptionValue `json:"value"`
	Label      string      `json:"label"`
	TrackLabel string      `json:"track_label,omitempty"`
}

// Menu is a funnel question with its options.
type Menu struct {
	Text      string       `json:"text"`
	Image     string       `json:"image,omitempty"`
	Options   []MenuOption `json:"options"`
	BackLabel string       `json:"back_label,omitempty"`
}

// Stage is one scheduled follow-up message. Text may contain a {name}
// placeholder substituted with the user's display name.
type Stage struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// Bundle is the full decoded content file.
type Bundle struct {
	Welcome   Screen            `json:"welcome"`
	Amounts   Menu              `json:"amounts"`
	Credit    Menu              `json:"credit"`
	Offer     Screen            `json:"offer"`
	Info      map[string]Screen `json:"info"`
	FollowUps map[string]Stage  `json:"follow_ups"`
	Unknown   string            `json:"unknown"`
	Apology   string            `json:"apology"`
}

// Provider owns the cached bundle. It replaces a module-level global: every
// component that needs content holds a *Provider and calls Bundle.
type Provider struct {
	path string
	stat func(string) (fs.FileInfo, error)

	mu      sync.Mutex
	cached  *Bundle
	modTime time.Time
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithStat overrides the file stat function, letting tests drive reloads.
func WithStat(stat func(string) (fs.FileInfo, error)) ProviderOption {
	return func(p *Provider) { p.stat = stat }
}

// NewProvider loads the content file once and returns a Provider serving it.
// A load failure here is a configuration error and is returned to the
// caller, which treats it as fatal.
func NewProvider(path string, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{path: path, stat: os.Stat}
	for _, opt := range opts {
		opt(p)
	}
	info, err := p.stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat content file: %w", err)
	}
	bundle, err := load(path)
	if err != nil {
		return nil, err
	}
	p.cached = bundle
	p.modTime = info.ModTime()
	slog.Info("Content loaded", "path", path, "mod_time", p.modTime)
	return p, nil
}

// Bundle returns the current content, re-reading the backing file when its
// modification time changed. A reload failure keeps serving the cached
// bundle and logs the error.
func (p *Provider) Bundle() *Bundle {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.stat(p.path)
	if err != nil {
		slog.Warn("Content stat failed, serving cached bundle", "error", err, "path", p.path)
		return p.cached
	}
	if info.ModTime().Equal(p.modTime) {
		return p.cached
	}

	bundle, err := load(p.path)
	if err != nil {
		slog.Error("Content reload failed, serving cached bundle", "error", err, "path", p.path)
		return p.cached
	}
	p.cached = bundle
	p.modTime = info.ModTime()
	slog.Info("Content reloaded", "path", p.path, "mod_time", p.modTime)
	return p.cached
}

func load(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode content file: %w", err)
	}
	return &bundle, nil
}
