package attribution

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zaimline/funnelbot/internal/models"
)

// Builder composes outbound URLs carrying user identity and attribution
// parameters. The zero value is usable but returns empty links until a base
// URL is configured.
type Builder struct {
	userBase     string
	trackingBase string
	source       string
	now          func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithUserBase sets the user-facing base URL used when a caller supplies no
// base of its own, and as the fallback for tracking links.
func WithUserBase(base string) BuilderOption {
	return func(b *Builder) { b.userBase = base }
}

// WithTrackingBase sets the base URL of the ad-tracking service.
func WithTrackingBase(base string) BuilderOption {
	return func(b *Builder) { b.trackingBase = base }
}

// WithSource sets the fixed deployment source tag added to every link.
func WithSource(source string) BuilderOption {
	return func(b *Builder) { b.source = source }
}

// WithClock overrides the clock used for the ts parameter.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a link Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UserLink builds a user-facing link from baseURL, the user's identity and
// conversation attribution. When overrideNote is non-empty it replaces the
// conversation note as the addinfo value. An empty baseURL falls back to the
// configured user base; when neither is set the result is the empty string
// and the caller must skip the link.
func (b *Builder) UserLink(baseURL string, id models.Identity, conv *models.Conversation, overrideNote string) string {
	if baseURL == "" {
		baseURL = b.userBase
	}
	if baseURL == "" {
		slog.Error("UserLink: no base URL configured")
		return ""
	}

	note := overrideNote
	if strings.TrimSpace(note) == "" {
		note = conv.Note
	}

	params := url.Values{}
	uid := ""
	if id.ID != 0 {
		uid = strconv.FormatInt(id.ID, 10)
	}
	params.Set("uid", uid)
	params.Set("alias", id.Alias)
	params.Set("name", id.FirstName)
	b.setAttribution(params, conv.Channel, conv.Subject, note, id.ID)

	link := mergeQuery(baseURL, params)
	slog.Debug("UserLink built", "uid", uid, "adid", conv.Channel)
	return link
}

// TrackingLink builds a fire-and-forget tracking URL against the tracking
// base, falling back to the user base when no tracking base is configured.
// With neither configured it returns the empty string, which callers treat
// as "skip this call".
func (b *Builder) TrackingLink(adid, sub2, note string, userID int64) string {
	base := b.trackingBase
	if base == "" {
		base = b.userBase
	}
	if base == "" {
		slog.Error("TrackingLink: no tracking or user base URL configured")
		return ""
	}

	params := url.Values{}
	b.setAttribution(params, adid, sub2, note, userID)
	return mergeQuery(base, params)
}

// setAttribution applies the shared attribution parameter rule: source when
// configured, adid always (even when empty), sub2, ts in Unix seconds,
// tgsubid when the user id is known, and addinfo only when the note is
// non-empty after trimming.
func (b *Builder) setAttribution(params url.Values, adid, sub2, note string, userID int64) {
	if b.source != "" {
		params.Set("source", b.source)
	}
	params.Set("adid", adid)
	params.Set("sub2", sub2)
	params.Set("ts", strconv.FormatInt(b.now().Unix(), 10))
	if userID != 0 {
		params.Set("tgsubid", strconv.FormatInt(userID, 10))
	}
	if strings.TrimSpace(note) != "" {
		params.Set("addinfo", note)
	}
}

// mergeQuery overwrites params on base while preserving any pre-existing
// query parameters outside the set. On parse failure it degrades to naive
// concatenation: the contract is that the result is always a string.
func mergeQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		slog.Warn("mergeQuery: base URL unparseable, concatenating", "error", err)
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + params.Encode()
	}

	q := u.Query()
	for key := range params {
		q.Set(key, params.Get(key))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
