// Package types defines the core domain types shared between the pinger,
// the LLM worker and the dispatcher.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: JSON tags on ProbeEvent and ProbeSnapshot define the bus
//    wire format; changing them changes the protocol
// 3. Nullability: Probe metrics use pointers because a failed sub-check yields
//    "unknown", which must survive round trips as JSON null
package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format used in snapshots and analytics
// rows ("YYYY-MM-DDTHH:MM:SS", local time, no zone).
const TimestampLayout = "2006-01-02T15:04:05"

// HistoryLimit caps how many recent snapshots a site keeps.
const HistoryLimit = 10

// AppendHistory appends snap newest-last and drops the oldest entries so at
// most HistoryLimit snapshots remain.
func AppendHistory(history []ProbeSnapshot, snap ProbeSnapshot) []ProbeSnapshot {
	history = append(history, snap)
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	return history
}

// =============================================================================
// TRAFFIC LIGHT
// =============================================================================

// TrafficLight is the three-state health level of a site.
type TrafficLight string

const (
	LightGreen  TrafficLight = "green"
	LightOrange TrafficLight = "orange"
	LightRed    TrafficLight = "red"
)

// Valid reports whether the value is one of the three known levels.
func (t TrafficLight) Valid() bool {
	switch t {
	case LightGreen, LightOrange, LightRed:
		return true
	}
	return false
}

// Icon returns the chat icon for this level.
func (t TrafficLight) Icon() string {
	switch t {
	case LightGreen:
		return "✅"
	case LightOrange:
		return "🟠"
	case LightRed:
		return "❌"
	default:
		return "❔"
	}
}

// =============================================================================
// SITE
// =============================================================================

// Site is a monitored URL with display metadata and a probe interval.
type Site struct {
	ID               int             `json:"id"`
	URL              string          `json:"url"`
	Name             string          `json:"name"`
	Com              SiteCom         `json:"com"`
	LastTrafficLight *TrafficLight   `json:"last_traffic_light,omitempty"`
	History          []ProbeSnapshot `json:"history"`
	PingInterval     int             `json:"ping_interval"` // seconds

	// Change-detector state. Nil until the first probe completes.
	LastOK     *bool    `json:"last_ok,omitempty"`
	LastStatus *int     `json:"last_status,omitempty"`
	LastRTT    *float64 `json:"last_rtt,omitempty"`

	SkipNotification bool `json:"skip_notification"`
}

// Validate checks business rules for admin-created sites.
func (s *Site) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %d", s.PingInterval)
	}
	return nil
}

// SiteCom is the per-site flag mapping. Three keys are recognized and typed;
// any other key the user stored is carried in Extra and survives every JSON
// boundary (database column, bus event) untouched.
type SiteCom struct {
	LLM              *bool
	TG               *int64
	SkipNotification *bool

	// Extra holds unrecognized flags verbatim.
	Extra map[string]json.RawMessage
}

// UnmarshalJSON splits the mapping into the typed fields and Extra.
func (c *SiteCom) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = SiteCom{}
	for key, value := range raw {
		var err error
		switch key {
		case "llm":
			err = json.Unmarshal(value, &c.LLM)
		case "tg":
			err = json.Unmarshal(value, &c.TG)
		case "skip_notification":
			err = json.Unmarshal(value, &c.SkipNotification)
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[key] = value
		}
		if err != nil {
			return fmt.Errorf("com key %q: %w", key, err)
		}
	}
	return nil
}

// MarshalJSON re-merges the typed fields with Extra. Typed fields win on a
// key collision; nil typed fields are omitted.
func (c SiteCom) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+3)
	for key, value := range c.Extra {
		out[key] = value
	}
	if c.LLM != nil {
		out["llm"] = json.RawMessage(strconv.FormatBool(*c.LLM))
	}
	if c.TG != nil {
		out["tg"] = json.RawMessage(strconv.FormatInt(*c.TG, 10))
	}
	if c.SkipNotification != nil {
		out["skip_notification"] = json.RawMessage(strconv.FormatBool(*c.SkipNotification))
	}
	return json.Marshal(out)
}

// WantsLLM reports whether LLM enrichment is requested for this site.
func (c SiteCom) WantsLLM() bool {
	return c.LLM != nil && *c.LLM
}

// Skips reports whether the skip_notification flag is set.
func (c SiteCom) Skips() bool {
	return c.SkipNotification != nil && *c.SkipNotification
}

// =============================================================================
// TEAM / USER
// =============================================================================

// Team is a recipient group binding sites to chat and email destinations.
type Team struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	TrackedSiteIDs  []int     `json:"tracked_site_ids"`
	TGChatID        *int64    `json:"tg_chat_id,omitempty"`
	EmailRecipients []string  `json:"email_recipients"`
	WebhookURLs     []string  `json:"webhook_urls,omitempty"` // reserved
	CreatedAt       time.Time `json:"created_at"`
}

// Tracks reports whether the team tracks the given site.
func (t *Team) Tracks(siteID int) bool {
	for _, id := range t.TrackedSiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// User is an individual chat subscriber.
type User struct {
	ID        int       `json:"id"`
	TGUserID  int64     `json:"tg_user_id"`
	TGChatID  *int64    `json:"tg_chat_id,omitempty"`
	Login     string    `json:"login"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// PROBE RESULTS
// =============================================================================

// ProbeSnapshot is the numeric result of one probe plus its classification.
type ProbeSnapshot struct {
	Timestamp    string       `json:"timestamp"`
	TrafficLight TrafficLight `json:"traffic_light"`
	HTTPStatus   *int         `json:"http_status"`
	LatencyMs    *int         `json:"latency_ms"`
	PingMs       *float64     `json:"ping_ms"`
	SSLDaysLeft  *int         `json:"ssl_days_left"`
	DNSResolved  bool         `json:"dns_resolved"`
	Redirects    *int         `json:"redirects"`
	ErrorsLast   *int         `json:"errors_last"`
}

// ProbeEvent is the bus payload flowing pinger → llm worker → dispatcher.
type ProbeEvent struct {
	ID          int           `json:"id"`
	URL         string        `json:"url"`
	Name        string        `json:"name"`
	Com         SiteCom       `json:"com"`
	Logs        ProbeSnapshot `json:"logs"`
	Explanation string        `json:"explanation,omitempty"`
}

// IncidentKey builds the fingerprint used for notification suppression:
// "LIGHT|status|errors" with "-" for missing values. A color transition or a
// change in error count bypasses suppression immediately; duration alone
// does not.
func (e *ProbeEvent) IncidentKey() string {
	light := "UNKNOWN"
	if e.Logs.TrafficLight != "" {
		light = strings.ToUpper(string(e.Logs.TrafficLight))
	}
	status := "-"
	if e.Logs.HTTPStatus != nil {
		status = fmt.Sprintf("%d", *e.Logs.HTTPStatus)
	}
	errs := "-"
	if e.Logs.ErrorsLast != nil {
		errs = fmt.Sprintf("%d", *e.Logs.ErrorsLast)
	}
	return light + "|" + status + "|" + errs
}

// =============================================================================
// ANALYTICS
// =============================================================================

// AnalyticsRow is one append-only probe record in the analytics store.
type AnalyticsRow struct {
	SiteID       int          `json:"id"`
	URL          string       `json:"url"`
	Name         string       `json:"name"`
	TrafficLight TrafficLight `json:"traffic_light"`
	Timestamp    time.Time    `json:"timestamp"`
	HTTPStatus   *int         `json:"http_status"`
	LatencyMs    *int         `json:"latency_ms"`
	PingMs       *float64     `json:"ping_ms"`
	SSLDaysLeft  *int         `json:"ssl_days_left"`
	DNSResolved  bool         `json:"dns_resolved"`
	Redirects    *int         `json:"redirects"`
	ErrorsLast   *int         `json:"errors_last"`
	PingInterval int          `json:"ping_interval"`
}

// RowFromSnapshot builds an analytics row from a site's snapshot.
func RowFromSnapshot(site *Site, snap ProbeSnapshot, at time.Time) AnalyticsRow {
	return AnalyticsRow{
		SiteID:       site.ID,
		URL:          site.URL,
		Name:         site.Name,
		TrafficLight: snap.TrafficLight,
		Timestamp:    at,
		HTTPStatus:   snap.HTTPStatus,
		LatencyMs:    snap.LatencyMs,
		PingMs:       snap.PingMs,
		SSLDaysLeft:  snap.SSLDaysLeft,
		DNSResolved:  snap.DNSResolved,
		Redirects:    snap.Redirects,
		ErrorsLast:   snap.ErrorsLast,
		PingInterval: site.PingInterval,
	}
}
