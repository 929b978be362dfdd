package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pingtower/pingtower/pkg/types"
)

type mockResolver struct {
	sites   map[int]*types.Site
	byURL   map[string]*types.Site
	teams   []types.Team
	ensured []string
}

func (m *mockResolver) GetSite(_ context.Context, id int) (*types.Site, error) {
	return m.sites[id], nil
}

func (m *mockResolver) GetSiteByURL(_ context.Context, url string) (*types.Site, error) {
	return m.byURL[url], nil
}

func (m *mockResolver) EnsureSite(_ context.Context, url, name string, interval int) (*types.Site, error) {
	m.ensured = append(m.ensured, url)
	site := &types.Site{ID: 99, URL: url, Name: name, PingInterval: interval}
	if m.sites == nil {
		m.sites = map[int]*types.Site{}
	}
	m.sites[site.ID] = site
	return site, nil
}

func (m *mockResolver) ListTeamsForSite(_ context.Context, _ int) ([]types.Team, error) {
	return m.teams, nil
}

type mockChat struct {
	mu    sync.Mutex
	sends map[int64]int
}

func (m *mockChat) Send(_ context.Context, chatID int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sends == nil {
		m.sends = map[int64]int{}
	}
	m.sends[chatID]++
	return nil
}

type mockMail struct {
	mu    sync.Mutex
	sends [][]string
}

func (m *mockMail) Send(_ context.Context, recipients []string, _, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, recipients)
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventBody(t *testing.T, event types.ProbeEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func redEvent() types.ProbeEvent {
	return types.ProbeEvent{
		ID:   1,
		URL:  "https://example.com",
		Name: "Example",
		Logs: types.ProbeSnapshot{TrafficLight: types.LightRed},
	}
}

func TestHandleFansOutToTeams(t *testing.T) {
	resolver := &mockResolver{
		sites: map[int]*types.Site{1: {ID: 1, URL: "https://example.com", Name: "Example"}},
		teams: []types.Team{
			{Name: "ops", TGChatID: int64Ptr(100), EmailRecipients: []string{"a@x.io", "a@x.io", "b@x.io"}},
			{Name: "dev", TGChatID: int64Ptr(200)},
		},
	}
	chat := &mockChat{}
	mail := &mockMail{}
	d := NewDispatcher(resolver, NewLocalAntiSpam(time.Minute), chat, mail, false, 30, testLogger())

	if err := d.Handle(context.Background(), eventBody(t, redEvent())); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if chat.sends[100] != 1 || chat.sends[200] != 1 {
		t.Errorf("chat sends = %v, want one per team chat", chat.sends)
	}
	if len(mail.sends) != 1 {
		t.Fatalf("email groups sent = %d, want 1 (dev has no recipients)", len(mail.sends))
	}
	got := append([]string(nil), mail.sends[0]...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a@x.io" || got[1] != "b@x.io" {
		t.Errorf("recipients = %v, want deduplicated a@x.io,b@x.io", got)
	}
}

func TestHandleComTGIsAdditive(t *testing.T) {
	resolver := &mockResolver{
		sites: map[int]*types.Site{1: {ID: 1, URL: "https://example.com"}},
		teams: []types.Team{{Name: "ops", TGChatID: int64Ptr(100)}},
	}
	chat := &mockChat{}
	d := NewDispatcher(resolver, NewLocalAntiSpam(time.Minute), chat, &mockMail{}, false, 30, testLogger())

	event := redEvent()
	event.Com.TG = int64Ptr(777)
	if err := d.Handle(context.Background(), eventBody(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if chat.sends[100] != 1 || chat.sends[777] != 1 {
		t.Errorf("chat sends = %v, want team chat and override chat", chat.sends)
	}
}

func TestHandleDuplicateSuppressed(t *testing.T) {
	resolver := &mockResolver{
		sites: map[int]*types.Site{1: {ID: 1, URL: "https://example.com"}},
		teams: []types.Team{{Name: "ops", TGChatID: int64Ptr(100)}},
	}
	chat := &mockChat{}
	d := NewDispatcher(resolver, NewLocalAntiSpam(time.Minute), chat, &mockMail{}, false, 30, testLogger())

	body := eventBody(t, redEvent())
	for i := 0; i < 3; i++ {
		if err := d.Handle(context.Background(), body); err != nil {
			t.Fatalf("Handle %d: %v", i, err)
		}
	}
	if chat.sends[100] != 1 {
		t.Errorf("sends = %d, want 1 within suppression window", chat.sends[100])
	}

	// A different fingerprint bypasses suppression immediately.
	event := redEvent()
	status := 503
	event.Logs.HTTPStatus = &status
	if err := d.Handle(context.Background(), eventBody(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if chat.sends[100] != 2 {
		t.Errorf("sends = %d, want 2 after fingerprint change", chat.sends[100])
	}
}

func TestHandleSkipFlagDrops(t *testing.T) {
	resolver := &mockResolver{
		sites: map[int]*types.Site{1: {ID: 1, URL: "https://example.com"}},
		teams: []types.Team{{Name: "ops", TGChatID: int64Ptr(100)}},
	}
	chat := &mockChat{}
	d := NewDispatcher(resolver, NewLocalAntiSpam(time.Minute), chat, &mockMail{}, false, 30, testLogger())

	event := redEvent()
	event.Com.SkipNotification = boolPtr(true)
	if err := d.Handle(context.Background(), eventBody(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(chat.sends) != 0 {
		t.Error("skip-flagged event must not be delivered")
	}
}

func TestHandleResolvesByURLThenAutocreates(t *testing.T) {
	site := &types.Site{ID: 5, URL: "https://example.com"}
	resolver := &mockResolver{
		byURL: map[string]*types.Site{"https://example.com": site},
		teams: []types.Team{{Name: "ops", TGChatID: int64Ptr(100)}},
	}
	chat := &mockChat{}
	d := NewDispatcher(resolver, NewLocalAntiSpam(0), chat, &mockMail{}, true, 30, testLogger())

	// Unknown id falls back to url.
	event := redEvent()
	event.ID = 12345
	if err := d.Handle(context.Background(), eventBody(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if chat.sends[100] != 1 {
		t.Errorf("sends = %v, want delivery via url-resolved site", chat.sends)
	}
	if len(resolver.ensured) != 0 {
		t.Error("known url must not auto-create")
	}

	// Unknown id and url auto-creates.
	event.URL = "https://new.example.com"
	if err := d.Handle(context.Background(), eventBody(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resolver.ensured) != 1 || resolver.ensured[0] != "https://new.example.com" {
		t.Errorf("ensured = %v", resolver.ensured)
	}
}

func TestHandleUnknownSiteDroppedWithoutAutocreate(t *testing.T) {
	resolver := &mockResolver{teams: []types.Team{{Name: "ops", TGChatID: int64Ptr(100)}}}
	chat := &mockChat{}
	d := NewDispatcher(resolver, NewLocalAntiSpam(0), chat, &mockMail{}, false, 30, testLogger())

	if err := d.Handle(context.Background(), eventBody(t, redEvent())); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(chat.sends) != 0 || len(resolver.ensured) != 0 {
		t.Error("unknown site must be dropped silently")
	}
}

func TestLocalAntiSpamWindow(t *testing.T) {
	a := NewLocalAntiSpam(time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	send, _ := a.ShouldSend(ctx, 1, "RED|-|-")
	if !send {
		t.Fatal("first send must pass")
	}
	a.MarkSent(ctx, 1, "RED|-|-")

	send, _ = a.ShouldSend(ctx, 1, "RED|-|-")
	if send {
		t.Error("repeat within window must be suppressed")
	}
	send, _ = a.ShouldSend(ctx, 1, "ORANGE|-|-")
	if !send {
		t.Error("different fingerprint must pass")
	}
	send, _ = a.ShouldSend(ctx, 2, "RED|-|-")
	if !send {
		t.Error("different site must pass")
	}

	now = now.Add(time.Minute)
	send, _ = a.ShouldSend(ctx, 1, "RED|-|-")
	if !send {
		t.Error("expired window must pass")
	}
}

func TestLocalAntiSpamZeroTTLAlwaysSends(t *testing.T) {
	a := NewLocalAntiSpam(0)
	ctx := context.Background()
	a.MarkSent(ctx, 1, "RED|-|-")
	send, _ := a.ShouldSend(ctx, 1, "RED|-|-")
	if !send {
		t.Error("ttl=0 must disable suppression")
	}
	if len(a.entries) != 0 {
		t.Error("ttl=0 must not record entries")
	}
}
