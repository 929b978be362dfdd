// Package dispatch consumes enriched probe events and fans notifications out
// to Telegram chats and team email groups.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pingtower/pingtower/internal/notify"
	"github.com/pingtower/pingtower/pkg/types"
)

// SiteResolver is the slice of the operational store the dispatcher needs.
type SiteResolver interface {
	GetSite(ctx context.Context, id int) (*types.Site, error)
	GetSiteByURL(ctx context.Context, url string) (*types.Site, error)
	EnsureSite(ctx context.Context, url, name string, pingInterval int) (*types.Site, error)
	ListTeamsForSite(ctx context.Context, siteID int) ([]types.Team, error)
}

// ChatSender delivers one formatted message to one chat.
type ChatSender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// MailSender delivers one message to a recipient list.
type MailSender interface {
	Send(ctx context.Context, recipients []string, subject, plainBody, htmlBody string) error
}

// Dispatcher routes events to recipients.
type Dispatcher struct {
	store    SiteResolver
	antispam AntiSpam
	chat     ChatSender
	mail     MailSender
	logger   *slog.Logger

	// autocreate creates a site record for events whose id and url are both
	// unknown.
	autocreate      bool
	defaultInterval int
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store SiteResolver, antispam AntiSpam, chat ChatSender, mail MailSender, autocreate bool, defaultInterval int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:           store,
		antispam:        antispam,
		chat:            chat,
		mail:            mail,
		logger:          logger,
		autocreate:      autocreate,
		defaultInterval: defaultInterval,
	}
}

// Handle processes one enriched event body from the bus.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var event types.ProbeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	if event.Com.Skips() {
		d.logger.Info("skip flag set, dropping", "site_id", event.ID, "url", event.URL)
		return nil
	}

	site, err := d.resolveSite(ctx, &event)
	if err != nil {
		return err
	}
	if site == nil {
		d.logger.Info("unknown site, dropping", "id", event.ID, "url", event.URL)
		return nil
	}

	incidentKey := event.IncidentKey()
	send, err := d.antispam.ShouldSend(ctx, site.ID, incidentKey)
	if err != nil {
		return err
	}
	if !send {
		d.logger.Debug("duplicate suppressed", "site_id", site.ID, "key", incidentKey)
		return nil
	}

	teams, err := d.store.ListTeamsForSite(ctx, site.ID)
	if err != nil {
		return err
	}

	d.sendChats(ctx, &event, chatTargets(teams, event.Com.TG))
	d.sendEmails(ctx, &event, emailGroups(teams))

	return d.antispam.MarkSent(ctx, site.ID, incidentKey)
}

// resolveSite finds the site the event refers to: by id, then by url, then
// by auto-creation when enabled.
func (d *Dispatcher) resolveSite(ctx context.Context, event *types.ProbeEvent) (*types.Site, error) {
	if event.ID > 0 {
		site, err := d.store.GetSite(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if site != nil {
			return site, nil
		}
	}
	if event.URL == "" {
		return nil, nil
	}
	site, err := d.store.GetSiteByURL(ctx, event.URL)
	if err != nil {
		return nil, err
	}
	if site != nil {
		return site, nil
	}
	if !d.autocreate {
		return nil, nil
	}
	site, err = d.store.EnsureSite(ctx, event.URL, event.Name, d.defaultInterval)
	if err != nil {
		// Auto-create is best effort; the event is dropped, not requeued.
		d.logger.Error("site auto-create failed", "url", event.URL, "error", err)
		return nil, nil
	}
	return site, nil
}

func (d *Dispatcher) sendChats(ctx context.Context, event *types.ProbeEvent, chats []int64) {
	if len(chats) == 0 {
		return
	}
	text := notify.FormatChat(event)
	for _, chatID := range chats {
		if err := d.chat.Send(ctx, chatID, text); err != nil {
			d.logger.Error("chat delivery failed", "chat_id", chatID, "error", err)
		}
	}
}

// sendEmails delivers each team's mail concurrently; one failing team never
// affects the others.
func (d *Dispatcher) sendEmails(ctx context.Context, event *types.ProbeEvent, groups []emailGroup) {
	if len(groups) == 0 {
		return
	}
	subject := notify.FormatEmailSubject(event)
	plain, htmlBody := notify.FormatEmailBodies(event)

	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(group emailGroup) {
			defer wg.Done()
			if err := d.mail.Send(ctx, group.emails, subject, plain, htmlBody); err != nil {
				d.logger.Error("email delivery failed",
					"team", group.teamName, "recipients", len(group.emails), "error", err)
			}
		}(group)
	}
	wg.Wait()
}

// chatTargets collects unique team chat ids plus the optional per-site
// override chat.
func chatTargets(teams []types.Team, extra *int64) []int64 {
	seen := make(map[int64]bool)
	var chats []int64
	for _, team := range teams {
		if team.TGChatID == nil || seen[*team.TGChatID] {
			continue
		}
		seen[*team.TGChatID] = true
		chats = append(chats, *team.TGChatID)
	}
	if extra != nil && !seen[*extra] {
		chats = append(chats, *extra)
	}
	return chats
}

type emailGroup struct {
	teamName string
	emails   []string
}

// emailGroups builds per-team deduplicated recipient lists, skipping teams
// without email recipients.
func emailGroups(teams []types.Team) []emailGroup {
	var groups []emailGroup
	for _, team := range teams {
		seen := make(map[string]bool)
		var emails []string
		for _, addr := range team.EmailRecipients {
			addr = strings.TrimSpace(addr)
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			emails = append(emails, addr)
		}
		if len(emails) > 0 {
			groups = append(groups, emailGroup{teamName: team.Name, emails: emails})
		}
	}
	return groups
}
