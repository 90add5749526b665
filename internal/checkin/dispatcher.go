package checkin

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultFallbackChatID receives alerts when no liaison has a chat configured.
	DefaultFallbackChatID ChatAddress = "8414933635"

	// DefaultDashboardURL is the operator dashboard linked from alerts.
	DefaultDashboardURL = "https://floodvoice.vercel.app"

	// ParseModeHTML is the chat API formatting mode used for all alerts.
	ParseModeHTML = "HTML"

	broadcastConcurrency = 5
)

// Sender delivers a formatted message to a chat address.
type Sender interface {
	Send(ctx context.Context, chat ChatAddress, text, parseMode string) error
}

// RecipientTier records which resolution step picked the alert recipient.
type RecipientTier string

const (
	TierLiaison    RecipientTier = "liaison"
	TierAnyLiaison RecipientTier = "any_liaison"
	TierFallback   RecipientTier = "fallback"
)

// Alert is a distress notification about one resident.
type Alert struct {
	ResidentID   string
	ResidentName string
	Summary      string
}

// DispatchResult describes a delivered alert.
type DispatchResult struct {
	Recipient ChatAddress   `json:"recipient"`
	Tier      RecipientTier `json:"tier"`
}

// DispatcherConfig holds the operational defaults for alert delivery.
type DispatcherConfig struct {
	FallbackChatID ChatAddress
	DashboardURL   string
}

// Dispatcher resolves alert recipients and delivers notifications.
type Dispatcher struct {
	store  Store
	sender Sender
	cfg    DispatcherConfig
	logger log.Logger
	hooks  Hooks
}

// NewDispatcher creates a dispatcher. Empty config fields take the package defaults.
func NewDispatcher(store Store, sender Sender, cfg DispatcherConfig, logger log.Logger, hooks Hooks) *Dispatcher {
	if cfg.FallbackChatID == "" {
		cfg.FallbackChatID = DefaultFallbackChatID
	}
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = DefaultDashboardURL
	}
	cfg.DashboardURL = strings.TrimRight(cfg.DashboardURL, "/")
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		hooks:  hooks,
	}
}

// ResolveRecipient picks the chat address for a resident's alerts. It always
// returns an address: lookup failures fall through to the next tier.
func (d *Dispatcher) ResolveRecipient(ctx context.Context, residentID string) (ChatAddress, RecipientTier) {
	L := d.logger.With("resident_id", residentID)

	if residentID != "" {
		r, ok, err := d.store.GetResident(ctx, residentID)
		switch {
		case err != nil:
			L.Warn(ctx, "resident lookup failed, trying any liaison", "error", err)
		case ok && r.LiaisonID != "":
			l, found, err := d.store.GetLiaison(ctx, r.LiaisonID)
			if err != nil {
				L.Warn(ctx, "liaison lookup failed, trying any liaison", "liaison_id", r.LiaisonID, "error", err)
			} else if found && l.TelegramChatID != "" {
				return l.TelegramChatID, TierLiaison
			}
		}
	}

	l, ok, err := d.store.FirstLiaisonWithChat(ctx)
	if err != nil {
		L.Warn(ctx, "liaison scan failed, using fallback chat", "error", err)
	} else if ok && l.TelegramChatID != "" {
		return l.TelegramChatID, TierAnyLiaison
	}

	return d.cfg.FallbackChatID, TierFallback
}

// DispatchDistressAlert sends a distress alert. It fails only when the chat API
// does; deduplication is the caller's responsibility.
func (d *Dispatcher) DispatchDistressAlert(ctx context.Context, a Alert) (*DispatchResult, error) {
	chat, tier := d.ResolveRecipient(ctx, a.ResidentID)
	text := FormatDistressAlert(a.ResidentName, a.Summary, d.cfg.DashboardURL)

	if err := d.sender.Send(ctx, chat, text, ParseModeHTML); err != nil {
		outcome := "error"
		if errors.Is(err, ErrSenderDisabled) {
			outcome = "disabled"
		}
		d.hooks.alert(tier, outcome)
		return nil, &DispatchError{Recipient: chat, Err: err}
	}

	d.hooks.alert(tier, "sent")
	d.logger.Info(ctx, "distress alert sent", "resident_id", a.ResidentID, "recipient", chat, "tier", tier)
	return &DispatchResult{Recipient: chat, Tier: tier}, nil
}

// BroadcastResult summarizes a fan-out to all liaisons.
type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
}

// BroadcastFloodAlert notifies every liaison with a chat address about a flood
// reading, or the fallback chat when there are none. Per-recipient failures are
// joined into the returned error.
func (d *Dispatcher) BroadcastFloodAlert(ctx context.Context, reading FloodReading) (*BroadcastResult, error) {
	liaisons, err := d.store.ListLiaisonsWithChat(ctx)
	if err != nil {
		return nil, fmt.Errorf("list liaisons: %w", err)
	}

	var chats []ChatAddress
	seen := make(map[ChatAddress]bool)
	for _, l := range liaisons {
		if l.TelegramChatID == "" || seen[l.TelegramChatID] {
			continue
		}
		seen[l.TelegramChatID] = true
		chats = append(chats, l.TelegramChatID)
	}
	if len(chats) == 0 {
		chats = []ChatAddress{d.cfg.FallbackChatID}
	}

	text := FormatFloodAlert(reading, d.cfg.DashboardURL)

	var (
		mu   sync.Mutex
		errs []error
		res  = &BroadcastResult{Recipients: len(chats)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, chat := range chats {
		g.Go(func() error {
			err := d.sender.Send(gctx, chat, text, ParseModeHTML)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, &DispatchError{Recipient: chat, Err: err})
				return nil
			}
			res.Delivered++
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info(ctx, "flood alert broadcast",
		"sensor", reading.SensorName,
		"depth_inches", reading.DepthInches,
		"recipients", res.Recipients,
		"delivered", res.Delivered,
	)
	return res, errors.Join(errs...)
}

// FormatDistressAlert renders the HTML distress message.
func FormatDistressAlert(residentName, summary, dashboardURL string) string {
	if strings.TrimSpace(residentName) == "" {
		residentName = "Unknown resident"
	}
	var b strings.Builder
	b.WriteString("🚨 <b>DISTRESS ALERT</b>\n\n")
	fmt.Fprintf(&b, "Resident: <b>%s</b>\n", html.EscapeString(residentName))
	b.WriteString("Status: <b>IN DISTRESS</b>\n\n")
	if s := strings.TrimSpace(summary); s != "" {
		fmt.Fprintf(&b, "📝 <i>%s</i>\n\n", html.EscapeString(s))
	}
	b.WriteString("⚠️ Immediate action required.\n\n")
	fmt.Fprintf(&b, "View dashboard: %s/dashboard/residents", dashboardURL)
	return b.String()
}

// FormatFloodAlert renders the HTML flood-risk message.
func FormatFloodAlert(r FloodReading, dashboardURL string) string {
	var b strings.Builder
	b.WriteString("⚠️ <b>FLOOD RISK DETECTED</b>\n\n")
	fmt.Fprintf(&b, "Sensor: <b>%s</b>\n", html.EscapeString(r.SensorName))
	fmt.Fprintf(&b, "Depth: <b>%.2f inches</b>\n\n", r.DepthInches)
	b.WriteString("Review your pod and consider triggering emergency check-ins.\n\n")
	fmt.Fprintf(&b, "Dashboard: %s/dashboard", dashboardURL)
	return b.String()
}
