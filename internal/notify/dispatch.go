package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benkietzman/centralmon/internal/catalog"
	"github.com/benkietzman/centralmon/internal/registry"
)

// ContactSource resolves catalog contact lists. *catalog.Store implements it.
type ContactSource interface {
	ServerContacts(ctx context.Context, host string) ([]catalog.Contact, error)
	ApplicationContacts(ctx context.Context, catalogID string) ([]catalog.Contact, error)
}

// Dispatcher routes fired alarms to the right people. Delivery is
// best-effort: failures are logged and never block the monitoring loop.
type Dispatcher struct {
	notifier Notifier
	contacts ContactSource
	logger   *slog.Logger
}

// NewDispatcher returns a dispatcher sending through notifier with contact
// lists from contacts.
func NewDispatcher(notifier Notifier, contacts ContactSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, contacts: contacts, logger: logger}
}

// Announce posts message to the operations chat room.
func (d *Dispatcher) Announce(ctx context.Context, message string) {
	if err := d.notifier.Chat(ctx, message); err != nil {
		d.logger.Error("chat announce failed", slog.Any("error", err))
	}
}

// ServerAlarm notifies the host's admin contacts of a fired system alarm:
// chat plus email, and a page to pager contacts when the alarm pages.
func (d *Dispatcher) ServerAlarm(ctx context.Context, host, alarm string, page bool) {
	d.Announce(ctx, host+": "+alarm)

	contacts, err := d.contacts.ServerContacts(ctx, host)
	if err != nil {
		d.logger.Error("server contacts unavailable", slog.String("host", host), slog.Any("error", err))
		return
	}
	d.deliver(ctx, contacts, fmt.Sprintf("Central Monitor - %s", host), host+": "+alarm, page)
}

// ProcessAlarm notifies the daemon's application contacts of a fired process
// alarm. Daemons with a remediation script configured are handled by the hub
// instead and never reach here.
func (d *Dispatcher) ProcessAlarm(ctx context.Context, host string, p *registry.Process) {
	text := fmt.Sprintf("%s on %s: %s", p.Spec.Name, host, p.Alarm)
	d.Announce(ctx, text)

	contacts, err := d.contacts.ApplicationContacts(ctx, p.Spec.CatalogID)
	if err != nil {
		d.logger.Error("application contacts unavailable",
			slog.String("host", host),
			slog.String("daemon", p.Spec.Name),
			slog.Any("error", err))
		return
	}
	d.deliver(ctx, contacts, fmt.Sprintf("Central Monitor - %s - %s", host, p.Spec.Name), text, p.Page)
}

// deliver emails every contact and pages the pager contacts when page is set.
func (d *Dispatcher) deliver(ctx context.Context, contacts []catalog.Contact, subject, body string, page bool) {
	var emails, pagers []string
	for _, c := range contacts {
		if c.Email != "" {
			emails = append(emails, c.Email)
		}
		if page && c.Pager {
			pagers = append(pagers, c.UserID)
		}
	}
	if err := d.notifier.Email(ctx, emails, subject, body); err != nil {
		d.logger.Error("email delivery failed", slog.Any("error", err))
	}
	if err := d.notifier.Page(ctx, pagers, body); err != nil {
		d.logger.Error("page delivery failed", slog.Any("error", err))
	}
}
