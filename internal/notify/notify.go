// Package notify turns validation reports into email alerts for staff.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"ordergate/internal/logger"
	"ordergate/pkg/domain"
)

var _ domain.Notifier = (*EmailNotifier)(nil)

// ErrNoRecipients is returned when a notifiable report has nobody to go to.
var ErrNoRecipients = errors.New("notify: no recipients configured")

// Message is one outbound email.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

// Mailer delivers a composed message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config controls recipient selection.
type Config struct {
	AdminEmails   []string
	TestingMode   bool
	TestRecipient string
	// OrderURL formats a link to the order; %s receives the order id.
	OrderURL string
}

// DefaultOrderURL links to the order in the inFlow web app.
const DefaultOrderURL = "https://app.inflowinventory.com/sales-orders/%s"

// EmailNotifier composes reports into HTML mail and hands them to a Mailer.
type EmailNotifier struct {
	mailer Mailer
	cfg    Config
	log    *logger.Logger
}

// New returns a notifier sending through mailer.
func New(mailer Mailer, cfg Config, log *logger.Logger) *EmailNotifier {
	if cfg.OrderURL == "" {
		cfg.OrderURL = DefaultOrderURL
	}
	return &EmailNotifier{mailer: mailer, cfg: cfg, log: log.WithComponent("notify")}
}

// Notify sends the report unless its status is passed or pending, which are
// skipped without error. Delivery failures are returned to the caller.
func (n *EmailNotifier) Notify(ctx context.Context, report domain.Report, order domain.OrderSnapshot) error {
	if !report.Status.Notifiable() {
		n.log.Debug("notification skipped", "order_id", report.OrderID, "status", report.Status, "pending", report.PendingCount)
		return nil
	}
	to := n.Recipients(order)
	if len(to) == 0 {
		return ErrNoRecipients
	}
	body, err := n.render(report, order)
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}
	msg := Message{To: to, Subject: Subject(report, order), HTMLBody: body}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification for order %s: %w", report.OrderID, err)
	}
	n.log.Info("notification sent", "order_id", report.OrderID, "status", report.Status, "recipients", strings.Join(to, ","))
	return nil
}

// Recipients returns admins plus the order's account manager, deduplicated.
// Testing mode redirects everything to the test recipient.
func (n *EmailNotifier) Recipients(order domain.OrderSnapshot) []string {
	if n.cfg.TestingMode && n.cfg.TestRecipient != "" {
		return []string{n.cfg.TestRecipient}
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	for _, a := range n.cfg.AdminEmails {
		add(a)
	}
	add(accountManager(order.Raw))
	return out
}

// accountManager looks in customFields.custom1, then salesRep and assignedTo.
func accountManager(raw map[string]any) string {
	if custom, ok := raw["customFields"].(map[string]any); ok {
		if v, ok := custom["custom1"].(string); ok && looksLikeEmail(v) {
			return v
		}
	}
	for _, key := range []string{"salesRep", "assignedTo"} {
		if m, ok := raw[key].(map[string]any); ok {
			if v, ok := m["email"].(string); ok && looksLikeEmail(v) {
				return v
			}
		}
	}
	return ""
}

func looksLikeEmail(s string) bool {
	_, err := mail.ParseAddress(strings.TrimSpace(s))
	return err == nil
}

// Subject renders the alert subject line.
func Subject(report domain.Report, order domain.OrderSnapshot) string {
	number := report.OrderNumber
	if number == "" {
		number = order.Label()
	}
	return fmt.Sprintf("[InFlow Validation %s] Order #%s - Action Required", strings.ToUpper(string(report.Status)), number)
}

func (n *EmailNotifier) render(report domain.Report, order domain.OrderSnapshot) (string, error) {
	customer := "Unknown Customer"
	if c, ok := order.Raw["customer"].(map[string]any); ok {
		if name, ok := c["name"].(string); ok && name != "" {
			customer = name
		}
	}
	data := bodyData{
		Report:      report,
		Status:      strings.ToUpper(string(report.Status)),
		StatusColor: statusColor(report.Status),
		Customer:    customer,
		Issues:      report.VisibleIssues(),
		OrderURL:    fmt.Sprintf(n.cfg.OrderURL, report.OrderID),
	}
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
