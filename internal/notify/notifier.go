// Package notify fans user-facing notifications out to log, chat and stream
// senders, filtered by event type and minimum severity.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
	Name() string
}

var severityRank = map[domain.Severity]int{
	domain.SeverityInfo:    0,
	domain.SeveritySuccess: 1,
	domain.SeverityWarning: 2,
	domain.SeverityError:   3,
}

// Notifier implements domain.Notifier. Notifications whose event is not in
// the allowed set, or whose severity is below the minimum, are dropped.
type Notifier struct {
	senders     []Sender
	events      map[string]bool // allowed events; empty allows all
	minSeverity domain.Severity
	logger      *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, minSeverity string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	sev := domain.Severity(strings.ToLower(strings.TrimSpace(minSeverity)))
	if _, ok := severityRank[sev]; !ok {
		sev = domain.SeverityInfo
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		minSeverity: sev,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// AddSender registers another delivery channel. Not safe to call
// concurrently with Notify.
func (n *Notifier) AddSender(s Sender) {
	n.senders = append(n.senders, s)
}

// Notify delivers msg to every sender. A failing sender does not stop
// delivery to the rest; all failures are combined into the returned error.
func (n *Notifier) Notify(ctx context.Context, msg domain.Notification) error {
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}
	if severityRank[msg.Severity] < severityRank[n.minSeverity] {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
