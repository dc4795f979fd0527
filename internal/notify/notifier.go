// Package notify defines the notification collaborator surface and the
// operator diagnostic channel. Subscriber email transport lives outside
// this module; implementations here render and hand off.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ohio-rate-watch/internal/model"
)

// Notifier delivers subscriber alerts and operator diagnostics.
type Notifier interface {
	SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error
	SendOperatorDiagnostic(ctx context.Context, message string) error
}

// RenderAlert builds the subscriber-facing alert text from a decision.
func RenderAlert(sub model.Subscriber, d model.AlertDecision) string {
	builder := strings.Builder{}
	builder.WriteString("[Ohio Rate Watch]\n")
	builder.WriteString(fmt.Sprintf("A cheaper natural gas rate is available in your area (%s).\n", sub.Territory))
	builder.WriteString(fmt.Sprintf("Your rate: $%s/Ccf\n", d.Baseline.StringFixed(3)))
	if d.BestOffer != nil {
		builder.WriteString(fmt.Sprintf("Best offer: $%s/Ccf from %s", d.BestOffer.Price.StringFixed(3), d.BestOffer.Supplier))
		if d.BestOffer.TermMonth != nil {
			builder.WriteString(fmt.Sprintf(" (%d month fixed)", *d.BestOffer.TermMonth))
		}
		builder.WriteString("\n")
		if d.BestOffer.SignupURL != "" {
			builder.WriteString(fmt.Sprintf("Sign up: %s\n", d.BestOffer.SignupURL))
		}
	}
	builder.WriteString(fmt.Sprintf("Savings: %s%%, about $%s/month\n",
		d.SavingsPct.StringFixed(1), d.MonthlySavings.StringFixed(2)))
	return builder.String()
}

// LogNotifier writes everything to the log instead of delivering. Used by
// dry runs and by deployments with no transport configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "log_notifier").Logger()}
}

func (n *LogNotifier) SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error {
	n.logger.Info().
		Str("email", sub.Email).
		Str("savings_pct", decision.SavingsPct.StringFixed(1)).
		Str("monthly_savings", decision.MonthlySavings.StringFixed(2)).
		Msg("alert (log only)")
	return nil
}

func (n *LogNotifier) SendOperatorDiagnostic(ctx context.Context, message string) error {
	n.logger.Warn().Str("diagnostic", message).Msg("operator diagnostic (log only)")
	return nil
}

// Multi fans out to several notifiers; the first error wins but all are
// attempted.
type Multi []Notifier

func (m Multi) SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error {
	var first error
	for _, n := range m {
		if err := n.SendAlert(ctx, sub, decision); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) SendOperatorDiagnostic(ctx context.Context, message string) error {
	var first error
	for _, n := range m {
		if err := n.SendOperatorDiagnostic(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Notifier = (*LogNotifier)(nil)
var _ Notifier = (Multi)(nil)

// timestamp helper shared by notifier implementations.
func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
