// Package alert decides which subscribers are owed a savings alert for a
// run. The engine computes decisions; delivery belongs to the notification
// collaborator, and a subscriber is only marked alerted after that
// collaborator confirms delivery.
package alert

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/territory"
)

// SubscriberStore is the subscriber collaborator surface the engine needs.
type SubscriberStore interface {
	ListConfirmedSubscribers(ctx context.Context, territory string) ([]model.Subscriber, error)
	MarkAlerted(ctx context.Context, subscriberID int64, rate decimal.Decimal, at time.Time) error
}

// Sender delivers one alert. Returning an error means delivery failed and
// the subscriber must stay eligible for the next run.
type Sender interface {
	SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error
}

// Config tunes eligibility.
type Config struct {
	DefaultThresholdPct decimal.Decimal
	Cooldown            time.Duration
	RealertDeltaPct     decimal.Decimal
	// PriceSanityFloor excludes parse artifacts from best-offer selection.
	PriceSanityFloor decimal.Decimal
	// MonthlyUsageCcf converts a per-Ccf saving into an estimated monthly
	// dollar figure. 100 Ccf is a typical Ohio household's 10 Mcf.
	MonthlyUsageCcf decimal.Decimal
	// RateClass selects the comparison page subscribers are matched
	// against. Alerting covers one customer class per deployment.
	RateClass model.RateClass
}

// DefaultConfig returns production tuning.
func DefaultConfig() Config {
	return Config{
		DefaultThresholdPct: decimal.NewFromInt(15),
		Cooldown:            7 * 24 * time.Hour,
		RealertDeltaPct:     decimal.NewFromInt(3),
		PriceSanityFloor:    decimal.NewFromFloat(0.1),
		MonthlyUsageCcf:     decimal.NewFromInt(100),
		RateClass:           model.ClassResidential,
	}
}

// Outcome summarizes one run of the engine.
type Outcome struct {
	Evaluated int
	Fired     int
	Delivered int
	Failed    int
	Skipped   map[model.SkipReason]int
	Decisions []model.AlertDecision
}

// Engine evaluates alert eligibility against an accepted batch.
type Engine struct {
	cfg         Config
	subs        SubscriberStore
	sender      Sender
	territories *territory.Resolver
	logger      zerolog.Logger
}

// New constructs an Engine. territories may be nil; subscribers with no
// stored territory are then skipped instead of resolved from their ZIP.
func New(cfg Config, subs SubscriberStore, sender Sender, territories *territory.Resolver, logger zerolog.Logger) *Engine {
	if cfg.DefaultThresholdPct.IsZero() {
		cfg.DefaultThresholdPct = decimal.NewFromInt(15)
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 7 * 24 * time.Hour
	}
	if cfg.RealertDeltaPct.IsZero() {
		cfg.RealertDeltaPct = decimal.NewFromInt(3)
	}
	if cfg.PriceSanityFloor.IsZero() {
		cfg.PriceSanityFloor = decimal.NewFromFloat(0.1)
	}
	if cfg.MonthlyUsageCcf.IsZero() {
		cfg.MonthlyUsageCcf = decimal.NewFromInt(100)
	}
	if cfg.RateClass == "" {
		cfg.RateClass = model.ClassResidential
	}
	return &Engine{
		cfg:         cfg,
		subs:        subs,
		sender:      sender,
		territories: territories,
		logger:      logger.With().Str("component", "alert_engine").Logger(),
	}
}

// RunOptions control a single engine pass.
type RunOptions struct {
	// DryRun computes decisions without sending or marking anything.
	DryRun bool
	Now    time.Time
}

// EvaluateRun walks every confirmed subscriber against the accepted batch.
// A delivery failure for one subscriber is logged and does not abort the
// remainder; the subscriber is not marked alerted, so the decision recurs
// on the next eligible run.
func (e *Engine) EvaluateRun(ctx context.Context, batch *model.DailyBatch, opts RunOptions) (*Outcome, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	subscribers, err := e.subs.ListConfirmedSubscribers(ctx, "")
	if err != nil {
		return nil, err
	}

	out := &Outcome{Skipped: map[model.SkipReason]int{}}
	for i := range subscribers {
		sub := subscribers[i]
		decision := e.Decide(&sub, batch, now)
		out.Evaluated++
		out.Decisions = append(out.Decisions, decision)

		if !decision.Fire {
			out.Skipped[decision.Skip]++
			continue
		}
		out.Fired++

		if opts.DryRun {
			e.logger.Info().Str("email", sub.Email).
				Str("savings_pct", decision.SavingsPct.StringFixed(1)).
				Msg("dry-run: alert decision computed, not sent")
			continue
		}

		if err := e.sender.SendAlert(ctx, sub, decision); err != nil {
			out.Failed++
			e.logger.Error().Err(err).Str("email", sub.Email).Msg("alert delivery failed; subscriber stays eligible")
			continue
		}

		// Only a confirmed delivery moves the cooldown window. Marking
		// first and sending second would silently swallow owed alerts on
		// delivery failure.
		best := *decision.BestOffer.Price
		if err := e.subs.MarkAlerted(ctx, sub.ID, best, now); err != nil {
			e.logger.Error().Err(err).Str("email", sub.Email).Msg("failed to record alert delivery")
		}
		out.Delivered++
	}

	return out, nil
}

// Decide computes the alert decision for one subscriber. Pure apart from
// the injected clock value.
func (e *Engine) Decide(sub *model.Subscriber, batch *model.DailyBatch, now time.Time) model.AlertDecision {
	decision := model.AlertDecision{Subscriber: sub}

	page := batch.Page(model.PageKey{
		Category:  model.CategoryNaturalGas,
		Territory: e.subscriberTerritory(sub),
		RateClass: e.cfg.RateClass,
	})

	baseline := e.resolveBaseline(sub, page)
	if baseline == nil || !baseline.IsPositive() {
		decision.Skip = model.SkipNoBaseline
		return decision
	}
	decision.Baseline = *baseline

	best := e.bestQualifyingOffer(page)
	if best == nil {
		decision.Skip = model.SkipNoOffer
		return decision
	}
	decision.BestOffer = best

	savings := baseline.Sub(*best.Price).Div(*baseline).Mul(hundred)
	decision.SavingsPct = savings

	threshold := sub.ThresholdPct
	if threshold.IsZero() {
		threshold = e.cfg.DefaultThresholdPct
	}
	if savings.LessThan(threshold) {
		decision.Skip = model.SkipBelowThreshold
		return decision
	}

	if sub.LastAlertedAt != nil && now.Sub(*sub.LastAlertedAt) < e.cfg.Cooldown {
		decision.Skip = model.SkipCooldown
		return decision
	}

	if sub.LastAlertedRate != nil && sub.LastAlertedRate.IsPositive() {
		move := best.Price.Sub(*sub.LastAlertedRate).Div(*sub.LastAlertedRate).Mul(hundred)
		if move.Abs().LessThanOrEqual(e.cfg.RealertDeltaPct) {
			decision.Skip = model.SkipSmallDelta
			return decision
		}
	}

	decision.Fire = true
	decision.MonthlySavings = baseline.Sub(*best.Price).Mul(e.cfg.MonthlyUsageCcf)
	return decision
}

// subscriberTerritory prefers the stored territory and falls back to
// resolving the signup ZIP. Signup collects either field; a ZIP-only
// subscriber still belongs to exactly one utility's page.
func (e *Engine) subscriberTerritory(sub *model.Subscriber) string {
	if sub.Territory != "" {
		return sub.Territory
	}
	if e.territories != nil && sub.ZIP != "" {
		if terr, err := e.territories.Resolve(sub.ZIP); err == nil {
			return terr.ID
		}
	}
	return ""
}

func (e *Engine) resolveBaseline(sub *model.Subscriber, page *model.PageSnapshot) *decimal.Decimal {
	if sub.BaselineRate != nil && sub.BaselineRate.IsPositive() {
		return sub.BaselineRate
	}
	if page != nil {
		return page.DefaultRate
	}
	return nil
}

// bestQualifyingOffer is the cheapest fixed-rate offer without intro or
// bundle strings attached, above the sanity floor.
func (e *Engine) bestQualifyingOffer(page *model.PageSnapshot) *model.Offer {
	if page == nil {
		return nil
	}
	var best *model.Offer
	for i := range page.Offers {
		o := &page.Offers[i]
		if !o.Priced() || o.Kind != model.RateFixed || o.Introductory || o.BundleRequired {
			continue
		}
		if !o.Price.GreaterThan(e.cfg.PriceSanityFloor) {
			continue
		}
		if best == nil || o.Price.LessThan(*best.Price) {
			best = o
		}
	}
	return best
}

var hundred = decimal.NewFromInt(100)
