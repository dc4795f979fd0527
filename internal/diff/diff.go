// Package diff compares an accepted batch against the previous accepted
// one and emits typed rate events. Events are the only durable record of
// change and feed both alerting and the historical trend views.
package diff

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/model"
)

// MatchStrategy derives the cross-batch identity of an offer. Kept as an
// explicit strategy so a different upstream source can supply its own
// without touching the diff algorithm.
type MatchStrategy interface {
	Key(offer model.Offer) string
}

// StableThenComposite prefers the source-provided offer id and falls back
// to (supplier, term, rate kind). The fallback cannot distinguish two
// genuinely different offers from the same supplier with identical term and
// kind; when the portal replaces one with a similar sibling the diff reads
// it as a rate change. Known limitation of the source data, not fixable by
// guessing extra keys.
type StableThenComposite struct{}

func (StableThenComposite) Key(offer model.Offer) string {
	if offer.SourceID != "" {
		return "id:" + offer.SourceID
	}
	return "ck:" + offer.CompositeKey()
}

// Config holds the noise thresholds for supplier price changes.
type Config struct {
	// MinPctChange is the minimum percentage move to report (default 5).
	MinPctChange decimal.Decimal
	// MinAbsChange filters floating-point and rounding noise (default 0.01).
	MinAbsChange decimal.Decimal
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinPctChange: decimal.NewFromInt(5),
		MinAbsChange: decimal.NewFromFloat(0.01),
	}
}

// Detector diffs snapshots page by page.
type Detector struct {
	cfg      Config
	strategy MatchStrategy
	logger   zerolog.Logger
}

// New constructs a Detector. A nil strategy gets StableThenComposite.
func New(cfg Config, strategy MatchStrategy, logger zerolog.Logger) *Detector {
	if strategy == nil {
		strategy = StableThenComposite{}
	}
	if cfg.MinPctChange.IsZero() {
		cfg.MinPctChange = decimal.NewFromInt(5)
	}
	if cfg.MinAbsChange.IsZero() {
		cfg.MinAbsChange = decimal.NewFromFloat(0.01)
	}
	return &Detector{cfg: cfg, strategy: strategy, logger: logger.With().Str("component", "change_detector").Logger()}
}

// Diff emits the events between the prior and current snapshot of one page.
// prior may be nil (first accepted run for this page): every current offer
// is then a new_offer and no removals or rate changes are possible.
// Output order is deterministic: default-rate change first, then offers
// sorted by match key. Pure function of its inputs.
func (d *Detector) Diff(prior, current *model.PageSnapshot, runID uuid.UUID, at time.Time) []model.RateEvent {
	var events []model.RateEvent

	if ev := d.diffDefaultRate(prior, current, runID, at); ev != nil {
		events = append(events, *ev)
	}

	priorByKey := map[string]model.Offer{}
	if prior != nil {
		for _, o := range prior.PricedOffers() {
			priorByKey[d.strategy.Key(o)] = o
		}
	}

	currentByKey := map[string]model.Offer{}
	for _, o := range current.PricedOffers() {
		currentByKey[d.strategy.Key(o)] = o
	}

	keys := make([]string, 0, len(currentByKey)+len(priorByKey))
	for k := range currentByKey {
		keys = append(keys, k)
	}
	for k := range priorByKey {
		if _, ok := currentByKey[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		cur, inCurrent := currentByKey[k]
		old, inPrior := priorByKey[k]

		switch {
		case inCurrent && !inPrior:
			events = append(events, model.RateEvent{
				Type:       model.EventNewOffer,
				Key:        current.Key,
				Supplier:   cur.Supplier,
				NewRate:    cur.Price,
				DetectedAt: at,
				RunID:      runID,
			})
		case !inCurrent && inPrior:
			events = append(events, model.RateEvent{
				Type:       model.EventRemovedOffer,
				Key:        current.Key,
				Supplier:   old.Supplier,
				OldRate:    old.Price,
				DetectedAt: at,
				RunID:      runID,
			})
		default:
			if ev := d.offerRateChange(old, cur, current.Key, runID, at); ev != nil {
				events = append(events, *ev)
			}
		}
	}

	return events
}

// diffDefaultRate reports any numeric movement of the standard offer.
// Regulatory default rates change rarely, so every non-nil-to-non-nil
// change is material and no noise threshold applies.
func (d *Detector) diffDefaultRate(prior, current *model.PageSnapshot, runID uuid.UUID, at time.Time) *model.RateEvent {
	if prior == nil || prior.DefaultRate == nil || current.DefaultRate == nil {
		return nil
	}
	old, cur := *prior.DefaultRate, *current.DefaultRate
	if old.Equal(cur) {
		return nil
	}
	abs := cur.Sub(old)
	pct := pctChange(old, cur)
	return &model.RateEvent{
		Type:       model.EventRateChange,
		Key:        current.Key,
		OldRate:    &old,
		NewRate:    &cur,
		AbsChange:  &abs,
		PctChange:  &pct,
		DetectedAt: at,
		RunID:      runID,
	}
}

func (d *Detector) offerRateChange(old, cur model.Offer, key model.PageKey, runID uuid.UUID, at time.Time) *model.RateEvent {
	abs := cur.Price.Sub(*old.Price)
	if abs.Abs().LessThan(d.cfg.MinAbsChange) {
		return nil
	}
	pct := pctChange(*old.Price, *cur.Price)
	if pct.Abs().LessThan(d.cfg.MinPctChange) {
		return nil
	}
	return &model.RateEvent{
		Type:       model.EventRateChange,
		Key:        key,
		Supplier:   cur.Supplier,
		OldRate:    old.Price,
		NewRate:    cur.Price,
		AbsChange:  &abs,
		PctChange:  &pct,
		DetectedAt: at,
		RunID:      runID,
	}
}

var hundred = decimal.NewFromInt(100)

func pctChange(old, cur decimal.Decimal) decimal.Decimal {
	return cur.Sub(old).Div(old).Mul(hundred)
}
