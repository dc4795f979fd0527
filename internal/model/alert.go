package model

import "github.com/shopspring/decimal"

// SkipReason explains why a subscriber did not receive an alert this run.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNoBaseline     SkipReason = "no_baseline"
	SkipNoOffer        SkipReason = "no_qualifying_offer"
	SkipBelowThreshold SkipReason = "below_threshold"
	SkipCooldown       SkipReason = "cooldown"
	SkipSmallDelta     SkipReason = "realert_delta"
)

// AlertDecision is the pipeline's per-subscriber, per-run output. It is
// ephemeral: consumed by the notification collaborator, never persisted.
type AlertDecision struct {
	Subscriber *Subscriber
	Fire       bool
	Skip       SkipReason

	Baseline       decimal.Decimal
	BestOffer      *Offer
	SavingsPct     decimal.Decimal
	MonthlySavings decimal.Decimal
}
