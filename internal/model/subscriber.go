package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscriber is an opted-in alert recipient. Signup and deletion belong to
// the web collaborator; the pipeline only reads confirmed subscribers and
// updates the last-alerted fields after a confirmed delivery.
type Subscriber struct {
	ID        int64
	Email     string
	ZIP       string
	Territory string

	// BaselineRate is the self-reported current rate ($/Ccf); when nil the
	// territory's standard offer is the baseline.
	BaselineRate *decimal.Decimal

	// ThresholdPct is the minimum savings percentage before an alert fires.
	ThresholdPct decimal.Decimal

	Confirmed       bool
	LastAlertedAt   *time.Time
	LastAlertedRate *decimal.Decimal

	CreatedAt time.Time
}
