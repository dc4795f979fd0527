package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType classifies a detected change between two accepted batches.
type EventType string

const (
	EventNewOffer     EventType = "new_offer"
	EventRemovedOffer EventType = "removed_offer"
	EventRateChange   EventType = "rate_change"
)

// RateEvent is an append-only change record, created only by the change
// detector against an accepted batch.
type RateEvent struct {
	ID   int64
	Type EventType
	Key  PageKey

	// Supplier is empty for standard-offer (default rate) changes.
	Supplier string

	OldRate *decimal.Decimal
	NewRate *decimal.Decimal

	AbsChange *decimal.Decimal
	PctChange *decimal.Decimal

	DetectedAt time.Time
	RunID      uuid.UUID
}
