package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateClass is the coarse customer-class selector offers are grouped under.
type RateClass string

const (
	ClassResidential     RateClass = "residential"
	ClassSmallCommercial RateClass = "small_commercial"
)

// PageKey identifies one comparison page: commodity, utility territory, and
// customer class.
type PageKey struct {
	Category  Category
	Territory string
	RateClass RateClass
}

func (k PageKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Category, k.Territory, k.RateClass)
}

// PageSnapshot is the normalized result of one page fetch. Immutable once
// stored.
type PageSnapshot struct {
	Key       PageKey
	FetchedAt time.Time

	// DefaultRate is the regulator-set standard offer ($/Ccf), nil when the
	// page carried no parseable standard-offer narrative.
	DefaultRate          *decimal.Decimal
	DefaultRateEffective string

	Offers []Offer
}

// PricedOffers returns the offers usable for comparisons.
func (s *PageSnapshot) PricedOffers() []Offer {
	out := make([]Offer, 0, len(s.Offers))
	for _, o := range s.Offers {
		if o.Priced() {
			out = append(out, o)
		}
	}
	return out
}

// DailyBatch is the set of page snapshots fetched in one run. The validation
// gate accepts or rejects it as a unit.
type DailyBatch struct {
	FetchedAt time.Time
	Pages     []*PageSnapshot
}

// TotalOffers counts offers across every page in the batch.
func (b *DailyBatch) TotalOffers() int {
	total := 0
	for _, p := range b.Pages {
		total += len(p.Offers)
	}
	return total
}

// Page returns the snapshot for a key, or nil.
func (b *DailyBatch) Page(key PageKey) *PageSnapshot {
	for _, p := range b.Pages {
		if p.Key == key {
			return p
		}
	}
	return nil
}
