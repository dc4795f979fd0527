package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Category identifies the commodity a comparison page covers.
type Category string

const (
	CategoryNaturalGas Category = "natural_gas"
)

// RateKind classifies the pricing structure of an offer.
type RateKind string

const (
	RateFixed    RateKind = "fixed"
	RateVariable RateKind = "variable"
	RateUnknown  RateKind = "unknown"
)

// RenewableClass is the supplier's renewable-content claim, when stated.
type RenewableClass string

const (
	RenewableNone    RenewableClass = "none"
	RenewablePartial RenewableClass = "partial"
	RenewableFull    RenewableClass = "100pct"
)

// Offer is one supplier's rate listing for one page on one calendar day.
// Price is canonical $/Ccf. A nil or non-positive price means the source
// value could not be parsed; such offers are excluded from comparisons.
type Offer struct {
	SourceID    string `json:"source_id,omitempty"`
	Supplier    string `json:"supplier"`
	CompanyName string `json:"company,omitempty"`

	Price     *decimal.Decimal `json:"price,omitempty"`
	Kind      RateKind         `json:"kind"`
	TermMonth *int             `json:"term_months,omitempty"`

	EarlyTerminationFee *decimal.Decimal `json:"etf,omitempty"`
	MonthlyFee          *decimal.Decimal `json:"monthly_fee,omitempty"`

	Introductory   bool            `json:"intro,omitempty"`
	Promotional    bool            `json:"promo,omitempty"`
	BundleRequired bool            `json:"bundle,omitempty"`
	Renewable      *RenewableClass `json:"renewable,omitempty"`

	Description string `json:"description,omitempty"`
	SignupURL   string `json:"signup_url,omitempty"`
}

// Priced reports whether the offer carries a usable price.
func (o Offer) Priced() bool {
	return o.Price != nil && o.Price.IsPositive()
}

// CompositeKey is the fallback offer identity when the source provides no
// stable id: supplier name, term, and rate kind within one page.
func (o Offer) CompositeKey() string {
	term := -1
	if o.TermMonth != nil {
		term = *o.TermMonth
	}
	return fmt.Sprintf("%s|%d|%s", o.Supplier, term, o.Kind)
}
