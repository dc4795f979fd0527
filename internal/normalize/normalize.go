// Package normalize turns raw comparison-portal pages into canonical page
// snapshots. The upstream source publishes the same offer table as an HTML
// page and, for some territories, an XML feed; both land here. Parsing is a
// pure transform: no I/O, no shared state.
package normalize

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/territory"
)

// ParseError reports that one page failed to normalize. The run continues;
// the page contributes zero offers to the batch.
type ParseError struct {
	Key   model.PageKey
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse page %s (%s): %v", e.Key, e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// mcfToCcf rescales a price quoted per Mcf to the canonical $/Ccf.
// 1 Mcf = 10 Ccf.
var mcfDivisor = decimal.NewFromInt(10)

// Normalizer parses fetched pages into snapshots.
type Normalizer struct {
	logger zerolog.Logger
}

// New constructs a Normalizer.
func New(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger.With().Str("component", "normalizer").Logger()}
}

// Parse normalizes one page. unit is the territory's quoted price unit;
// Mcf-quoted pages are rescaled to Ccf. A page that parses to zero offers is
// a valid snapshot; a page whose structure cannot be decoded at all returns
// a *ParseError.
func (n *Normalizer) Parse(content []byte, key model.PageKey, unit territory.PriceUnit, fetchedAt time.Time) (*model.PageSnapshot, error) {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &ParseError{Key: key, Stage: "decode", Err: fmt.Errorf("empty page body")}
	}

	var (
		snap *model.PageSnapshot
		err  error
	)
	if looksLikeXML(trimmed) {
		snap, err = n.parseXML(content, key, fetchedAt)
	} else {
		snap, err = n.parseHTML(content, key, fetchedAt)
	}
	if err != nil {
		return nil, err
	}

	if unit == territory.UnitMcf {
		rescaleToCcf(snap)
	}

	n.logger.Debug().
		Str("page", key.String()).
		Int("offers", len(snap.Offers)).
		Bool("default_rate", snap.DefaultRate != nil).
		Msg("page normalized")

	return snap, nil
}

func looksLikeXML(trimmed []byte) bool {
	return bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<ratefeed"))
}

func rescaleToCcf(snap *model.PageSnapshot) {
	if snap.DefaultRate != nil {
		v := snap.DefaultRate.Div(mcfDivisor)
		snap.DefaultRate = &v
	}
	for i := range snap.Offers {
		o := &snap.Offers[i]
		if o.Price != nil {
			v := o.Price.Div(mcfDivisor)
			o.Price = &v
		}
	}
}

// parsePrice extracts a positive decimal price from portal text such as
// "$0.492", "0.492 per Ccf", or "$5.10/Mcf". Zero, negative, and
// unparseable values return nil: the portal renders placeholder zeros for
// offers whose price it failed to publish.
func parsePrice(text string) *decimal.Decimal {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "$")
	for _, cut := range []string{"per", "/"} {
		if idx := strings.Index(strings.ToLower(cleaned), cut); idx >= 0 {
			cleaned = cleaned[:idx]
		}
	}
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, ",", ""))
	if cleaned == "" {
		return nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || !d.IsPositive() {
		return nil
	}
	return &d
}

// parseTerm extracts a contract term in months. "Month-to-Month" and blank
// both mean no fixed term.
func parseTerm(text string) *int {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" || strings.Contains(cleaned, "month-to-month") || strings.Contains(cleaned, "monthly variable") {
		return nil
	}
	digits := strings.Builder{}
	for _, r := range cleaned {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		} else if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() == 0 {
		return nil
	}
	var months int
	if _, err := fmt.Sscanf(digits.String(), "%d", &months); err != nil || months <= 0 {
		return nil
	}
	return &months
}

func parseRateKind(text string) model.RateKind {
	switch {
	case strings.Contains(strings.ToLower(text), "fixed"):
		return model.RateFixed
	case strings.Contains(strings.ToLower(text), "variable"):
		return model.RateVariable
	default:
		return model.RateUnknown
	}
}

// Keyword heuristics for offer flags. These deliberately stop at keyword
// matching; the pipeline makes no attempt at semantic understanding of
// offer text.
func detectIntroductory(text string) bool {
	return containsAny(text, "intro", "introductory")
}

func detectPromotional(text string) bool {
	return containsAny(text, "promo", "bonus", "gift card", "reward")
}

func detectBundle(text string) bool {
	return containsAny(text, "bundle", "must also enroll", "requires enrollment")
}

func detectRenewable(text string) *model.RenewableClass {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "100% renewable"), strings.Contains(lower, "100 percent renewable"):
		c := model.RenewableFull
		return &c
	case strings.Contains(lower, "renewable"), strings.Contains(lower, "carbon neutral"), strings.Contains(lower, "carbon-neutral"):
		c := model.RenewablePartial
		return &c
	default:
		return nil
	}
}

func containsAny(text string, keywords ...string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
