package normalize

import (
	"encoding/xml"
	"strings"
	"time"

	"ohio-rate-watch/internal/model"
)

// The XML export mirrors the HTML grid. Attributes are optional throughout;
// an attribute the exporter omitted decodes to its zero value and the same
// missing-field handling as HTML applies.
type rateFeed struct {
	XMLName       xml.Name       `xml:"ratefeed"`
	StandardOffer *standardOffer `xml:"standardoffer"`
	Offers        []feedOffer    `xml:"offer"`
}

type standardOffer struct {
	Rate      string `xml:"rate,attr"`
	Effective string `xml:"effective,attr"`
}

type feedOffer struct {
	ID         string `xml:"id,attr"`
	Supplier   string `xml:"supplier,attr"`
	Company    string `xml:"company,attr"`
	Rate       string `xml:"rate,attr"`
	Type       string `xml:"type,attr"`
	Term       string `xml:"term,attr"`
	ETF        string `xml:"etf,attr"`
	MonthlyFee string `xml:"monthlyfee,attr"`
	Intro      bool   `xml:"intro,attr"`
	Promo      bool   `xml:"promo,attr"`
	Bundle     bool   `xml:"bundle,attr"`
	Renewable  string `xml:"renewable,attr"`

	Description string `xml:"description"`
	Signup      string `xml:"signup"`
}

func (n *Normalizer) parseXML(content []byte, key model.PageKey, fetchedAt time.Time) (*model.PageSnapshot, error) {
	var feed rateFeed
	if err := xml.Unmarshal(content, &feed); err != nil {
		return nil, &ParseError{Key: key, Stage: "decode", Err: err}
	}

	snap := &model.PageSnapshot{Key: key, FetchedAt: fetchedAt}

	if feed.StandardOffer != nil {
		snap.DefaultRate = parsePrice(feed.StandardOffer.Rate)
		snap.DefaultRateEffective = strings.TrimSpace(feed.StandardOffer.Effective)
	}

	for _, fo := range feed.Offers {
		supplier := strings.TrimSpace(fo.Supplier)
		if supplier == "" {
			continue
		}
		offer := model.Offer{
			SourceID:            strings.TrimSpace(fo.ID),
			Supplier:            supplier,
			CompanyName:         strings.TrimSpace(fo.Company),
			Price:               parsePrice(fo.Rate),
			Kind:                parseRateKind(fo.Type),
			TermMonth:           parseTerm(fo.Term),
			EarlyTerminationFee: parsePrice(fo.ETF),
			MonthlyFee:          parsePrice(fo.MonthlyFee),
			Introductory:        fo.Intro,
			Promotional:         fo.Promo,
			BundleRequired:      fo.Bundle,
			Description:         strings.TrimSpace(fo.Description),
			SignupURL:           strings.TrimSpace(fo.Signup),
		}
		switch strings.ToLower(strings.TrimSpace(fo.Renewable)) {
		case "100pct", "full":
			c := model.RenewableFull
			offer.Renewable = &c
		case "partial":
			c := model.RenewablePartial
			offer.Renewable = &c
		case "none":
			c := model.RenewableNone
			offer.Renewable = &c
		}
		// The feed omits flag attributes more often than the HTML does;
		// keyword heuristics fill the gap from the description.
		if !offer.Introductory {
			offer.Introductory = detectIntroductory(offer.Description)
		}
		if !offer.Promotional {
			offer.Promotional = detectPromotional(offer.Description)
		}
		if !offer.BundleRequired {
			offer.BundleRequired = detectBundle(offer.Description)
		}
		if offer.Renewable == nil {
			offer.Renewable = detectRenewable(offer.Description)
		}
		snap.Offers = append(snap.Offers, offer)
	}

	return snap, nil
}
