package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/model"
)

// The portal's offer grid. Column order has been stable for years but cells
// go missing whenever a supplier leaves a field blank, so every cell read
// tolerates absence.
const (
	offerTableSelector = "table.offer-grid, table#offer-results"
	offerRowSelector   = "tbody tr"
	scoSelector        = ".sco-rate, #standard-offer"
)

// e.g. "Standard Choice Offer: $0.492 per Ccf effective through April 2026"
var scoPattern = regexp.MustCompile(`\$?([0-9]+\.[0-9]+)\s*(?:per|/)\s*[CcMm]cf(?:\s+effective\s+(.+))?$`)

func (n *Normalizer) parseHTML(content []byte, key model.PageKey, fetchedAt time.Time) (*model.PageSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, &ParseError{Key: key, Stage: "decode", Err: err}
	}

	table := doc.Find(offerTableSelector).First()
	if table.Length() == 0 {
		return nil, &ParseError{Key: key, Stage: "offers", Err: fmt.Errorf("no offer table in page")}
	}

	snap := &model.PageSnapshot{Key: key, FetchedAt: fetchedAt}

	// Missing standard-offer narrative is not an error; the default rate
	// stays nil and downstream treats the page accordingly.
	if sco := doc.Find(scoSelector).First(); sco.Length() > 0 {
		rate, effective := parseSCOText(sco.Text())
		snap.DefaultRate = rate
		snap.DefaultRateEffective = effective
	}

	table.Find(offerRowSelector).Each(func(_ int, row *goquery.Selection) {
		offer := parseOfferRow(row)
		if offer == nil {
			return
		}
		snap.Offers = append(snap.Offers, *offer)
	})

	return snap, nil
}

func parseOfferRow(row *goquery.Selection) *model.Offer {
	cells := row.Find("td")
	if cells.Length() == 0 {
		return nil
	}

	cell := func(i int) string {
		if i >= cells.Length() {
			return ""
		}
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	supplier := cell(0)
	if supplier == "" {
		// Spacer and disclaimer rows render as offer rows with an empty
		// first cell.
		return nil
	}

	// The company span nests inside the supplier cell; its text must not
	// bleed into the supplier name.
	company := strings.TrimSpace(cells.Eq(0).Find("span.company").Text())
	if company != "" {
		supplier = strings.TrimSpace(strings.Replace(supplier, company, "", 1))
	}

	offer := &model.Offer{
		Supplier:    supplier,
		CompanyName: company,
		Price:       parsePrice(cell(1)),
		Kind:        parseRateKind(cell(2)),
		TermMonth:   parseTerm(cell(3)),
		Description: cell(6),
	}
	if id, ok := row.Attr("data-offer-id"); ok {
		offer.SourceID = strings.TrimSpace(id)
	}
	if fee := parsePrice(cell(4)); fee != nil {
		offer.EarlyTerminationFee = fee
	}
	if fee := parsePrice(cell(5)); fee != nil {
		offer.MonthlyFee = fee
	}
	if href, ok := row.Find("a.signup").Attr("href"); ok {
		offer.SignupURL = strings.TrimSpace(href)
	}

	flagText := offer.Description + " " + cell(2)
	offer.Introductory = detectIntroductory(flagText)
	offer.Promotional = detectPromotional(flagText)
	offer.BundleRequired = detectBundle(flagText)
	offer.Renewable = detectRenewable(offer.Description)

	return offer
}

func parseSCOText(text string) (rate *decimal.Decimal, effective string) {
	m := scoPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil, ""
	}
	rate = parsePrice(m[1])
	if len(m) > 2 {
		effective = strings.TrimSpace(m[2])
	}
	return rate, effective
}
