// Package validate decides whether a day's batch is trustworthy enough to
// commit. The upstream portal has no format or uptime guarantee; the gate
// prefers keeping stale history over publishing a corrupted day.
package validate

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"ohio-rate-watch/internal/model"
)

// Config tunes the gate.
type Config struct {
	// MinOfferFloor substitutes for the median while too little history
	// exists to compute one.
	MinOfferFloor int
	// MinRatioPct is the fraction of the trailing median (in percent) the
	// batch must reach.
	MinRatioPct int
	// MinHistory is how many successful runs are needed before the median
	// is trusted over the floor.
	MinHistory int
}

// DefaultConfig matches the production tuning: 30% of the trailing-7-day
// median, floor of 30 offers.
func DefaultConfig() Config {
	return Config{MinOfferFloor: 30, MinRatioPct: 30, MinHistory: 3}
}

// Decision is the gate's verdict plus the numbers behind it, for the run
// record and the operator diagnostic.
type Decision struct {
	Accepted  bool
	Median    int
	Threshold int
	Actual    int
	Reason    string
}

// Gate evaluates daily batches against a rolling offer-count baseline.
type Gate struct {
	cfg    Config
	logger zerolog.Logger
}

// New constructs a Gate.
func New(cfg Config, logger zerolog.Logger) *Gate {
	if cfg.MinOfferFloor <= 0 {
		cfg.MinOfferFloor = 30
	}
	if cfg.MinRatioPct <= 0 {
		cfg.MinRatioPct = 30
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 3
	}
	return &Gate{cfg: cfg, logger: logger.With().Str("component", "validation_gate").Logger()}
}

// Evaluate judges a candidate batch. history holds the offer counts of the
// trailing successful runs, most recent first; only the count matters, not
// the order.
func (g *Gate) Evaluate(batch *model.DailyBatch, history []int) Decision {
	median := g.baselineMedian(history)
	threshold := median * g.cfg.MinRatioPct / 100
	actual := batch.TotalOffers()

	d := Decision{Median: median, Threshold: threshold, Actual: actual}

	if actual < threshold {
		d.Reason = fmt.Sprintf("offer count %d below %d%% of trailing median %d (threshold %d)",
			actual, g.cfg.MinRatioPct, median, threshold)
		g.logger.Warn().Int("actual", actual).Int("median", median).Int("threshold", threshold).
			Msg("batch rejected: offer count collapsed")
		return d
	}

	if page, field := findGarbagePage(batch); page != nil {
		d.Reason = fmt.Sprintf("page %s parsed structurally but every offer is missing %s",
			page.Key, field)
		g.logger.Warn().Str("page", page.Key.String()).Str("missing_field", field).
			Msg("batch rejected: garbage page")
		return d
	}

	d.Accepted = true
	return d
}

// baselineMedian is the median of the trailing successful run counts, or
// the fixed floor when history is too thin to trust.
func (g *Gate) baselineMedian(history []int) int {
	if len(history) < g.cfg.MinHistory {
		return g.cfg.MinOfferFloor
	}
	counts := make([]int, len(history))
	copy(counts, history)
	sort.Ints(counts)
	mid := len(counts) / 2
	if len(counts)%2 == 1 {
		return counts[mid]
	}
	return (counts[mid-1] + counts[mid]) / 2
}

// findGarbagePage looks for a page where a required field is absent from
// every offer: structurally parseable markup wrapping garbage. Pages with
// zero offers are fine; the batch-level count check covers those.
func findGarbagePage(batch *model.DailyBatch) (*model.PageSnapshot, string) {
	for _, page := range batch.Pages {
		if len(page.Offers) == 0 {
			continue
		}
		if field := allOffersMissing(page.Offers); field != "" {
			return page, field
		}
	}
	return nil, ""
}

func allOffersMissing(offers []model.Offer) string {
	anySupplier, anyPrice, anyKind := false, false, false
	for _, o := range offers {
		if o.Supplier != "" {
			anySupplier = true
		}
		if o.Priced() {
			anyPrice = true
		}
		if o.Kind != model.RateUnknown {
			anyKind = true
		}
	}
	switch {
	case !anySupplier:
		return "supplier name"
	case !anyPrice:
		return "price"
	case !anyKind:
		return "rate kind"
	default:
		return ""
	}
}
