package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/territory"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeSubscriberStore struct {
	subscribers []model.Subscriber
	marked      []int64
	markErr     error
}

func (s *fakeSubscriberStore) ListConfirmedSubscribers(ctx context.Context, territory string) ([]model.Subscriber, error) {
	return s.subscribers, nil
}

func (s *fakeSubscriberStore) MarkAlerted(ctx context.Context, subscriberID int64, rate decimal.Decimal, at time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, subscriberID)
	return nil
}

type fakeSender struct {
	sent    []model.AlertDecision
	sendErr error
}

func (s *fakeSender) SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, decision)
	return nil
}

func batchFor(terr string, defaultRate *decimal.Decimal, offers ...model.Offer) *model.DailyBatch {
	return &model.DailyBatch{
		FetchedAt: time.Now(),
		Pages: []*model.PageSnapshot{{
			Key: model.PageKey{
				Category:  model.CategoryNaturalGas,
				Territory: terr,
				RateClass: model.ClassResidential,
			},
			DefaultRate: defaultRate,
			Offers:      offers,
		}},
	}
}

func columbiaBatch(defaultRate *decimal.Decimal, offers ...model.Offer) *model.DailyBatch {
	return batchFor("columbia", defaultRate, offers...)
}

func fixedOffer(supplier, price string) model.Offer {
	return model.Offer{Supplier: supplier, Price: dec(price), Kind: model.RateFixed}
}

func engine(subs SubscriberStore, sender Sender) *Engine {
	return New(DefaultConfig(), subs, sender, nil, zerolog.Nop())
}

func TestDecideFiresAboveThreshold(t *testing.T) {
	sub := model.Subscriber{ID: 1, Email: "a@example.com", Territory: "columbia", BaselineRate: dec("1.071")}
	batch := columbiaBatch(dec("0.492"), fixedOffer("Acme Energy", "0.850"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())

	if !d.Fire {
		t.Fatalf("expected alert to fire, skipped as %q", d.Skip)
	}
	if got := d.SavingsPct.StringFixed(1); got != "20.6" {
		t.Fatalf("savings pct = %s", got)
	}
	if !d.MonthlySavings.Equal(decimal.RequireFromString("22.1")) {
		t.Fatalf("monthly savings = %s", d.MonthlySavings)
	}
	if d.BestOffer == nil || d.BestOffer.Supplier != "Acme Energy" {
		t.Fatalf("best offer = %+v", d.BestOffer)
	}
}

func TestDecideBelowThreshold(t *testing.T) {
	// 7% below baseline does not clear the 15% default.
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.000")}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.930"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())
	if d.Fire || d.Skip != model.SkipBelowThreshold {
		t.Fatalf("expected below_threshold skip, got fire=%v skip=%q", d.Fire, d.Skip)
	}
}

func TestDecidePerSubscriberThreshold(t *testing.T) {
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.000"), ThresholdPct: decimal.NewFromInt(5)}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.930"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())
	if !d.Fire {
		t.Fatalf("7%% savings should clear a 5%% threshold, skipped as %q", d.Skip)
	}
}

func TestDecideBaselineFallsBackToDefaultRate(t *testing.T) {
	sub := model.Subscriber{ID: 1, Territory: "columbia"}
	batch := columbiaBatch(dec("1.071"), fixedOffer("Acme Energy", "0.850"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())
	if !d.Fire {
		t.Fatalf("default-rate baseline should qualify, skipped as %q", d.Skip)
	}
	if !d.Baseline.Equal(decimal.RequireFromString("1.071")) {
		t.Fatalf("baseline = %s", d.Baseline)
	}
}

func TestDecideResolvesTerritoryFromZIP(t *testing.T) {
	resolver, err := territory.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	// Signup stored only a Cincinnati ZIP; the Duke page must still match.
	sub := model.Subscriber{ID: 1, ZIP: "45202", BaselineRate: dec("1.071")}
	batch := batchFor("duke", nil, fixedOffer("Acme Energy", "0.850"))

	e := New(DefaultConfig(), &fakeSubscriberStore{}, &fakeSender{}, resolver, zerolog.Nop())
	d := e.Decide(&sub, batch, time.Now())
	if !d.Fire {
		t.Fatalf("ZIP-only subscriber should match their utility's page, skipped as %q", d.Skip)
	}
	if d.BestOffer == nil || d.BestOffer.Supplier != "Acme Energy" {
		t.Fatalf("best offer = %+v", d.BestOffer)
	}
}

func TestDecideStoredTerritoryWinsOverZIP(t *testing.T) {
	resolver, err := territory.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	// A Cincinnati ZIP with an explicit columbia territory stays columbia.
	sub := model.Subscriber{ID: 1, ZIP: "45202", Territory: "columbia", BaselineRate: dec("1.071")}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.850"))

	e := New(DefaultConfig(), &fakeSubscriberStore{}, &fakeSender{}, resolver, zerolog.Nop())
	if d := e.Decide(&sub, batch, time.Now()); !d.Fire {
		t.Fatalf("stored territory should be used as-is, skipped as %q", d.Skip)
	}
}

func TestDecideUsesConfiguredRateClass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateClass = model.ClassSmallCommercial

	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.071")}
	batch := &model.DailyBatch{
		FetchedAt: time.Now(),
		Pages: []*model.PageSnapshot{{
			Key: model.PageKey{
				Category:  model.CategoryNaturalGas,
				Territory: "columbia",
				RateClass: model.ClassSmallCommercial,
			},
			Offers: []model.Offer{fixedOffer("Acme Energy", "0.850")},
		}},
	}

	e := New(cfg, &fakeSubscriberStore{}, &fakeSender{}, nil, zerolog.Nop())
	if d := e.Decide(&sub, batch, time.Now()); !d.Fire {
		t.Fatalf("configured rate class should select the page, skipped as %q", d.Skip)
	}
}

func TestDecideNoBaseline(t *testing.T) {
	sub := model.Subscriber{ID: 1, Territory: "columbia"}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.850"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())
	if d.Fire || d.Skip != model.SkipNoBaseline {
		t.Fatalf("expected no_baseline skip, got fire=%v skip=%q", d.Fire, d.Skip)
	}
}

func TestDecideQualifyingOfferFilters(t *testing.T) {
	twelve := 12
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.071")}
	batch := columbiaBatch(nil,
		model.Offer{Supplier: "Teaser Gas", Price: dec("0.500"), Kind: model.RateFixed, Introductory: true},
		model.Offer{Supplier: "Float Gas", Price: dec("0.400"), Kind: model.RateVariable},
		model.Offer{Supplier: "Combo Gas", Price: dec("0.450"), Kind: model.RateFixed, BundleRequired: true},
		model.Offer{Supplier: "Glitch Gas", Price: dec("0.001"), Kind: model.RateFixed},
		model.Offer{Supplier: "Honest Gas", Price: dec("0.850"), Kind: model.RateFixed, TermMonth: &twelve},
	)

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())
	if !d.Fire {
		t.Fatalf("expected alert to fire, skipped as %q", d.Skip)
	}
	if d.BestOffer.Supplier != "Honest Gas" {
		t.Fatalf("best offer should skip intro, variable, bundle, and sanity-floor rows: got %q", d.BestOffer.Supplier)
	}
}

func TestDecideNoQualifyingOffer(t *testing.T) {
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.071")}
	batch := columbiaBatch(nil, model.Offer{Supplier: "Float Gas", Price: dec("0.400"), Kind: model.RateVariable})

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, time.Now())
	if d.Fire || d.Skip != model.SkipNoOffer {
		t.Fatalf("expected no_qualifying_offer skip, got fire=%v skip=%q", d.Fire, d.Skip)
	}
}

func TestDecideCooldown(t *testing.T) {
	now := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	threeDaysAgo := now.Add(-3 * 24 * time.Hour)
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.071"), LastAlertedAt: &threeDaysAgo, LastAlertedRate: dec("0.850")}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.700"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, now)
	if d.Fire || d.Skip != model.SkipCooldown {
		t.Fatalf("expected cooldown skip, got fire=%v skip=%q", d.Fire, d.Skip)
	}
}

func TestDecideRealertDeltaTooSmall(t *testing.T) {
	now := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	eightDaysAgo := now.Add(-8 * 24 * time.Hour)
	// Best offer moved 1.2% since the last alert: inside the 3% re-alert band.
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.071"), LastAlertedAt: &eightDaysAgo, LastAlertedRate: dec("0.850")}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.8398"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, now)
	if d.Fire || d.Skip != model.SkipSmallDelta {
		t.Fatalf("expected realert_delta skip, got fire=%v skip=%q", d.Fire, d.Skip)
	}
}

func TestDecideRealertDeltaLargeEnough(t *testing.T) {
	now := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	eightDaysAgo := now.Add(-8 * 24 * time.Hour)
	// A 10% drop since the last alert fires again once the cooldown lapses.
	sub := model.Subscriber{ID: 1, Territory: "columbia", BaselineRate: dec("1.071"), LastAlertedAt: &eightDaysAgo, LastAlertedRate: dec("0.850")}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.765"))

	d := engine(&fakeSubscriberStore{}, &fakeSender{}).Decide(&sub, batch, now)
	if !d.Fire {
		t.Fatalf("expected re-alert to fire, skipped as %q", d.Skip)
	}
}

func TestEvaluateRunMarksOnlyDelivered(t *testing.T) {
	subs := &fakeSubscriberStore{subscribers: []model.Subscriber{
		{ID: 1, Email: "a@example.com", Territory: "columbia", BaselineRate: dec("1.071")},
	}}
	sender := &fakeSender{}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.850"))

	out, err := engine(subs, sender).EvaluateRun(context.Background(), batch, RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("EvaluateRun: %v", err)
	}
	if out.Fired != 1 || out.Delivered != 1 || out.Failed != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(subs.marked) != 1 || subs.marked[0] != 1 {
		t.Fatalf("marked = %v", subs.marked)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
}

func TestEvaluateRunDeliveryFailureKeepsEligibility(t *testing.T) {
	subs := &fakeSubscriberStore{subscribers: []model.Subscriber{
		{ID: 1, Email: "a@example.com", Territory: "columbia", BaselineRate: dec("1.071")},
		{ID: 2, Email: "b@example.com", Territory: "columbia", BaselineRate: dec("1.071")},
	}}
	sender := &fakeSender{sendErr: errors.New("smtp down")}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.850"))

	out, err := engine(subs, sender).EvaluateRun(context.Background(), batch, RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("EvaluateRun: %v", err)
	}
	if out.Failed != 2 || out.Delivered != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(subs.marked) != 0 {
		t.Fatalf("failed deliveries must not move the cooldown window: marked = %v", subs.marked)
	}
}

func TestEvaluateRunDryRunSendsNothing(t *testing.T) {
	subs := &fakeSubscriberStore{subscribers: []model.Subscriber{
		{ID: 1, Email: "a@example.com", Territory: "columbia", BaselineRate: dec("1.071")},
	}}
	sender := &fakeSender{}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.850"))

	out, err := engine(subs, sender).EvaluateRun(context.Background(), batch, RunOptions{DryRun: true, Now: time.Now()})
	if err != nil {
		t.Fatalf("EvaluateRun: %v", err)
	}
	if out.Fired != 1 {
		t.Fatalf("dry run should still count decisions: %+v", out)
	}
	if len(sender.sent) != 0 || len(subs.marked) != 0 {
		t.Fatalf("dry run must not send or mark: sent=%d marked=%v", len(sender.sent), subs.marked)
	}
}

func TestEvaluateRunSkipCounts(t *testing.T) {
	subs := &fakeSubscriberStore{subscribers: []model.Subscriber{
		{ID: 1, Territory: "columbia"},
		{ID: 2, Territory: "columbia", BaselineRate: dec("1.000")},
	}}
	batch := columbiaBatch(nil, fixedOffer("Acme Energy", "0.930"))

	out, err := engine(subs, &fakeSender{}).EvaluateRun(context.Background(), batch, RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("EvaluateRun: %v", err)
	}
	if out.Evaluated != 2 || out.Fired != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Skipped[model.SkipNoBaseline] != 1 || out.Skipped[model.SkipBelowThreshold] != 1 {
		t.Fatalf("skip counts = %v", out.Skipped)
	}
}
