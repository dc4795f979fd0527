package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/alert"
	"ohio-rate-watch/internal/diff"
	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/normalize"
	"ohio-rate-watch/internal/territory"
	"ohio-rate-watch/internal/validate"
)

type fakeFetcher struct {
	pages  map[string][]byte
	errors map[string]error
}

func (f *fakeFetcher) FetchPage(ctx context.Context, key model.PageKey, terr territory.Territory) ([]byte, error) {
	if err, ok := f.errors[terr.ID]; ok {
		return nil, err
	}
	content, ok := f.pages[terr.ID]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", terr.ID)
	}
	return content, nil
}

type finalizeCall struct {
	runID  uuid.UUID
	status model.RunStatus
	reason string
}

type fakeRunStore struct {
	begun     []model.RunRecord
	finalized []finalizeCall
	counts    []int
	countsErr error
}

func (s *fakeRunStore) BeginRun(ctx context.Context, run *model.RunRecord) error {
	s.begun = append(s.begun, *run)
	return nil
}

func (s *fakeRunStore) FinalizeRun(ctx context.Context, runID uuid.UUID, status model.RunStatus, reason string, totalOffers, pagesFailed int) error {
	s.finalized = append(s.finalized, finalizeCall{runID: runID, status: status, reason: reason})
	return nil
}

func (s *fakeRunStore) SuccessfulRunCounts(ctx context.Context, lastNDays int) ([]int, error) {
	return s.counts, s.countsErr
}

func (s *fakeRunStore) ListRecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	return nil, nil
}

type committedBatch struct {
	run    model.RunRecord
	batch  *model.DailyBatch
	events []model.RateEvent
}

type fakeSnapshotStore struct {
	prior     map[model.PageKey]*model.PageSnapshot
	committed []committedBatch
	commitErr error
}

func (s *fakeSnapshotStore) CommitAcceptedBatch(ctx context.Context, run *model.RunRecord, batch *model.DailyBatch, events []model.RateEvent) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, committedBatch{run: *run, batch: batch, events: events})
	return nil
}

func (s *fakeSnapshotStore) LastAcceptedSnapshot(ctx context.Context, key model.PageKey) (*model.PageSnapshot, error) {
	return s.prior[key], nil
}

type fakeNotifier struct {
	alerts      int
	diagnostics []string
}

func (n *fakeNotifier) SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error {
	n.alerts++
	return nil
}

func (n *fakeNotifier) SendOperatorDiagnostic(ctx context.Context, message string) error {
	n.diagnostics = append(n.diagnostics, message)
	return nil
}

// feedWithOffers renders an XML page fixture carrying n priced offers.
func feedWithOffers(n int) []byte {
	b := strings.Builder{}
	b.WriteString(`<?xml version="1.0"?><ratefeed><standardoffer rate="0.492"/>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<offer id="of-%d" supplier="Supplier %d" rate="0.8%d0" type="Fixed" term="12"/>`, i, i, i%10)
	}
	b.WriteString(`</ratefeed>`)
	return []byte(b.String())
}

func allTerritoryPages(n int) map[string][]byte {
	return map[string][]byte{
		"enbridge":    feedWithOffers(n),
		"columbia":    feedWithOffers(n),
		"duke":        feedWithOffers(n),
		"centerpoint": feedWithOffers(n),
	}
}

func newPipeline(t *testing.T, deps Collaborators) *Pipeline {
	t.Helper()
	resolver, err := territory.NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	deps.Territories = resolver
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(zerolog.Nop())
	}
	if deps.Gate == nil {
		deps.Gate = validate.New(validate.DefaultConfig(), zerolog.Nop())
	}
	if deps.Detector == nil {
		deps.Detector = diff.New(diff.DefaultConfig(), nil, zerolog.Nop())
	}
	return New(deps, Options{}, zerolog.Nop())
}

func TestExecuteSuccessfulRun(t *testing.T) {
	runs := &fakeRunStore{counts: []int{12, 12, 12}}
	snapshots := &fakeSnapshotStore{}
	notifier := &fakeNotifier{}

	p := newPipeline(t, Collaborators{
		Fetcher:   &fakeFetcher{pages: allTerritoryPages(3)},
		Runs:      runs,
		Snapshots: snapshots,
		Notifier:  notifier,
	})

	summary, err := p.Execute(context.Background(), RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Status != model.RunSuccess {
		t.Fatalf("status = %s", summary.Status)
	}
	if summary.Pages != 4 || summary.TotalOffers != 12 {
		t.Fatalf("pages=%d offers=%d", summary.Pages, summary.TotalOffers)
	}
	if len(runs.begun) != 1 {
		t.Fatalf("begun runs = %d", len(runs.begun))
	}
	if len(snapshots.committed) != 1 {
		t.Fatalf("committed batches = %d", len(snapshots.committed))
	}
	// No prior snapshots: every offer is a new_offer event.
	if summary.Events != 12 {
		t.Fatalf("events = %d", summary.Events)
	}
	if len(notifier.diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", notifier.diagnostics)
	}
}

func TestExecuteValidationReject(t *testing.T) {
	runs := &fakeRunStore{counts: []int{100, 95, 105}}
	snapshots := &fakeSnapshotStore{}
	notifier := &fakeNotifier{}

	p := newPipeline(t, Collaborators{
		Fetcher:   &fakeFetcher{pages: allTerritoryPages(2)},
		Runs:      runs,
		Snapshots: snapshots,
		Notifier:  notifier,
	})

	summary, err := p.Execute(context.Background(), RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("a validation reject is a handled outcome, got error: %v", err)
	}

	if summary.Status != model.RunInvalid {
		t.Fatalf("status = %s", summary.Status)
	}
	if len(snapshots.committed) != 0 {
		t.Fatal("rejected batch must not be committed")
	}
	if len(runs.finalized) != 1 || runs.finalized[0].status != model.RunInvalid {
		t.Fatalf("finalized = %+v", runs.finalized)
	}
	if len(notifier.diagnostics) != 1 || !strings.Contains(notifier.diagnostics[0], "rejected") {
		t.Fatalf("diagnostics = %v", notifier.diagnostics)
	}
}

func TestExecutePageFailureIsScoped(t *testing.T) {
	runs := &fakeRunStore{}
	snapshots := &fakeSnapshotStore{}

	p := newPipeline(t, Collaborators{
		Fetcher: &fakeFetcher{
			pages:  allTerritoryPages(4),
			errors: map[string]error{"duke": errors.New("portal returned 503")},
		},
		Runs:      runs,
		Snapshots: snapshots,
	})

	summary, err := p.Execute(context.Background(), RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Status != model.RunSuccess {
		t.Fatalf("status = %s", summary.Status)
	}
	if summary.Pages != 3 || summary.PagesFailed != 1 {
		t.Fatalf("pages=%d failed=%d", summary.Pages, summary.PagesFailed)
	}
	if summary.TotalOffers != 12 {
		t.Fatalf("offers = %d", summary.TotalOffers)
	}
}

func TestExecuteDiffsAgainstLastAccepted(t *testing.T) {
	runs := &fakeRunStore{}
	columbiaKey := model.PageKey{Category: model.CategoryNaturalGas, Territory: "columbia", RateClass: model.ClassResidential}
	priorPrice := decimal.RequireFromString("0.800")
	snapshots := &fakeSnapshotStore{prior: map[model.PageKey]*model.PageSnapshot{
		columbiaKey: {
			Key:    columbiaKey,
			Offers: []model.Offer{{SourceID: "of-0", Supplier: "Supplier 0", Price: &priorPrice, Kind: model.RateFixed}},
		},
	}}

	p := newPipeline(t, Collaborators{
		Fetcher:   &fakeFetcher{pages: allTerritoryPages(3)},
		Runs:      runs,
		Snapshots: snapshots,
	})

	summary, err := p.Execute(context.Background(), RunOptions{Now: time.Now()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Columbia's of-0 matches its prior at the same price; only of-1 and
	// of-2 are new there. The other three pages contribute 3 new offers each.
	var newOffers int
	for _, ev := range snapshots.committed[0].events {
		if ev.Type == model.EventNewOffer {
			newOffers++
		}
	}
	if newOffers != 11 {
		t.Fatalf("new offers = %d", newOffers)
	}
	if summary.Events != 11 {
		t.Fatalf("events = %d", summary.Events)
	}
}

func TestExecuteCommitFailure(t *testing.T) {
	runs := &fakeRunStore{}
	snapshots := &fakeSnapshotStore{commitErr: errors.New("connection reset")}

	p := newPipeline(t, Collaborators{
		Fetcher:   &fakeFetcher{pages: allTerritoryPages(3)},
		Runs:      runs,
		Snapshots: snapshots,
	})

	summary, err := p.Execute(context.Background(), RunOptions{Now: time.Now()})
	if err == nil {
		t.Fatal("commit failure should surface as an error")
	}
	if summary.Status != model.RunFailed {
		t.Fatalf("status = %s", summary.Status)
	}
	if len(runs.finalized) != 1 || runs.finalized[0].status != model.RunFailed {
		t.Fatalf("finalized = %+v", runs.finalized)
	}
}

func TestExecuteDryRunTouchesNothing(t *testing.T) {
	p := newPipeline(t, Collaborators{
		Fetcher: &fakeFetcher{pages: allTerritoryPages(3)},
	})

	summary, err := p.Execute(context.Background(), RunOptions{DryRun: true, Now: time.Now()})
	if err != nil {
		t.Fatalf("dry run with no storage should work: %v", err)
	}
	if summary.Status != model.RunSuccess {
		t.Fatalf("status = %s", summary.Status)
	}
}

func TestExecuteWithoutStorageRequiresDryRun(t *testing.T) {
	p := newPipeline(t, Collaborators{
		Fetcher: &fakeFetcher{pages: allTerritoryPages(3)},
	})

	if _, err := p.Execute(context.Background(), RunOptions{}); err == nil {
		t.Fatal("persistent run without storage must fail")
	}
}

func TestExecuteForceAlertFires(t *testing.T) {
	subs := &stubSubscriberStore{subscribers: []model.Subscriber{
		{ID: 1, Email: "a@example.com", Territory: "enbridge"},
	}}
	sender := &stubSender{}
	engine := alert.New(alert.DefaultConfig(), subs, sender, nil, zerolog.Nop())

	p := newPipeline(t, Collaborators{
		Fetcher:     &fakeFetcher{pages: allTerritoryPages(3)},
		AlertEngine: engine,
	})

	summary, err := p.Execute(context.Background(), RunOptions{DryRun: true, ForceAlert: true, Now: time.Now()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Alerts == nil || summary.Alerts.Fired == 0 {
		t.Fatalf("force-alert should produce a firing decision: %+v", summary.Alerts)
	}
}

func TestExecuteForceAlertLeavesStoreClean(t *testing.T) {
	runs := &fakeRunStore{}
	snapshots := &fakeSnapshotStore{}
	subs := &stubSubscriberStore{subscribers: []model.Subscriber{
		{ID: 1, Email: "a@example.com", Territory: "enbridge"},
	}}
	engine := alert.New(alert.DefaultConfig(), subs, &stubSender{}, nil, zerolog.Nop())

	p := newPipeline(t, Collaborators{
		Fetcher:     &fakeFetcher{pages: allTerritoryPages(3)},
		Runs:        runs,
		Snapshots:   snapshots,
		AlertEngine: engine,
	})

	summary, err := p.Execute(context.Background(), RunOptions{ForceAlert: true, Now: time.Now()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.Alerts == nil || summary.Alerts.Fired == 0 {
		t.Fatalf("force-alert should still fire on a persistent run: %+v", summary.Alerts)
	}
	// The synthetic offer exists only in the alert engine's view. Committed
	// snapshots, events, and the gate-feeding offer count stay real.
	if summary.TotalOffers != 12 {
		t.Fatalf("committed offer count = %d", summary.TotalOffers)
	}
	if len(snapshots.committed) != 1 {
		t.Fatalf("committed batches = %d", len(snapshots.committed))
	}
	for _, page := range snapshots.committed[0].batch.Pages {
		for _, o := range page.Offers {
			if o.Supplier == "Synthetic Energy Co" || o.SourceID == "synthetic-force-alert" {
				t.Fatalf("synthetic offer committed on page %s", page.Key)
			}
		}
	}
	for _, ev := range snapshots.committed[0].events {
		if ev.Supplier == "Synthetic Energy Co" {
			t.Fatalf("synthetic event committed: %+v", ev)
		}
	}
}

type stubSubscriberStore struct {
	subscribers []model.Subscriber
}

func (s *stubSubscriberStore) ListConfirmedSubscribers(ctx context.Context, territory string) ([]model.Subscriber, error) {
	return s.subscribers, nil
}

func (s *stubSubscriberStore) MarkAlerted(ctx context.Context, subscriberID int64, rate decimal.Decimal, at time.Time) error {
	return nil
}

type stubSender struct{}

func (s *stubSender) SendAlert(ctx context.Context, sub model.Subscriber, decision model.AlertDecision) error {
	return nil
}
