// Package service sequences one pipeline run: fetch, normalize, gate,
// commit, diff, alert, report.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/alert"
	"ohio-rate-watch/internal/diff"
	"ohio-rate-watch/internal/fetch"
	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/normalize"
	"ohio-rate-watch/internal/notify"
	"ohio-rate-watch/internal/storage"
	"ohio-rate-watch/internal/territory"
	"ohio-rate-watch/internal/validate"
)

// Collaborators are the pipeline's injected dependencies. Runs and
// Snapshots may be nil only for dry runs.
type Collaborators struct {
	Fetcher     fetch.PageFetcher
	Normalizer  *normalize.Normalizer
	Gate        *validate.Gate
	Detector    *diff.Detector
	Runs        storage.RunStore
	Snapshots   storage.SnapshotStore
	AlertEngine *alert.Engine
	Notifier    notify.Notifier
	Territories *territory.Resolver
}

// Options tune the pipeline independently of its collaborators.
type Options struct {
	RateClasses  []model.RateClass
	BaselineDays int
}

// RunOptions select per-invocation behaviour.
type RunOptions struct {
	// DryRun performs every stage except persistence, mark-alerted, and
	// delivery.
	DryRun bool
	// ForceAlert hands the alert engine a synthetic qualifying offer so the
	// alert path can be exercised on demand. The synthetic data never
	// reaches the store: committed snapshots and events stay real.
	ForceAlert bool
	Now        time.Time
}

// RunSummary reports what one run did.
type RunSummary struct {
	RunID       uuid.UUID
	Status      model.RunStatus
	Pages       int
	PagesFailed int
	TotalOffers int
	Events      int
	Gate        validate.Decision
	Alerts      *alert.Outcome
}

// Pipeline executes daily runs.
type Pipeline struct {
	deps   Collaborators
	opts   Options
	logger zerolog.Logger
}

// New constructs a Pipeline.
func New(deps Collaborators, opts Options, logger zerolog.Logger) *Pipeline {
	if len(opts.RateClasses) == 0 {
		opts.RateClasses = []model.RateClass{model.ClassResidential}
	}
	if opts.BaselineDays <= 0 {
		opts.BaselineDays = 7
	}
	return &Pipeline{deps: deps, opts: opts, logger: logger.With().Str("component", "pipeline").Logger()}
}

// Execute runs the pipeline once. A validation reject is a handled outcome
// (nil error, summary status invalid); a persistence failure is an error.
func (p *Pipeline) Execute(ctx context.Context, ro RunOptions) (*RunSummary, error) {
	now := ro.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	run := &model.RunRecord{
		ID:        uuid.New(),
		StartedAt: now,
		Status:    model.RunRunning,
		DryRun:    ro.DryRun,
	}
	summary := &RunSummary{RunID: run.ID, Status: model.RunRunning}

	if !ro.DryRun {
		if p.deps.Runs == nil || p.deps.Snapshots == nil {
			return nil, errors.New("storage not configured; only --dry-run is possible")
		}
		if err := p.deps.Runs.BeginRun(ctx, run); err != nil {
			return nil, fmt.Errorf("open run ledger: %w", err)
		}
	}

	p.logger.Info().Str("run_id", run.ID.String()).Bool("dry_run", ro.DryRun).Msg("run started")

	batch := p.ingest(ctx, run, now)
	summary.Pages = len(batch.Pages)
	summary.PagesFailed = run.PagesFailed
	run.TotalOffers = batch.TotalOffers()
	summary.TotalOffers = run.TotalOffers

	history, err := p.baselineHistory(ctx)
	if err != nil {
		return p.failRun(ctx, run, summary, fmt.Errorf("load gate baseline: %w", err), ro.DryRun)
	}

	decision := p.deps.Gate.Evaluate(batch, history)
	summary.Gate = decision
	if !decision.Accepted {
		return p.rejectRun(ctx, run, summary, decision, ro.DryRun)
	}

	events, err := p.detectChanges(ctx, batch, run, now)
	if err != nil {
		return p.failRun(ctx, run, summary, fmt.Errorf("detect changes: %w", err), ro.DryRun)
	}
	summary.Events = len(events)

	if !ro.DryRun {
		if err := p.deps.Snapshots.CommitAcceptedBatch(ctx, run, batch, events); err != nil {
			return p.failRun(ctx, run, summary, fmt.Errorf("commit batch: %w", err), ro.DryRun)
		}
	}

	if p.deps.AlertEngine != nil {
		alertBatch := batch
		if ro.ForceAlert {
			alertBatch = p.syntheticAlertView(batch, now)
			p.logger.Info().Msg("force-alert: synthetic offer injected for alert evaluation only")
		}
		outcome, err := p.deps.AlertEngine.EvaluateRun(ctx, alertBatch, alert.RunOptions{DryRun: ro.DryRun, Now: now})
		if err != nil {
			// The batch is already committed; an alert-stage failure is
			// logged and the run still counts as successful ingestion.
			p.logger.Error().Err(err).Msg("alert evaluation failed")
		} else {
			summary.Alerts = outcome
		}
	}

	summary.Status = model.RunSuccess
	p.logger.Info().
		Str("run_id", run.ID.String()).
		Int("pages", summary.Pages).
		Int("offers", summary.TotalOffers).
		Int("events", summary.Events).
		Msg("run completed")
	return summary, nil
}

// ingest fetches and normalizes every configured page. Fetch and parse
// failures are page-scoped: logged, counted, zero offers contributed.
func (p *Pipeline) ingest(ctx context.Context, run *model.RunRecord, now time.Time) *model.DailyBatch {
	batch := &model.DailyBatch{FetchedAt: now}

	for _, terr := range p.deps.Territories.All() {
		for _, class := range p.opts.RateClasses {
			key := model.PageKey{Category: model.CategoryNaturalGas, Territory: terr.ID, RateClass: class}

			content, err := p.deps.Fetcher.FetchPage(ctx, key, terr)
			if err != nil {
				run.PagesFailed++
				p.logger.Warn().Err(err).Str("page", key.String()).Msg("page fetch failed")
				continue
			}

			snap, err := p.deps.Normalizer.Parse(content, key, terr.Unit, now)
			if err != nil {
				run.PagesFailed++
				var parseErr *normalize.ParseError
				if errors.As(err, &parseErr) {
					p.logger.Warn().Err(err).Str("page", key.String()).Str("stage", parseErr.Stage).Msg("page failed to normalize")
				} else {
					p.logger.Warn().Err(err).Str("page", key.String()).Msg("page failed to normalize")
				}
				continue
			}

			batch.Pages = append(batch.Pages, snap)
		}
	}

	return batch
}

func (p *Pipeline) baselineHistory(ctx context.Context) ([]int, error) {
	if p.deps.Runs == nil {
		return nil, nil
	}
	return p.deps.Runs.SuccessfulRunCounts(ctx, p.opts.BaselineDays)
}

// detectChanges diffs every accepted page against its last accepted prior,
// which may be days old if the gate rejected runs in between.
func (p *Pipeline) detectChanges(ctx context.Context, batch *model.DailyBatch, run *model.RunRecord, now time.Time) ([]model.RateEvent, error) {
	var events []model.RateEvent

	for _, page := range batch.Pages {
		var prior *model.PageSnapshot
		if p.deps.Snapshots != nil {
			var err error
			prior, err = p.deps.Snapshots.LastAcceptedSnapshot(ctx, page.Key)
			if err != nil {
				return nil, err
			}
		}
		events = append(events, p.deps.Detector.Diff(prior, page, run.ID, now)...)
	}

	return events, nil
}

// rejectRun handles a validation reject: finalize the ledger row as
// invalid, tell the operator, and leave all prior data authoritative.
func (p *Pipeline) rejectRun(ctx context.Context, run *model.RunRecord, summary *RunSummary, decision validate.Decision, dryRun bool) (*RunSummary, error) {
	summary.Status = model.RunInvalid

	if !dryRun {
		if err := p.deps.Runs.FinalizeRun(ctx, run.ID, model.RunInvalid, decision.Reason, run.TotalOffers, run.PagesFailed); err != nil {
			p.logger.Error().Err(err).Msg("failed to finalize invalid run")
		}
	}

	msg := fmt.Sprintf("daily batch rejected: %s (median=%d threshold=%d actual=%d)",
		decision.Reason, decision.Median, decision.Threshold, decision.Actual)
	p.logger.Warn().Str("run_id", run.ID.String()).Msg(msg)

	if p.deps.Notifier != nil && !dryRun {
		if err := p.deps.Notifier.SendOperatorDiagnostic(ctx, msg); err != nil {
			p.logger.Error().Err(err).Msg("failed to deliver operator diagnostic")
		}
	}

	// Rejection is a handled outcome: previous data stays current and the
	// process exits cleanly.
	return summary, nil
}

func (p *Pipeline) failRun(ctx context.Context, run *model.RunRecord, summary *RunSummary, cause error, dryRun bool) (*RunSummary, error) {
	summary.Status = model.RunFailed

	if !dryRun && p.deps.Runs != nil {
		if err := p.deps.Runs.FinalizeRun(ctx, run.ID, model.RunFailed, cause.Error(), run.TotalOffers, run.PagesFailed); err != nil {
			p.logger.Error().Err(err).Msg("failed to finalize failed run")
		}
	}

	return summary, cause
}

// syntheticAlertView returns a copy of the batch with one synthetic
// qualifying offer appended to its first page. Only the alert engine sees
// the copy; the committed batch and its events are already persisted and
// the gate's rolling median never counts the synthetic row.
func (p *Pipeline) syntheticAlertView(batch *model.DailyBatch, now time.Time) *model.DailyBatch {
	view := &model.DailyBatch{
		FetchedAt: batch.FetchedAt,
		Pages:     append([]*model.PageSnapshot(nil), batch.Pages...),
	}

	var page model.PageSnapshot
	if len(view.Pages) == 0 {
		terrs := p.deps.Territories.All()
		page.Key = model.PageKey{
			Category:  model.CategoryNaturalGas,
			Territory: terrs[0].ID,
			RateClass: model.ClassResidential,
		}
		page.FetchedAt = now
		view.Pages = append(view.Pages, &page)
	} else {
		page = *view.Pages[0]
		page.Offers = append([]model.Offer(nil), page.Offers...)
		view.Pages[0] = &page
	}

	price := decimal.NewFromFloat(0.199)
	page.Offers = append(page.Offers, model.Offer{
		SourceID:    "synthetic-force-alert",
		Supplier:    "Synthetic Energy Co",
		Price:       &price,
		Kind:        model.RateFixed,
		Description: "synthetic offer injected by --force-alert",
	})
	if page.DefaultRate == nil {
		d := decimal.NewFromFloat(0.499)
		page.DefaultRate = &d
	}
	return view
}
