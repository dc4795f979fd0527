package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/model"
)

const (
	insertRunSQL = `INSERT INTO runs (
        id, started_at, status, total_offers, pages_failed, reason, dry_run
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	finalizeRunSQL = `UPDATE runs
    SET finished_at = $2,
        status = $3,
        reason = $4,
        total_offers = $5,
        pages_failed = $6
    WHERE id = $1;`

	successfulRunCountsSQL = `SELECT total_offers
    FROM runs
    WHERE status = 'success'
      AND dry_run = FALSE
      AND started_at >= NOW() - ($1 * INTERVAL '1 day')
    ORDER BY started_at DESC;`

	listRecentRunsSQL = `SELECT
        id, started_at, finished_at, status, total_offers, pages_failed, reason, dry_run
    FROM runs
    ORDER BY started_at DESC
    LIMIT $1;`

	insertSnapshotSQL = `INSERT INTO page_snapshots (
        run_id, category, territory, rate_class, fetched_at,
        default_rate, default_rate_effective, offers
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	lastAcceptedSnapshotSQL = `SELECT
        category, territory, rate_class, fetched_at,
        default_rate, default_rate_effective, offers
    FROM page_snapshots
    WHERE category = $1 AND territory = $2 AND rate_class = $3
    ORDER BY fetched_at DESC
    LIMIT 1;`

	insertEventSQL = `INSERT INTO rate_events (
        run_id, event_type, category, territory, rate_class, supplier,
        old_rate, new_rate, abs_change, pct_change, detected_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	listEventsBetweenSQL = `SELECT
        id, run_id, event_type, category, territory, rate_class, supplier,
        old_rate, new_rate, abs_change, pct_change, detected_at
    FROM rate_events
    WHERE detected_at >= $1
      AND detected_at < $2
    ORDER BY detected_at;`

	listRecentEventsSQL = `SELECT
        id, run_id, event_type, category, territory, rate_class, supplier,
        old_rate, new_rate, abs_change, pct_change, detected_at
    FROM rate_events
    ORDER BY detected_at DESC, id DESC
    LIMIT $1;`

	listConfirmedSubscribersSQL = `SELECT
        id, email, zip, territory, baseline_rate, threshold_pct,
        confirmed, last_alerted_at, last_alerted_rate, created_at
    FROM subscribers
    WHERE confirmed = TRUE
      AND ($1 = '' OR territory = $1)
    ORDER BY id;`

	markAlertedSQL = `UPDATE subscribers
    SET last_alerted_at = $2, last_alerted_rate = $3
    WHERE id = $1;`
)

// BeginRun inserts the run ledger row at pipeline start.
func (s *Store) BeginRun(ctx context.Context, run *model.RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertRunSQL,
		run.ID, run.StartedAt, string(run.Status), run.TotalOffers, run.PagesFailed, run.Reason, run.DryRun)
	if execErr != nil {
		return fmt.Errorf("insert run: %w", execErr)
	}
	return nil
}

// FinalizeRun closes the ledger row for invalid and failed paths. Accepted
// runs are finalized inside CommitAcceptedBatch instead, so the success
// marker and the batch it vouches for commit together.
func (s *Store) FinalizeRun(ctx context.Context, runID uuid.UUID, status model.RunStatus, reason string, totalOffers, pagesFailed int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	cmdTag, execErr := pool.Exec(ctx, finalizeRunSQL, runID, now, string(status), reason, totalOffers, pagesFailed)
	if execErr != nil {
		return fmt.Errorf("finalize run: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SuccessfulRunCounts returns the offer counts of successful runs in the
// trailing window, most recent first. The validation gate's baseline.
func (s *Store) SuccessfulRunCounts(ctx context.Context, lastNDays int) ([]int, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, successfulRunCountsSQL, lastNDays)
	if queryErr != nil {
		return nil, fmt.Errorf("successful run counts: %w", queryErr)
	}
	defer rows.Close()

	counts := make([]int, 0)
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ListRecentRuns lists the run ledger, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]model.RunRecord, 0, limit)
	for rows.Next() {
		var (
			run      model.RunRecord
			finished sql.NullTime
			status   string
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &status,
			&run.TotalOffers, &run.PagesFailed, &run.Reason, &run.DryRun); err != nil {
			return nil, err
		}
		run.Status = model.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CommitAcceptedBatch writes the batch snapshots, the rate events, and the
// success finalization of the run row in one transaction. Either the whole
// day commits or none of it does; a reader can never observe events without
// their owning accepted batch.
func (s *Store) CommitAcceptedBatch(ctx context.Context, run *model.RunRecord, batch *model.DailyBatch, events []model.RateEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, page := range batch.Pages {
		offersJSON, err := json.Marshal(page.Offers)
		if err != nil {
			return fmt.Errorf("marshal offers for %s: %w", page.Key, err)
		}

		var defaultRate interface{}
		if page.DefaultRate != nil {
			defaultRate = page.DefaultRate.String()
		}

		if _, err := tx.Exec(ctx, insertSnapshotSQL,
			run.ID,
			string(page.Key.Category),
			page.Key.Territory,
			string(page.Key.RateClass),
			page.FetchedAt,
			defaultRate,
			page.DefaultRateEffective,
			offersJSON,
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", page.Key, err)
		}
	}

	for _, ev := range events {
		if _, err := tx.Exec(ctx, insertEventSQL,
			ev.RunID,
			string(ev.Type),
			string(ev.Key.Category),
			ev.Key.Territory,
			string(ev.Key.RateClass),
			ev.Supplier,
			decimalOrNil(ev.OldRate),
			decimalOrNil(ev.NewRate),
			decimalOrNil(ev.AbsChange),
			decimalOrNil(ev.PctChange),
			ev.DetectedAt,
		); err != nil {
			return fmt.Errorf("insert rate event: %w", err)
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, finalizeRunSQL,
		run.ID, now, string(model.RunSuccess), "", run.TotalOffers, run.PagesFailed); err != nil {
		return fmt.Errorf("finalize run in batch tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

// LastAcceptedSnapshot returns the most recently accepted snapshot for a
// page key, or nil when none exists. Snapshots are only ever written inside
// an accepted-batch transaction, so presence implies acceptance.
func (s *Store) LastAcceptedSnapshot(ctx context.Context, key model.PageKey) (*model.PageSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, lastAcceptedSnapshotSQL,
		string(key.Category), key.Territory, string(key.RateClass))

	var (
		category    string
		terr        string
		rateClass   string
		fetchedAt   time.Time
		defaultRate sql.NullString
		effective   string
		offersJSON  []byte
	)
	if err := row.Scan(&category, &terr, &rateClass, &fetchedAt, &defaultRate, &effective, &offersJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("last accepted snapshot: %w", err)
	}

	snap := &model.PageSnapshot{
		Key: model.PageKey{
			Category:  model.Category(category),
			Territory: terr,
			RateClass: model.RateClass(rateClass),
		},
		FetchedAt:            fetchedAt,
		DefaultRateEffective: effective,
	}
	if defaultRate.Valid {
		d, convErr := decimal.NewFromString(defaultRate.String)
		if convErr != nil {
			return nil, fmt.Errorf("parse default rate: %w", convErr)
		}
		snap.DefaultRate = &d
	}
	if err := json.Unmarshal(offersJSON, &snap.Offers); err != nil {
		return nil, fmt.Errorf("unmarshal offers: %w", err)
	}

	return snap, nil
}

// ListEventsBetween lists events within a time window.
func (s *Store) ListEventsBetween(ctx context.Context, from, to time.Time) ([]model.RateEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events between: %w", queryErr)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecentEvents lists the newest events first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]model.RateEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListConfirmedSubscribers returns confirmed subscribers, optionally
// filtered by territory (empty string means all).
func (s *Store) ListConfirmedSubscribers(ctx context.Context, territory string) ([]model.Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listConfirmedSubscribersSQL, territory)
	if queryErr != nil {
		return nil, fmt.Errorf("list confirmed subscribers: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]model.Subscriber, 0)
	for rows.Next() {
		var (
			sub       model.Subscriber
			baseline  sql.NullString
			threshold string
			lastAt    sql.NullTime
			lastRate  sql.NullString
		)
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.ZIP, &sub.Territory,
			&baseline, &threshold, &sub.Confirmed, &lastAt, &lastRate, &sub.CreatedAt); err != nil {
			return nil, err
		}

		var convErr error
		sub.ThresholdPct, convErr = decimal.NewFromString(threshold)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}
		if baseline.Valid {
			d, convErr := decimal.NewFromString(baseline.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse baseline rate: %w", convErr)
			}
			sub.BaselineRate = &d
		}
		if lastAt.Valid {
			t := lastAt.Time
			sub.LastAlertedAt = &t
		}
		if lastRate.Valid {
			d, convErr := decimal.NewFromString(lastRate.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse last alerted rate: %w", convErr)
			}
			sub.LastAlertedRate = &d
		}

		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkAlerted records a confirmed delivery.
func (s *Store) MarkAlerted(ctx context.Context, subscriberID int64, rate decimal.Decimal, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertedSQL, subscriberID, at, rate.String())
	if execErr != nil {
		return fmt.Errorf("mark alerted: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]model.RateEvent, error) {
	events := make([]model.RateEvent, 0)
	for rows.Next() {
		var (
			ev        model.RateEvent
			eventType string
			category  string
			terr      string
			rateClass string
			oldRate   sql.NullString
			newRate   sql.NullString
			absChange sql.NullString
			pctChange sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &eventType, &category, &terr, &rateClass,
			&ev.Supplier, &oldRate, &newRate, &absChange, &pctChange, &ev.DetectedAt); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(eventType)
		ev.Key = model.PageKey{
			Category:  model.Category(category),
			Territory: terr,
			RateClass: model.RateClass(rateClass),
		}

		var convErr error
		if ev.OldRate, convErr = nullableDecimal(oldRate); convErr != nil {
			return nil, convErr
		}
		if ev.NewRate, convErr = nullableDecimal(newRate); convErr != nil {
			return nil, convErr
		}
		if ev.AbsChange, convErr = nullableDecimal(absChange); convErr != nil {
			return nil, convErr
		}
		if ev.PctChange, convErr = nullableDecimal(pctChange); convErr != nil {
			return nil, convErr
		}

		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullableDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse decimal column: %w", err)
	}
	return &d, nil
}

func decimalOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
