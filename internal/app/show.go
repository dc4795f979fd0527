package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the recent run ledger and rate events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Runs)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run\tStarted (UTC)\tStatus\tOffers\tPages Failed\tReason")
	for _, run := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(run.ID.String()),
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Status,
			run.TotalOffers,
			run.PagesFailed,
			sanitizeInline(run.Reason),
		)
	}
	writer.Flush()

	if opts.Events <= 0 {
		return nil
	}

	events, err := store.ListRecentEvents(ctx, opts.Events)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "\nno rate events recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tType\tPage\tSupplier\tOld\tNew\tChange%")
	for _, ev := range events {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.DetectedAt.UTC().Format(time.RFC3339),
			ev.Type,
			ev.Key,
			ev.Supplier,
			formatRate(ev.OldRate),
			formatRate(ev.NewRate),
			formatRate(ev.PctChange),
		)
	}
	writer.Flush()
	return nil
}

func formatRate(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(3)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
