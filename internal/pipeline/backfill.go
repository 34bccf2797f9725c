package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prashant21b/kreditbee/internal/discovery"
	"github.com/prashant21b/kreditbee/internal/mfapi"
	"github.com/prashant21b/kreditbee/internal/store"
)

// backfill ingests full history for every discovered scheme, skipping those
// whose backfill already completed so an interrupted run resumes where it
// stopped. A rate-limit breach from the upstream aborts the run; every other
// fetch error fails only its scheme.
func (o *Orchestrator) backfill(ctx context.Context, schemes []discovery.Scheme) error {
	total := len(schemes)
	completed, failed := 0, 0

	for i, scheme := range schemes {
		state, err := o.deps.Sync.Get(ctx, scheme.SchemeCode, store.SyncBackfill)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("backfill: %w", err)
		}
		if state != nil && state.Status == store.SyncCompleted {
			o.logger.DebugContext(ctx, "backfill already completed, skipping",
				slog.String("scheme_code", scheme.SchemeCode))
			completed++
			if err := o.backfillProgress(ctx, i+1, total, completed, failed); err != nil {
				return err
			}
			continue
		}

		// Seed the fund row before fetching so a failed fetch still leaves
		// the scheme visible.
		if err := o.deps.Funds.Upsert(ctx, store.Fund{
			SchemeCode: scheme.SchemeCode,
			SchemeName: scheme.SchemeName,
			AMC:        scheme.AMC,
			Category:   scheme.Category,
		}); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}

		if err := o.deps.Sync.MarkInProgress(ctx, scheme.SchemeCode, store.SyncBackfill); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}

		history, err := o.deps.Upstream.FetchScheme(ctx, scheme.SchemeCode)
		if err != nil {
			if markErr := o.deps.Sync.MarkFailed(ctx, scheme.SchemeCode, store.SyncBackfill, err.Error()); markErr != nil {
				return fmt.Errorf("backfill: %w", markErr)
			}
			if errors.Is(err, mfapi.ErrRateLimitBreach) {
				return fmt.Errorf("backfill: %w", err)
			}
			o.logger.WarnContext(ctx, "backfill fetch failed",
				slog.String("scheme_code", scheme.SchemeCode), slog.Any("error", err))
			failed++
			if err := o.backfillProgress(ctx, i+1, total, completed, failed); err != nil {
				return err
			}
			continue
		}

		if err := o.ingestHistory(ctx, scheme, history, store.SyncBackfill); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		completed++
		schemesSynced.WithLabelValues(string(store.SyncBackfill)).Inc()

		if err := o.backfillProgress(ctx, i+1, total, completed, failed); err != nil {
			return err
		}
	}

	o.logger.InfoContext(ctx, "backfill finished",
		slog.Int("total", total), slog.Int("completed", completed), slog.Int("failed", failed))
	return nil
}

func (o *Orchestrator) backfillProgress(ctx context.Context, done, total, completed, failed int) error {
	pct := discoveryEndPct + (ingestEndPct-discoveryEndPct)*float64(done)/float64(max(total, 1))
	return o.deps.Status.Progress(ctx, PhaseBackfill, pct, total, completed, failed)
}

// ingestHistory writes the fetched series and finalizes the sync-state row.
// Fund attributes are refreshed with the authoritative per-scheme metadata;
// the discovery labels for AMC and category are kept because the upstream
// variants ("HDFC Mutual Fund", "Equity Scheme - Mid Cap Fund") are not the
// canonical filter labels.
func (o *Orchestrator) ingestHistory(ctx context.Context, scheme discovery.Scheme, history *mfapi.SchemeHistory, syncType store.SyncType) error {
	if len(history.NAVs) == 0 {
		return o.deps.Sync.MarkFailed(ctx, scheme.SchemeCode, syncType, "upstream returned no NAV data")
	}

	name := scheme.SchemeName
	if history.Meta.SchemeName != "" {
		name = history.Meta.SchemeName
	}
	if err := o.deps.Funds.Upsert(ctx, store.Fund{
		SchemeCode: scheme.SchemeCode,
		SchemeName: name,
		AMC:        scheme.AMC,
		Category:   scheme.Category,
		SchemeType: history.Meta.SchemeType,
	}); err != nil {
		return err
	}

	points := make([]store.NavPoint, len(history.NAVs))
	for i, p := range history.NAVs {
		points[i] = store.NavPoint{Date: p.Date, NAV: p.NAV}
	}
	if err := o.deps.NAVs.BulkUpsert(ctx, scheme.SchemeCode, points); err != nil {
		return err
	}
	navRowsWritten.Add(float64(len(points)))

	last := history.NAVs[len(history.NAVs)-1].Date
	return o.deps.Sync.MarkCompleted(ctx, scheme.SchemeCode, syncType, last, len(history.NAVs))
}
