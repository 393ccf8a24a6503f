package syncer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docvault/docvault/internal/store"
)

// Report aggregates a batch sync. Individual failures never stop the batch;
// they land in Errors with per-document detail in Results. Unprocessed
// counts documents the batch never reached because of cancellation.
type Report struct {
	Synced      int
	Skipped     int
	Conflicts   int
	Errors      int
	Unprocessed int
	Results     []Result
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeSynced:
		r.Synced++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeError:
		r.Errors++
	}
}

// SyncAll smart-syncs every document independently.
func (e *Engine) SyncAll(ctx context.Context, opts Options) (*Report, error) {
	return e.syncFiltered(ctx, store.ListFilter{}, opts)
}

// SyncByEntity smart-syncs the documents attached to one entity.
func (e *Engine) SyncByEntity(ctx context.Context, entityType, entityID string, opts Options) (*Report, error) {
	return e.syncFiltered(ctx, store.ListFilter{EntityType: entityType, EntityID: entityID}, opts)
}

// SyncByCategory smart-syncs the documents in one category.
func (e *Engine) SyncByCategory(ctx context.Context, category string, opts Options) (*Report, error) {
	return e.syncFiltered(ctx, store.ListFilter{Category: category}, opts)
}

func (e *Engine) syncFiltered(ctx context.Context, filter store.ListFilter, opts Options) (*Report, error) {
	// Shared precondition failures abort before any write.
	if err := opts.validate(); err != nil {
		return nil, err
	}

	docs, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)

	for _, doc := range docs {
		// Cancellation is cooperative, checked between per-document units.
		if ctx.Err() != nil {
			mu.Lock()
			report.Unprocessed++
			mu.Unlock()
			continue
		}

		doc := doc
		g.Go(func() error {
			res, err := e.SmartSync(ctx, doc.ID, opts)
			if err != nil {
				e.logger.Printf("WARNING: sync failed for %s: %v", doc.FilePath, err)
				res = &Result{
					DocumentID: doc.ID,
					FilePath:   doc.FilePath,
					Outcome:    OutcomeError,
					Status:     doc.SyncStatus,
					Detail:     err.Error(),
				}
			}
			mu.Lock()
			report.add(*res)
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; failures are isolated per document.
	_ = g.Wait()

	e.logger.Printf("batch sync complete: synced=%d skipped=%d conflicts=%d errors=%d unprocessed=%d",
		report.Synced, report.Skipped, report.Conflicts, report.Errors, report.Unprocessed)

	return report, nil
}
