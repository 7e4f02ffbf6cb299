// Package sync is the checkpointed batch sync orchestrator. It claims or resumes a SyncCheckpoint with SELECT ... FOR UPDATE SKIP
// LOCKED so a second concurrent runner for the same (integration, syncType)
// exits cleanly instead of double-processing, and applies each
// page's records in a per-record transaction that upserts the mapped row
// and advances the checkpoint together.
package sync

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/integrations/mapping"
	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/store"
)

// Page is one page of records fetched from a partner client, abstracted so
// the orchestrator doesn't need to know CRM vs expense pagination shape.
type Page struct {
	Outcomes        []mapping.Outcome
	RecordIDs       []string // optional, parallel to Outcomes; offset-style partners fill these for mid-page resume
	NextCursor      *string  // cursor-style partners
	TotalCount      *int     // offset-style partners
	LastProcessedID string   // id of the last record in this page
}

// Fetcher retrieves the next page given the current checkpoint state.
// cursorOrOffset is the checkpoint's LastProcessedID, opaque to the
// orchestrator.
type Fetcher func(ctx context.Context, cursorOrOffset *string) (Page, error)

// Upserter persists one mapped record keyed by (provider, externalId)
// inside the orchestrator's transaction.
type Upserter func(ctx context.Context, tx *store.Tx, record interface{}) error

// Orchestrator runs checkpointed sync jobs for one or more partners.
type Orchestrator struct {
	store    *store.Store
	bus      *events.Bus
	retryCfg retry.Config
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewOrchestrator(st *store.Store, bus *events.Bus, retryCfg retry.Config, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:    st,
		bus:      bus,
		retryCfg: retryCfg,
		metrics:  m,
		logger:   log.New(log.Writer(), "[SYNC] ", log.LstdFlags),
	}
}

// Run executes a single sync run for (integration, syncType), claiming or
// resuming the checkpoint, fetching pages via fetch, and persisting via
// upsert. It returns once the run completes, fails permanently, or a
// concurrent runner already holds the checkpoint (in which case it returns
// nil without error, exiting cleanly rather than double-processing).
func (o *Orchestrator) Run(ctx context.Context, integration, syncType string, fetch Fetcher, upsert Upserter) (runErr error) {
	start := time.Now()
	if o.metrics != nil {
		defer func() { o.metrics.RecordSyncRun(integration, runErr == nil, time.Since(start).Seconds()) }()
	}

	// Ownership of (integration, syncType) is a session-scoped advisory
	// lock held for the run's whole lifetime — the checkpoint claim below
	// only locks its row for the claim transaction, which is not enough
	// to keep a second concurrent trigger out of the page loop.
	runLock, acquired, err := o.store.TrySessionLock(ctx, "sync_run", integration+":"+syncType)
	if err != nil {
		return err
	}
	if !acquired {
		o.logger.Printf("sync for %s/%s already owned by another runner, exiting", integration, syncType)
		return nil
	}
	defer func() {
		if err := runLock.Unlock(context.Background()); err != nil {
			o.logger.Printf("failed to release sync run lock for %s/%s: %v", integration, syncType, err)
		}
	}()

	cp, err := o.claimOrCreateCheckpoint(ctx, integration, syncType)
	if err != nil {
		return err
	}

	var cursor *string
	if cp.LastProcessedID != nil {
		cursor = cp.LastProcessedID
	}

	for {
		select {
		case <-ctx.Done():
			o.markFailed(context.Background(), cp.ID, "cancelled: "+ctx.Err().Error())
			return ctx.Err()
		default:
		}

		page, err := o.fetchWithRetry(ctx, integration, fetch, cursor)
		if err != nil {
			o.markFailed(ctx, cp.ID, err.Error())
			return err
		}
		if page.TotalCount != nil && cp.TotalRecords == nil {
			o.setTotal(ctx, cp.ID, *page.TotalCount)
			cp.TotalRecords = page.TotalCount
		}

		for i, outcome := range page.Outcomes {
			if outcome.Failed() {
				o.incrementFailed(ctx, cp.ID)
				continue
			}
			recordID := page.LastProcessedID
			if i < len(page.RecordIDs) {
				recordID = page.RecordIDs[i]
			}
			err := o.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
				if err := upsert(ctx, tx, outcome.Record); err != nil {
					return err
				}
				return o.advanceCheckpoint(ctx, tx, cp.ID, recordID)
			})
			if err != nil {
				if apierr.KindOf(err) == apierr.Conflict || store.IsKind(err, store.KindConflict) {
					// Non-retryable record-level failure; count and continue.
					o.incrementFailed(ctx, cp.ID)
					continue
				}
				o.markFailed(ctx, cp.ID, err.Error())
				return err
			}
			cursor = &recordID
		}

		if page.NextCursor == nil {
			break
		}
		if len(page.Outcomes) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	o.markCompleted(ctx, cp.ID)
	o.bus.Publish(ctx, "external_sync.completed", "sync-orchestrator", cp.ID, nil, map[string]interface{}{
		"integration": integration,
		"syncType":    syncType,
		"checkpointId": cp.ID,
	})
	return nil
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, integration string, fetch Fetcher, cursor *string) (Page, error) {
	var page Page
	result := retry.WithRetry(ctx, o.retryCfg, func(ctx context.Context) error {
		p, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if o.metrics != nil && result.Attempts > 1 {
		for i := 1; i < result.Attempts; i++ {
			o.metrics.RecordRetry(integration)
		}
	}
	if !result.Success {
		return Page{}, result.Err
	}
	return page, nil
}

// claimOrCreateCheckpoint finds the most recent checkpoint for
// (integration, syncType) whose status is in_progress/paused/failed and
// resumes it, or creates a new one. Exclusivity against concurrent
// runners is already guaranteed by the session lock Run holds; the
// FOR UPDATE SKIP LOCKED here only guards the claim transaction itself.
func (o *Orchestrator) claimOrCreateCheckpoint(ctx context.Context, integration, syncType string) (*models.SyncCheckpoint, error) {
	var cp *models.SyncCheckpoint
	err := o.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		var rec models.SyncCheckpoint
		err := tx.QueryRow(ctx, func(row *sql.Row) error {
			return row.Scan(&rec.ID, &rec.Integration, &rec.SyncType, &rec.TotalRecords,
				&rec.ProcessedRecords, &rec.FailedRecords, &rec.LastProcessedID, &rec.Status,
				&rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt)
		}, `SELECT id, integration, sync_type, total_records, processed_records, failed_records,
				last_processed_id, status, error_message, created_at, updated_at
			FROM sync_checkpoints
			WHERE integration = $1 AND sync_type = $2 AND status IN ('in_progress','paused','failed')
			ORDER BY created_at DESC LIMIT 1
			FOR UPDATE SKIP LOCKED`, integration, syncType)

		if err != nil {
			if !store.IsKind(err, store.KindNotFound) {
				return err
			}
			// No resumable checkpoint: create a fresh one.
			rec = models.SyncCheckpoint{
				ID:          uuid.NewString(),
				Integration: integration,
				SyncType:    syncType,
				Status:      models.CheckpointInProgress,
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO sync_checkpoints (id, integration, sync_type, processed_records, failed_records, status, created_at, updated_at)
				VALUES ($1, $2, $3, 0, 0, 'in_progress', now(), now())`,
				rec.ID, rec.Integration, rec.SyncType)
			if err != nil {
				return err
			}
			cp = &rec
			return nil
		}

		// Resume the found row.
		if _, err := tx.Exec(ctx, `UPDATE sync_checkpoints SET status = 'in_progress', updated_at = now() WHERE id = $1`, rec.ID); err != nil {
			return err
		}
		rec.Status = models.CheckpointInProgress
		cp = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (o *Orchestrator) advanceCheckpoint(ctx context.Context, tx *store.Tx, checkpointID, lastProcessedID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE sync_checkpoints SET processed_records = processed_records + 1, last_processed_id = $1, updated_at = now()
		WHERE id = $2`, lastProcessedID, checkpointID)
	return err
}

func (o *Orchestrator) incrementFailed(ctx context.Context, checkpointID string) {
	o.store.Exec(ctx, `UPDATE sync_checkpoints SET failed_records = failed_records + 1, updated_at = now() WHERE id = $1`, checkpointID)
}

func (o *Orchestrator) setTotal(ctx context.Context, checkpointID string, total int) {
	o.store.Exec(ctx, `UPDATE sync_checkpoints SET total_records = $1, updated_at = now() WHERE id = $2`, total, checkpointID)
}

func (o *Orchestrator) markCompleted(ctx context.Context, checkpointID string) {
	o.store.Exec(ctx, `UPDATE sync_checkpoints SET status = 'completed', updated_at = now() WHERE id = $1`, checkpointID)
}

func (o *Orchestrator) markFailed(ctx context.Context, checkpointID, message string) {
	o.store.Exec(ctx, `UPDATE sync_checkpoints SET status = 'failed', error_message = $1, updated_at = now() WHERE id = $2`, message, checkpointID)
}

// PauseSync sets a checkpoint's status to paused; the next run for the same
// (integration, syncType) resumes it.
func (o *Orchestrator) PauseSync(ctx context.Context, checkpointID string) error {
	_, err := o.store.Exec(ctx, `UPDATE sync_checkpoints SET status = 'paused', updated_at = now() WHERE id = $1`, checkpointID)
	return err
}

// CleanupOldCheckpoints deletes completed/failed checkpoints for
// (integration, syncType) beyond the keepLast most recent.
func (o *Orchestrator) CleanupOldCheckpoints(ctx context.Context, integration, syncType string, keepLast int) error {
	_, err := o.store.Exec(ctx, `
		DELETE FROM sync_checkpoints
		WHERE integration = $1 AND sync_type = $2 AND status IN ('completed','failed')
		AND id NOT IN (
			SELECT id FROM sync_checkpoints
			WHERE integration = $1 AND sync_type = $2 AND status IN ('completed','failed')
			ORDER BY created_at DESC LIMIT $3
		)`, integration, syncType, keepLast)
	return err
}
