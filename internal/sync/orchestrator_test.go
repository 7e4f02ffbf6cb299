package sync

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/integrations/mapping"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	bus := events.NewBus(nil, 10)
	o := NewOrchestrator(st, bus, retry.Config{MaxAttempts: 1}, nil)
	return o, mock
}

var checkpointCols = []string{
	"id", "integration", "sync_type", "total_records", "processed_records",
	"failed_records", "last_processed_id", "status", "error_message",
	"created_at", "updated_at",
}

// expectRunLock mocks Run's session-scoped advisory lock acquisition.
func expectRunLock(mock sqlmock.Sqlmock, acquired bool) {
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(acquired))
}

func expectRunUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRun_CreatesFreshCheckpointWhenNoneResumable(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	expectRunLock(mock, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, integration, sync_type.*FROM sync_checkpoints`).
		WithArgs("crm", SyncTypeCRMCustomers).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO sync_checkpoints`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE sync_checkpoints SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectRunUnlock(mock)

	fetch := func(ctx context.Context, cursor *string) (Page, error) {
		return Page{NextCursor: nil}, nil
	}
	upsert := func(ctx context.Context, tx *store.Tx, record interface{}) error { return nil }

	err := o.Run(context.Background(), "crm", SyncTypeCRMCustomers, fetch, upsert)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ExitsCleanlyWhenAnotherRunnerHoldsTheLock(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	expectRunLock(mock, false)

	fetch := func(ctx context.Context, cursor *string) (Page, error) {
		t.Fatal("fetch must not run while another runner owns the sync")
		return Page{}, nil
	}
	upsert := func(ctx context.Context, tx *store.Tx, record interface{}) error {
		t.Fatal("upsert must not run while another runner owns the sync")
		return nil
	}

	err := o.Run(context.Background(), "crm", SyncTypeCRMCustomers, fetch, upsert)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_PropagatesCheckpointClaimErrors(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	expectRunLock(mock, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, integration, sync_type.*FROM sync_checkpoints`).
		WithArgs("crm", SyncTypeCRMCustomers).
		WillReturnError(fmt.Errorf("connection reset: %w", sql.ErrConnDone))
	mock.ExpectRollback()
	expectRunUnlock(mock)

	fetch := func(ctx context.Context, cursor *string) (Page, error) {
		t.Fatal("fetch should not be called when the checkpoint claim fails")
		return Page{}, nil
	}
	upsert := func(ctx context.Context, tx *store.Tx, record interface{}) error { return nil }

	err := o.Run(context.Background(), "crm", SyncTypeCRMCustomers, fetch, upsert)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ResumesFromExistingCheckpointCursor(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	last := "cust-42"
	rows := sqlmock.NewRows(checkpointCols).AddRow(
		"cp-1", "crm", SyncTypeCRMCustomers, nil, 3, 0, last, "failed", nil, time.Now(), time.Now(),
	)
	expectRunLock(mock, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, integration, sync_type.*FROM sync_checkpoints`).
		WithArgs("crm", SyncTypeCRMCustomers).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE sync_checkpoints SET status = 'in_progress'`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var seenCursor *string
	fetch := func(ctx context.Context, cursor *string) (Page, error) {
		seenCursor = cursor
		return Page{NextCursor: nil}, nil
	}
	upsert := func(ctx context.Context, tx *store.Tx, record interface{}) error { return nil }

	mock.ExpectExec(`UPDATE sync_checkpoints SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectRunUnlock(mock)

	err := o.Run(context.Background(), "crm", SyncTypeCRMCustomers, fetch, upsert)
	require.NoError(t, err)
	require.NotNil(t, seenCursor)
	assert.Equal(t, last, *seenCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_UpsertsEachSuccessfulOutcomeAndAdvancesCheckpoint(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	expectRunLock(mock, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, integration, sync_type.*FROM sync_checkpoints`).
		WithArgs("crm", SyncTypeCRMCustomers).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO sync_checkpoints`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO crm_customers`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE sync_checkpoints SET processed_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE sync_checkpoints SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectRunUnlock(mock)

	called := false
	fetch := func(ctx context.Context, cursor *string) (Page, error) {
		if called {
			return Page{NextCursor: nil}, nil
		}
		called = true
		return Page{
			Outcomes:        []mapping.Outcome{{Record: "ok-record"}},
			LastProcessedID: "cust-1",
			NextCursor:      strPtr("page-2"),
		}, nil
	}
	var upserted interface{}
	upsert := func(ctx context.Context, tx *store.Tx, record interface{}) error {
		upserted = record
		_, err := tx.Exec(ctx, `INSERT INTO crm_customers (external_id) VALUES ($1)`, "x")
		return err
	}

	err := o.Run(context.Background(), "crm", SyncTypeCRMCustomers, fetch, upsert)
	require.NoError(t, err)
	assert.Equal(t, "ok-record", upserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SkipsFailedOutcomesWithoutUpserting(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	expectRunLock(mock, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, integration, sync_type.*FROM sync_checkpoints`).
		WithArgs("crm", SyncTypeCRMCustomers).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO sync_checkpoints`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE sync_checkpoints SET failed_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE sync_checkpoints SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectRunUnlock(mock)

	fetch := func(ctx context.Context, cursor *string) (Page, error) {
		return Page{
			Outcomes:        []mapping.Outcome{{Error: "bad record"}},
			LastProcessedID: "cust-1",
		}, nil
	}
	upsert := func(ctx context.Context, tx *store.Tx, record interface{}) error {
		t.Fatal("upsert must not run for a failed outcome")
		return nil
	}

	err := o.Run(context.Background(), "crm", SyncTypeCRMCustomers, fetch, upsert)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
