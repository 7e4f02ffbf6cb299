package importers

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

type stubProcessor struct {
	outcome      RowOutcome
	applyErr     error
	deleteCalled bool
	deleteErr    error
}

func (s *stubProcessor) Columns() ([]string, map[string]int) {
	return []string{"never-matches-anything"}, map[string]int{"col_a": 0, "col_b": 1}
}

func (s *stubProcessor) ApplyRow(ctx context.Context, tx *store.Tx, importBatchID string, rowNum int, row []string, columns map[string]int) (RowOutcome, error) {
	return s.outcome, s.applyErr
}

func (s *stubProcessor) DeleteImportedRows(ctx context.Context, tx *store.Tx, importBatchID string) error {
	s.deleteCalled = true
	return s.deleteErr
}

func newTestImporter(t *testing.T, proc RowProcessor) (*Importer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	bus := events.NewBus(nil, 10)
	im := NewImporter(st, bus, models.ImportSignups, proc)
	return im, mock
}

func TestRun_AppliesRowTransactionallyAndRecordsAuditTrail(t *testing.T) {
	proc := &stubProcessor{outcome: RowOutcome{
		Status: models.RowSuccess,
		Action: "created",
		Audit: []models.ImportAuditEntry{
			{Action: "created", EntityKind: "sign_up", EntityID: "su-1", Detail: "new sign-up"},
		},
	}}
	im, mock := newTestImporter(t, proc)

	mock.ExpectExec(`INSERT INTO import_logs`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`SELECT cancel_requested FROM import_logs WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"cancel_requested"}).AddRow(false))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO import_audit_entries`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`INSERT INTO import_row_details`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(`UPDATE import_logs SET status=`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	logRow, err := im.Run(context.Background(), "val1,val2\n", "operator-1")
	require.NoError(t, err)
	assert.Equal(t, 1, logRow.ProcessedRows)
	assert.Equal(t, 0, logRow.ErrorRows)
	assert.Equal(t, models.ImportCompleted, logRow.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RowErrorRollsBackThatRowsTransactionAndMarksFailed(t *testing.T) {
	proc := &stubProcessor{applyErr: errors.New("resolve failed: unknown ambassador")}
	im, mock := newTestImporter(t, proc)

	mock.ExpectExec(`INSERT INTO import_logs`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`SELECT cancel_requested FROM import_logs WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"cancel_requested"}).AddRow(false))

	mock.ExpectBegin()
	mock.ExpectRollback()

	mock.ExpectExec(`INSERT INTO import_row_details`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(`UPDATE import_logs SET status=`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	logRow, err := im.Run(context.Background(), "val1,val2\n", "operator-1")
	require.NoError(t, err)
	assert.Equal(t, 0, logRow.ProcessedRows)
	assert.Equal(t, 1, logRow.ErrorRows)
	assert.Equal(t, models.ImportFailed, logRow.Status)
	require.Len(t, logRow.Errors, 1)
	assert.Contains(t, logRow.Errors[0], "unknown ambassador")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelImport_SetsCancelRequestedFlag(t *testing.T) {
	im, mock := newTestImporter(t, &stubProcessor{})

	mock.ExpectExec(`UPDATE import_logs SET cancel_requested = true WHERE id = \$1`).
		WithArgs("import-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := im.CancelImport(context.Background(), "import-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackImport_DeletesAuditEntriesAndDelegatesToProcessor(t *testing.T) {
	proc := &stubProcessor{}
	im, mock := newTestImporter(t, proc)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM import_audit_entries WHERE import_id = \$1`).
		WithArgs("import-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE import_logs SET status = 'rolled_back'`).
		WithArgs("import-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := im.RollbackImport(context.Background(), "import-1")
	require.NoError(t, err)
	assert.True(t, proc.deleteCalled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
