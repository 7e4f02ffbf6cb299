package signup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/store"
)

var signUpCols = []string{
	"id", "event_id", "solo_chat_id", "ambassador_id", "operator_id", "customer_email",
	"customer_name", "customer_state", "submitted_at", "validation_status", "extraction_status",
	"bet_amount", "team_bet_on", "odds", "extraction_confidence", "cpa_amount", "pay_period_id",
	"idempotency_key", "image_key", "created_at", "updated_at",
}

func newTestPipeline(t *testing.T) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	bus := events.NewBus(nil, 10)
	p := NewPipeline(st, bus, nil, retry.Config{MaxAttempts: 1})
	return p, mock
}

func TestSubmit_RejectsMissingIdempotencyKey(t *testing.T) {
	p, mock := newTestPipeline(t)

	_, err := p.submit(context.Background(), Input{OperatorID: "op-1", CustomerEmail: "a@b.com"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_ReturnsExistingRecordForRepeatedIdempotencyKey(t *testing.T) {
	p, mock := newTestPipeline(t)

	now := time.Now()
	rows := sqlmock.NewRows(signUpCols).AddRow(
		"su-1", nil, nil, "amb-1", "op-1", "existing@example.com", "Existing Customer", nil,
		now, "pending", "not_required", nil, nil, nil, nil, nil, nil,
		"idem-1", nil, now, now,
	)
	mock.ExpectQuery(`SELECT id, event_id, solo_chat_id.*FROM sign_ups WHERE operator_id = \$1 AND idempotency_key = \$2`).
		WithArgs("op-1", "idem-1").
		WillReturnRows(rows)

	out, err := p.submit(context.Background(), Input{
		OperatorID:     "op-1",
		CustomerEmail:  "new@example.com",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "su-1", out.ID)
	assert.Equal(t, "existing@example.com", out.CustomerEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_PersistsThenDetectsDuplicateByEmailAndOperator(t *testing.T) {
	p, mock := newTestPipeline(t)

	mock.ExpectQuery(`SELECT id, event_id, solo_chat_id.*FROM sign_ups WHERE operator_id = \$1 AND idempotency_key = \$2`).
		WithArgs("op-1", "idem-2").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectExec(`INSERT INTO sign_ups`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	dupRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(`SELECT count\(\*\) FROM sign_ups.*id != \$3`).
		WillReturnRows(dupRows)

	mock.ExpectExec(`UPDATE sign_ups SET validation_status = \$1`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	out, err := p.submit(context.Background(), Input{
		OperatorID:     "op-1",
		CustomerEmail:  "dup@example.com",
		IdempotencyKey: "idem-2",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, models.ValidationDuplicate, out.ValidationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_ProceedsWhenNoDuplicateFound(t *testing.T) {
	p, mock := newTestPipeline(t)

	mock.ExpectQuery(`SELECT id, event_id, solo_chat_id.*FROM sign_ups WHERE operator_id = \$1 AND idempotency_key = \$2`).
		WithArgs("op-1", "idem-3").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectExec(`INSERT INTO sign_ups`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	dupRows := sqlmock.NewRows([]string{"count"}).AddRow(0)
	mock.ExpectQuery(`SELECT count\(\*\) FROM sign_ups.*id != \$3`).
		WillReturnRows(dupRows)

	out, err := p.submit(context.Background(), Input{
		OperatorID:     "op-1",
		CustomerEmail:  "fresh@example.com",
		IdempotencyKey: "idem-3",
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, models.ValidationPending, out.ValidationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIdempotencyKey_ReturnsNilWithoutErrorWhenAbsent(t *testing.T) {
	p, mock := newTestPipeline(t)

	mock.ExpectQuery(`SELECT id, event_id, solo_chat_id.*FROM sign_ups WHERE operator_id = \$1 AND idempotency_key = \$2`).
		WithArgs("op-9", "missing").
		WillReturnError(sql.ErrNoRows)

	out, err := p.findByIdempotencyKey(context.Background(), "op-9", "missing")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateImported_PersistsHistoricalRowInsideCallerTransaction(t *testing.T) {
	p, mock := newTestPipeline(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, event_id, solo_chat_id.*FROM sign_ups WHERE operator_id = \$1 AND idempotency_key = \$2`).
		WithArgs("op-1", "hist-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM sign_ups`).
		WithArgs("hist@example.com", "op-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO sign_ups`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	submitted := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	var out *models.SignUp
	err := p.store.Transaction(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		su, err := p.CreateImported(ctx, tx, Input{
			AmbassadorID:   "amb-1",
			OperatorID:     "op-1",
			CustomerEmail:  "Hist@Example.com",
			IdempotencyKey: "hist-1",
		}, submitted)
		out = su
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, submitted, out.SubmittedAt)
	assert.Equal(t, "hist@example.com", out.CustomerEmail)
	assert.Equal(t, models.ValidationPending, out.ValidationStatus)
	assert.Equal(t, models.ExtractionNotRequired, out.ExtractionStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateImported_MarksDuplicateWhenPendingSignupExists(t *testing.T) {
	p, mock := newTestPipeline(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, event_id, solo_chat_id.*FROM sign_ups WHERE operator_id = \$1 AND idempotency_key = \$2`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM sign_ups`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO sign_ups`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var out *models.SignUp
	err := p.store.Transaction(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		su, err := p.CreateImported(ctx, tx, Input{
			OperatorID:     "op-1",
			CustomerEmail:  "dup@example.com",
			IdempotencyKey: "hist-2",
		}, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
		out = su
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.ValidationDuplicate, out.ValidationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckDuplicate_LowercasesEmailBeforeComparing(t *testing.T) {
	p, mock := newTestPipeline(t)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(`SELECT count\(\*\) FROM sign_ups`).
		WithArgs("mixedcase@example.com", "op-1").
		WillReturnRows(rows)

	dup, err := p.CheckDuplicate(context.Background(), "MixedCase@Example.com", "op-1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.NoError(t, mock.ExpectationsWereMet())
}
