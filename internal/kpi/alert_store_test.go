package kpi

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

var alertCols = []string{
	"id", "threshold_id", "kpi_name", "severity", "status", "current_value", "threshold_value",
	"deviation_percent", "message", "context", "created_at", "acknowledged_by", "acknowledged_at",
	"resolved_by", "resolved_at", "snoozed_until", "notification_count",
}

func newTestAlertStore(t *testing.T) (*AlertStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAlertStore(store.New(db), events.NewBus(nil, 10)), mock
}

func TestCreateAlert_InsertsActiveAtNotificationCountZero(t *testing.T) {
	s, mock := newTestAlertStore(t)

	mock.ExpectExec(`INSERT INTO kpi_alerts`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	a := &models.KPIAlert{
		ThresholdID: "th-1", KPIName: "signups_count", Severity: models.Severity("critical"),
		CurrentValue: 2, ThresholdValue: 10, DeviationPercent: 80,
	}
	err := s.CreateAlert(context.Background(), a)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_OnlyTransitionsFromActive(t *testing.T) {
	s, mock := newTestAlertStore(t)

	mock.ExpectExec(`UPDATE kpi_alerts SET status = 'acknowledged'`).
		WithArgs("user-1", "alert-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Acknowledge(context.Background(), "alert-1", "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_SetsResolvedByAndTimestamp(t *testing.T) {
	s, mock := newTestAlertStore(t)

	mock.ExpectExec(`UPDATE kpi_alerts SET status = 'resolved'`).
		WithArgs("user-1", "alert-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Resolve(context.Background(), "alert-1", "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnooze_SetsSnoozedUntilInTheFuture(t *testing.T) {
	s, mock := newTestAlertStore(t)

	mock.ExpectExec(`UPDATE kpi_alerts SET status = 'snoozed'`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Snooze(context.Background(), "alert-1", 30)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReactivateSnoozed_ReturnsRowsAffected(t *testing.T) {
	s, mock := newTestAlertStore(t)

	mock.ExpectExec(`UPDATE kpi_alerts SET status = 'active', snoozed_until = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ReactivateSnoozed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordNotification_InsertsRecordThenIncrementsCount(t *testing.T) {
	s, mock := newTestAlertStore(t)

	mock.ExpectExec(`INSERT INTO kpi_alert_notifications`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE kpi_alerts SET notification_count = notification_count \+ 1`).
		WithArgs("alert-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.RecordNotification(context.Background(), "alert-1", "email", "ops@example.com", true, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_ExcludesResolvedAlerts(t *testing.T) {
	s, mock := newTestAlertStore(t)

	rows := sqlmock.NewRows(alertCols).AddRow(
		"alert-1", "th-1", "signups_count", "critical", "active", 2.0, 10.0, 80.0,
		"below threshold", []byte(`{}`), time.Now(), nil, nil, nil, nil, nil, 0,
	)
	mock.ExpectQuery(`SELECT id, threshold_id, kpi_name.*FROM kpi_alerts WHERE status IN`).
		WillReturnRows(rows)

	out, err := s.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "alert-1", out[0].ID)
	assert.Equal(t, models.AlertActive, out[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
