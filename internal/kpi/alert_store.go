package kpi

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// AlertStore owns the KPIAlert lifecycle: active -> acknowledged ->
// resolved, plus active -> snoozed -> active.
type AlertStore struct {
	store *store.Store
	bus   *events.Bus
}

func NewAlertStore(st *store.Store, bus *events.Bus) *AlertStore {
	return &AlertStore{store: st, bus: bus}
}

func (s *AlertStore) CreateAlert(ctx context.Context, a *models.KPIAlert) error {
	a.ID = uuid.NewString()
	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return err
	}
	_, err = s.store.Exec(ctx, `
		INSERT INTO kpi_alerts (id, threshold_id, kpi_name, severity, status, current_value,
			threshold_value, deviation_percent, message, context, created_at, notification_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0)`,
		a.ID, a.ThresholdID, a.KPIName, a.Severity, models.AlertActive, a.CurrentValue,
		a.ThresholdValue, a.DeviationPercent, a.Message, ctxJSON, a.CreatedAt)
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, "kpi.alert_created", "kpi-engine", a.ID, nil, map[string]interface{}{
		"alertId": a.ID, "kpiName": a.KPIName, "severity": string(a.Severity),
	})
	return nil
}

func (s *AlertStore) GetAlert(ctx context.Context, id string) (*models.KPIAlert, error) {
	var a models.KPIAlert
	var ctxJSON []byte
	err := s.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&a.ID, &a.ThresholdID, &a.KPIName, &a.Severity, &a.Status, &a.CurrentValue,
			&a.ThresholdValue, &a.DeviationPercent, &a.Message, &ctxJSON, &a.CreatedAt,
			&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.SnoozedUntil,
			&a.NotificationCount)
	}, `SELECT id, threshold_id, kpi_name, severity, status, current_value, threshold_value,
			deviation_percent, message, context, created_at, acknowledged_by, acknowledged_at,
			resolved_by, resolved_at, snoozed_until, notification_count
		FROM kpi_alerts WHERE id = $1`, id)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("alert %s not found", id)
		}
		return nil, err
	}
	json.Unmarshal(ctxJSON, &a.Context)
	return &a, nil
}

func (s *AlertStore) Acknowledge(ctx context.Context, id, by string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE kpi_alerts SET status = 'acknowledged', acknowledged_by = $1, acknowledged_at = now()
		WHERE id = $2 AND status = 'active'`, by, id)
	return err
}

func (s *AlertStore) Resolve(ctx context.Context, id, by string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE kpi_alerts SET status = 'resolved', resolved_by = $1, resolved_at = now()
		WHERE id = $2`, by, id)
	return err
}

// Snooze sets snoozedUntil and moves the alert to snoozed.
func (s *AlertStore) Snooze(ctx context.Context, id string, minutes int) error {
	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	_, err := s.store.Exec(ctx, `
		UPDATE kpi_alerts SET status = 'snoozed', snoozed_until = $1 WHERE id = $2`, until, id)
	return err
}

// ReactivateSnoozed flips any snoozed alert whose snoozedUntil has passed
// back to active. Intended to run once a minute.
func (s *AlertStore) ReactivateSnoozed(ctx context.Context) (int, error) {
	res, err := s.store.Exec(ctx, `
		UPDATE kpi_alerts SET status = 'active', snoozed_until = NULL
		WHERE status = 'snoozed' AND snoozed_until < now()`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecordNotification appends a delivery attempt and increments
// notificationCount; called by the notification dispatcher after each
// channel send attempt.
func (s *AlertStore) RecordNotification(ctx context.Context, alertID, channel, recipient string, success bool, errMsg *string) error {
	rec := models.NotificationRecord{Channel: channel, Recipient: recipient, Success: success, ErrorMessage: errMsg, SentAt: time.Now()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.store.Exec(ctx, `
		INSERT INTO kpi_alert_notifications (id, alert_id, record) VALUES ($1, $2, $3)`,
		uuid.NewString(), alertID, payload)
	if err != nil {
		return err
	}
	_, err = s.store.Exec(ctx, `UPDATE kpi_alerts SET notification_count = notification_count + 1 WHERE id = $1`, alertID)
	return err
}

// ListActive returns every alert not yet resolved, for dashboards.
func (s *AlertStore) ListActive(ctx context.Context) ([]models.KPIAlert, error) {
	var out []models.KPIAlert
	err := s.store.Query(ctx, func(rows *sql.Rows) error {
		var a models.KPIAlert
		var ctxJSON []byte
		if err := rows.Scan(&a.ID, &a.ThresholdID, &a.KPIName, &a.Severity, &a.Status, &a.CurrentValue,
			&a.ThresholdValue, &a.DeviationPercent, &a.Message, &ctxJSON, &a.CreatedAt,
			&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.SnoozedUntil,
			&a.NotificationCount); err != nil {
			return err
		}
		json.Unmarshal(ctxJSON, &a.Context)
		out = append(out, a)
		return nil
	}, `SELECT id, threshold_id, kpi_name, severity, status, current_value, threshold_value,
			deviation_percent, message, context, created_at, acknowledged_by, acknowledged_at,
			resolved_by, resolved_at, snoozed_until, notification_count
		FROM kpi_alerts WHERE status IN ('active','acknowledged','snoozed')
		ORDER BY created_at DESC`)
	return out, err
}
