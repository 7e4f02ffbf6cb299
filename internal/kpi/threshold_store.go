// Package kpi implements the KPI threshold/alert engine: versioned
// threshold CRUD, periodic/on-demand evaluation against a comparator,
// the alert lifecycle state machine, and a notification dispatcher built
// around the same bounded worker-pool shape used elsewhere in this
// codebase for fan-out delivery.
package kpi

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// ThresholdStore owns KPIThreshold CRUD and its append-only version history.
type ThresholdStore struct {
	store *store.Store
}

func NewThresholdStore(st *store.Store) *ThresholdStore {
	return &ThresholdStore{store: st}
}

// CreateThreshold inserts a threshold at version 1 and writes the matching
// current version row.
func (s *ThresholdStore) CreateThreshold(ctx context.Context, t models.KPIThreshold) (*models.KPIThreshold, error) {
	t.ID = uuid.NewString()
	t.CurrentVersion = 1
	t.Enabled = true

	err := s.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := insertThresholdRow(ctx, tx, &t); err != nil {
			return err
		}
		return insertVersionRow(ctx, tx, t, 1, true, time.Now(), nil)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func insertThresholdRow(ctx context.Context, tx *store.Tx, t *models.KPIThreshold) error {
	channels, _ := json.Marshal(t.Channels)
	recipients, _ := json.Marshal(t.Recipients)
	_, err := tx.Exec(ctx, `
		INSERT INTO kpi_thresholds (id, kpi_name, category, condition, threshold_value,
			warning_threshold, critical_threshold, aggregation, aggregation_period, severity,
			enabled, cooldown_minutes, channels, recipients, current_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.KPIName, t.Category, t.Condition, t.ThresholdValue, t.WarningThreshold,
		t.CriticalThreshold, t.Aggregation, t.AggregationPeriod, t.Severity, t.Enabled,
		t.CooldownMinutes, channels, recipients, t.CurrentVersion)
	return err
}

func insertVersionRow(ctx context.Context, tx *store.Tx, snapshot models.KPIThreshold, version int, isCurrent bool, effectiveFrom time.Time, effectiveTo *time.Time) error {
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO kpi_threshold_versions (id, threshold_id, version, is_current, effective_from, effective_to, snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.NewString(), snapshot.ID, version, isCurrent, effectiveFrom, effectiveTo, snapJSON)
	return err
}

// UpdateThreshold atomically closes the current version and writes the new
// one at version+1.
func (s *ThresholdStore) UpdateThreshold(ctx context.Context, id string, changes func(*models.KPIThreshold)) (*models.KPIThreshold, error) {
	var updated models.KPIThreshold
	err := s.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		current, err := getThresholdTx(ctx, tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		if _, err := tx.Exec(ctx, `
			UPDATE kpi_threshold_versions SET is_current = false, effective_to = $1
			WHERE threshold_id = $2 AND is_current = true`, now, id); err != nil {
			return err
		}

		updated = *current
		changes(&updated)
		updated.CurrentVersion = current.CurrentVersion + 1

		if err := updateThresholdRow(ctx, tx, &updated); err != nil {
			return err
		}
		return insertVersionRow(ctx, tx, updated, updated.CurrentVersion, true, now, nil)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func updateThresholdRow(ctx context.Context, tx *store.Tx, t *models.KPIThreshold) error {
	channels, _ := json.Marshal(t.Channels)
	recipients, _ := json.Marshal(t.Recipients)
	_, err := tx.Exec(ctx, `
		UPDATE kpi_thresholds SET condition=$1, threshold_value=$2, warning_threshold=$3,
			critical_threshold=$4, aggregation=$5, aggregation_period=$6, severity=$7, enabled=$8,
			cooldown_minutes=$9, channels=$10, recipients=$11, current_version=$12
		WHERE id=$13`,
		t.Condition, t.ThresholdValue, t.WarningThreshold, t.CriticalThreshold, t.Aggregation,
		t.AggregationPeriod, t.Severity, t.Enabled, t.CooldownMinutes, channels, recipients,
		t.CurrentVersion, t.ID)
	return err
}

func getThresholdTx(ctx context.Context, tx *store.Tx, id string) (*models.KPIThreshold, error) {
	var t models.KPIThreshold
	var channels, recipients []byte
	err := tx.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&t.ID, &t.KPIName, &t.Category, &t.Condition, &t.ThresholdValue,
			&t.WarningThreshold, &t.CriticalThreshold, &t.Aggregation, &t.AggregationPeriod,
			&t.Severity, &t.Enabled, &t.CooldownMinutes, &channels, &recipients,
			&t.CurrentVersion, &t.LastAlertAt)
	}, `SELECT id, kpi_name, category, condition, threshold_value, warning_threshold,
			critical_threshold, aggregation, aggregation_period, severity, enabled,
			cooldown_minutes, channels, recipients, current_version, last_alert_at
		FROM kpi_thresholds WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("threshold %s not found", id)
		}
		return nil, err
	}
	json.Unmarshal(channels, &t.Channels)
	json.Unmarshal(recipients, &t.Recipients)
	return &t, nil
}

func (s *ThresholdStore) touchLastAlertAt(ctx context.Context, id string, at time.Time) error {
	_, err := s.store.Exec(ctx, `UPDATE kpi_thresholds SET last_alert_at = $1 WHERE id = $2`, at, id)
	return err
}

// GetThreshold reads the current threshold row.
func (s *ThresholdStore) GetThreshold(ctx context.Context, id string) (*models.KPIThreshold, error) {
	var t models.KPIThreshold
	var channels, recipients []byte
	err := s.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&t.ID, &t.KPIName, &t.Category, &t.Condition, &t.ThresholdValue,
			&t.WarningThreshold, &t.CriticalThreshold, &t.Aggregation, &t.AggregationPeriod,
			&t.Severity, &t.Enabled, &t.CooldownMinutes, &channels, &recipients,
			&t.CurrentVersion, &t.LastAlertAt)
	}, `SELECT id, kpi_name, category, condition, threshold_value, warning_threshold,
			critical_threshold, aggregation, aggregation_period, severity, enabled,
			cooldown_minutes, channels, recipients, current_version, last_alert_at
		FROM kpi_thresholds WHERE id = $1`, id)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("threshold %s not found", id)
		}
		return nil, err
	}
	json.Unmarshal(channels, &t.Channels)
	json.Unmarshal(recipients, &t.Recipients)
	return &t, nil
}

// ListEnabled returns every enabled threshold, for the evaluation loop.
func (s *ThresholdStore) ListEnabled(ctx context.Context) ([]models.KPIThreshold, error) {
	var out []models.KPIThreshold
	err := s.store.Query(ctx, func(rows *sql.Rows) error {
		var t models.KPIThreshold
		var channels, recipients []byte
		if err := rows.Scan(&t.ID, &t.KPIName, &t.Category, &t.Condition, &t.ThresholdValue,
			&t.WarningThreshold, &t.CriticalThreshold, &t.Aggregation, &t.AggregationPeriod,
			&t.Severity, &t.Enabled, &t.CooldownMinutes, &channels, &recipients,
			&t.CurrentVersion, &t.LastAlertAt); err != nil {
			return err
		}
		json.Unmarshal(channels, &t.Channels)
		json.Unmarshal(recipients, &t.Recipients)
		out = append(out, t)
		return nil
	}, `SELECT id, kpi_name, category, condition, threshold_value, warning_threshold,
			critical_threshold, aggregation, aggregation_period, severity, enabled,
			cooldown_minutes, channels, recipients, current_version, last_alert_at
		FROM kpi_thresholds WHERE enabled = true`)
	return out, err
}

// GetThresholdAtTime selects the version active at time t.
func (s *ThresholdStore) GetThresholdAtTime(ctx context.Context, id string, t time.Time) (*models.KPIThreshold, error) {
	var snapJSON []byte
	err := s.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&snapJSON)
	}, `SELECT snapshot FROM kpi_threshold_versions
		WHERE threshold_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY version DESC LIMIT 1`, id, t)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("no threshold version for %s at %s", id, t)
		}
		return nil, err
	}
	var snap models.KPIThreshold
	if err := json.Unmarshal(snapJSON, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RollbackThreshold writes a new current version copied from targetVersion
// (a new version, not a mutation of history).
func (s *ThresholdStore) RollbackThreshold(ctx context.Context, id string, targetVersion int, reason *string) (*models.KPIThreshold, error) {
	var result models.KPIThreshold
	err := s.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		var snapJSON []byte
		if err := tx.QueryRow(ctx, func(row *sql.Row) error {
			return row.Scan(&snapJSON)
		}, `SELECT snapshot FROM kpi_threshold_versions WHERE threshold_id = $1 AND version = $2`, id, targetVersion); err != nil {
			if store.IsKind(err, store.KindNotFound) {
				return apierr.NotFoundf("version %d not found for threshold %s", targetVersion, id)
			}
			return err
		}
		var target models.KPIThreshold
		if err := json.Unmarshal(snapJSON, &target); err != nil {
			return err
		}

		current, err := getThresholdTx(ctx, tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		if _, err := tx.Exec(ctx, `UPDATE kpi_threshold_versions SET is_current = false, effective_to = $1 WHERE threshold_id = $2 AND is_current = true`, now, id); err != nil {
			return err
		}

		result = target
		result.ID = id
		result.CurrentVersion = current.CurrentVersion + 1
		if err := updateThresholdRow(ctx, tx, &result); err != nil {
			return err
		}
		return insertVersionRow(ctx, tx, result, result.CurrentVersion, true, now, nil)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
