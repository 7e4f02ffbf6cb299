package kpi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// NotificationOutbox is the default sender: it persists each alert
// notification as a structured job row for an external gateway process
// (email, chat, SMS) to pick up and deliver. This service never talks
// to a delivery gateway itself.
type NotificationOutbox struct {
	store *store.Store
}

func NewNotificationOutbox(st *store.Store) *NotificationOutbox {
	return &NotificationOutbox{store: st}
}

// Enqueue satisfies NotificationSender. The job payload carries
// everything a gateway needs to render and address the message.
func (o *NotificationOutbox) Enqueue(ctx context.Context, channel, recipient string, alert models.KPIAlert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"alertId":          alert.ID,
		"kpiName":          alert.KPIName,
		"severity":         alert.Severity,
		"message":          alert.Message,
		"currentValue":     alert.CurrentValue,
		"thresholdValue":   alert.ThresholdValue,
		"deviationPercent": alert.DeviationPercent,
		"createdAt":        alert.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = o.store.Exec(ctx, `
		INSERT INTO notification_jobs (id, alert_id, channel, recipient, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', now())`,
		uuid.NewString(), alert.ID, channel, recipient, payload)
	return err
}
