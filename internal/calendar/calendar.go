// Package calendar owns the on-site activation schedule: Event lifecycle,
// ambassador Assignment, and the per-event Budget/Actuals pair, using a
// lifecycle state machine plus an audit history table per transition.
// This package is the service layer the API handlers call into rather
// than querying internal/store directly.
package calendar

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

type Calendar struct {
	store  *store.Store
	bus    *events.Bus
	logger *log.Logger
}

func New(st *store.Store, bus *events.Bus) *Calendar {
	return &Calendar{store: st, bus: bus, logger: log.New(log.Writer(), "[CALENDAR] ", log.LstdFlags)}
}

// CreateEvent inserts a new Event in the planned state.
func (c *Calendar) CreateEvent(ctx context.Context, e models.Event) (*models.Event, error) {
	if e.Title == "" || e.Venue == "" {
		return nil, apierr.Validation(map[string]string{"title": "required", "venue": "required"})
	}
	e.ID = uuid.NewString()
	e.Status = models.EventPlanned
	_, err := c.store.Exec(ctx, `
		INSERT INTO events (id, title, venue, event_date, start_time, end_time, timezone, city, state,
			latitude, longitude, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())`,
		e.ID, e.Title, e.Venue, e.EventDate, e.StartTime, e.EndTime, e.Timezone, e.City, e.State,
		e.Latitude, e.Longitude, e.Status)
	if err != nil {
		return nil, err
	}
	c.bus.Publish(ctx, "event.created", "calendar", e.ID, nil, map[string]interface{}{"eventId": e.ID, "title": e.Title})
	return &e, nil
}

// GetEvent loads a single event by id.
func (c *Calendar) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e := &models.Event{}
	err := c.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&e.ID, &e.Title, &e.Venue, &e.EventDate, &e.StartTime, &e.EndTime, &e.Timezone,
			&e.City, &e.State, &e.Latitude, &e.Longitude, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	}, `SELECT id, title, venue, event_date, start_time, end_time, timezone, city, state, latitude,
			longitude, status, created_at, updated_at FROM events WHERE id = $1`, id)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("event %s not found", id)
		}
		return nil, err
	}
	return e, nil
}

// UpdateEvent applies a field patch to an existing event. Status is not
// touched here; it only moves through TransitionStatus so every change is
// captured in the history table.
func (c *Calendar) UpdateEvent(ctx context.Context, id string, patch models.Event) (*models.Event, error) {
	_, err := c.store.Exec(ctx, `
		UPDATE events SET title=$1, venue=$2, event_date=$3, start_time=$4, end_time=$5, timezone=$6,
			city=$7, state=$8, latitude=$9, longitude=$10, updated_at=now()
		WHERE id = $11`,
		patch.Title, patch.Venue, patch.EventDate, patch.StartTime, patch.EndTime, patch.Timezone,
		patch.City, patch.State, patch.Latitude, patch.Longitude, id)
	if err != nil {
		return nil, err
	}
	return c.GetEvent(ctx, id)
}

// DeleteEvent removes an event and its budget/actuals/assignments.
func (c *Calendar) DeleteEvent(ctx context.Context, id string) error {
	return c.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM assignments WHERE event_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event_budgets WHERE event_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event_actuals WHERE event_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event_status_history WHERE event_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
		return err
	})
}

// DuplicateEvent clones an event's venue/geography/timezone onto a new
// date, in the planned state, leaving the source untouched.
func (c *Calendar) DuplicateEvent(ctx context.Context, sourceID string, newDate time.Time) (*models.Event, error) {
	src, err := c.GetEvent(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	clone := *src
	clone.EventDate = newDate
	return c.CreateEvent(ctx, clone)
}

// DuplicateBulk clones an event onto every date given, skipping (and
// reporting) any date where FindByDateVenuePrefix already finds a match so
// a bulk duplication never silently creates collisions.
func (c *Calendar) DuplicateBulk(ctx context.Context, sourceID string, dates []time.Time) (created []models.Event, skipped []time.Time, err error) {
	src, err := c.GetEvent(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range dates {
		existing, err := c.FindByDateVenuePrefix(ctx, d, src.Venue)
		if err != nil {
			return created, skipped, err
		}
		if existing != "" {
			skipped = append(skipped, d)
			continue
		}
		clone := *src
		clone.EventDate = d
		e, err := c.CreateEvent(ctx, clone)
		if err != nil {
			return created, skipped, err
		}
		created = append(created, *e)
	}
	return created, skipped, nil
}

// PreviewDuplicate reports, for each candidate date, whether duplicating
// the source event onto it would collide with an existing event at the
// same venue, without creating anything.
func (c *Calendar) PreviewDuplicate(ctx context.Context, sourceID string, dates []time.Time) ([]DuplicatePreviewEntry, error) {
	src, err := c.GetEvent(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	out := make([]DuplicatePreviewEntry, 0, len(dates))
	for _, d := range dates {
		existing, err := c.FindByDateVenuePrefix(ctx, d, src.Venue)
		if err != nil {
			return nil, err
		}
		out = append(out, DuplicatePreviewEntry{Date: d, WouldConflict: existing != "", ConflictingEventID: existing})
	}
	return out, nil
}

// DuplicatePreviewEntry is one row of PreviewDuplicate's result.
type DuplicatePreviewEntry struct {
	Date               time.Time `json:"date"`
	WouldConflict      bool      `json:"wouldConflict"`
	ConflictingEventID string    `json:"conflictingEventId,omitempty"`
}

// ListEvents returns events ordered by date, most recent first.
func (c *Calendar) ListEvents(ctx context.Context, limit, offset int) ([]models.Event, error) {
	var out []models.Event
	err := c.store.Query(ctx, func(rows *sql.Rows) error {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Venue, &e.EventDate, &e.StartTime, &e.EndTime, &e.Timezone,
			&e.City, &e.State, &e.Latitude, &e.Longitude, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}, `SELECT id, title, venue, event_date, start_time, end_time, timezone, city, state, latitude,
			longitude, status, created_at, updated_at FROM events ORDER BY event_date DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	return out, err
}

// TransitionStatus applies one edge of the Event state machine, writing
// a history row in the same transaction as the status change.
func (c *Calendar) TransitionStatus(ctx context.Context, eventID string, to models.EventStatus, actor string, reason *string) (*models.Event, error) {
	e, err := c.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(e.Status, to) {
		return nil, apierr.Conflictf("cannot transition event from %s to %s", e.Status, to)
	}
	from := e.Status
	err = c.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE events SET status = $1, updated_at = now() WHERE id = $2`, to, eventID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO event_status_history (id, event_id, from_status, to_status, actor, reason, at)
			VALUES ($1,$2,$3,$4,$5,$6,now())`, uuid.NewString(), eventID, from, to, actor, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Status = to
	c.bus.Publish(ctx, "event.status_changed", "calendar", eventID, nil, map[string]interface{}{
		"eventId": eventID, "from": string(from), "to": string(to),
	})
	return e, nil
}

// StatusHistory lists transition history for an event, oldest first.
func (c *Calendar) StatusHistory(ctx context.Context, eventID string) ([]models.EventStatusHistory, error) {
	var out []models.EventStatusHistory
	err := c.store.Query(ctx, func(rows *sql.Rows) error {
		var h models.EventStatusHistory
		if err := rows.Scan(&h.ID, &h.EventID, &h.From, &h.To, &h.Actor, &h.Reason, &h.At); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	}, `SELECT id, event_id, from_status, to_status, actor, reason, at FROM event_status_history
		WHERE event_id = $1 ORDER BY at ASC`, eventID)
	return out, err
}

// AssignAmbassador creates a pending Assignment linking an ambassador to
// an event.
func (c *Calendar) AssignAmbassador(ctx context.Context, eventID, ambassadorID string) (*models.Assignment, error) {
	a := &models.Assignment{
		ID:           uuid.NewString(),
		EventID:      eventID,
		AmbassadorID: ambassadorID,
		Status:       models.AssignmentPending,
	}
	_, err := c.store.Exec(ctx, `
		INSERT INTO assignments (id, event_id, ambassador_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())`, a.ID, a.EventID, a.AmbassadorID, a.Status)
	if err != nil {
		return nil, err
	}
	c.bus.Publish(ctx, "assignment.created", "calendar", a.ID, nil, map[string]interface{}{
		"assignmentId": a.ID, "eventId": eventID, "ambassadorId": ambassadorID,
	})
	return a, nil
}

// UpdateAssignmentStatus moves an assignment through confirmed/declined/completed.
func (c *Calendar) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) error {
	_, err := c.store.Exec(ctx, `UPDATE assignments SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	c.bus.Publish(ctx, "assignment.status_changed", "calendar", id, nil, map[string]interface{}{
		"assignmentId": id, "status": string(status),
	})
	return nil
}

// ListAssignments returns assignments for an event.
func (c *Calendar) ListAssignments(ctx context.Context, eventID string) ([]models.Assignment, error) {
	var out []models.Assignment
	err := c.store.Query(ctx, func(rows *sql.Rows) error {
		var a models.Assignment
		if err := rows.Scan(&a.ID, &a.EventID, &a.AmbassadorID, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	}, `SELECT id, event_id, ambassador_id, status, created_at, updated_at FROM assignments
		WHERE event_id = $1 ORDER BY created_at ASC`, eventID)
	return out, err
}

// GetBudget loads the planned budget for an event, or a zero-value budget
// with Reconcile already applied if none exists yet.
func (c *Calendar) GetBudget(ctx context.Context, eventID string) (*models.EventBudget, error) {
	b := &models.EventBudget{EventID: eventID}
	err := c.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&b.Items.Staff, &b.Items.Reimbursements, &b.Items.Rewards, &b.Items.Base,
			&b.Items.BonusKickback, &b.Items.Parking, &b.Items.Setup, &b.Items.Additional1,
			&b.Items.Additional2, &b.Items.Additional3, &b.Items.Additional4, &b.Revenue)
	}, `SELECT staff, reimbursements, rewards, base, bonus_kickback, parking, setup,
			additional1, additional2, additional3, additional4, revenue
		FROM event_budgets WHERE event_id = $1`, eventID)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			b.Reconcile()
			return b, nil
		}
		return nil, err
	}
	b.Reconcile()
	return b, nil
}

// PutBudget upserts the planned budget, recomputing Total/Profit/Margin
// before persisting so a caller can never write a row that violates the
// reconciliation invariant.
func (c *Calendar) PutBudget(ctx context.Context, eventID string, items models.BudgetLineItems, revenue float64) (*models.EventBudget, error) {
	b := &models.EventBudget{EventID: eventID, Items: items, Revenue: revenue}
	b.Reconcile()
	_, err := c.store.Exec(ctx, `
		INSERT INTO event_budgets (event_id, staff, reimbursements, rewards, base, bonus_kickback,
			parking, setup, additional1, additional2, additional3, additional4, revenue, total, profit, margin, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
		ON CONFLICT (event_id) DO UPDATE SET
			staff=$2, reimbursements=$3, rewards=$4, base=$5, bonus_kickback=$6, parking=$7, setup=$8,
			additional1=$9, additional2=$10, additional3=$11, additional4=$12, revenue=$13,
			total=$14, profit=$15, margin=$16, updated_at=now()`,
		eventID, b.Items.Staff, b.Items.Reimbursements, b.Items.Rewards, b.Items.Base, b.Items.BonusKickback,
		b.Items.Parking, b.Items.Setup, b.Items.Additional1, b.Items.Additional2, b.Items.Additional3,
		b.Items.Additional4, b.Revenue, b.Total, b.Profit, b.Margin)
	if err != nil {
		return nil, err
	}
	c.bus.Publish(ctx, "event.budget_updated", "calendar", eventID, nil, map[string]interface{}{"eventId": eventID, "total": b.Total})
	return b, nil
}

// GetActuals loads the realized spend/revenue for an event.
func (c *Calendar) GetActuals(ctx context.Context, eventID string) (*models.EventActuals, error) {
	a := &models.EventActuals{EventID: eventID}
	err := c.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&a.Items.Staff, &a.Items.Reimbursements, &a.Items.Rewards, &a.Items.Base,
			&a.Items.BonusKickback, &a.Items.Parking, &a.Items.Setup, &a.Items.Additional1,
			&a.Items.Additional2, &a.Items.Additional3, &a.Items.Additional4, &a.Revenue)
	}, `SELECT staff, reimbursements, rewards, base, bonus_kickback, parking, setup,
			additional1, additional2, additional3, additional4, revenue
		FROM event_actuals WHERE event_id = $1`, eventID)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			a.Reconcile()
			return a, nil
		}
		return nil, err
	}
	a.Reconcile()
	return a, nil
}

// UpsertActuals writes realized spend/revenue, used by the event actuals and
// revenue API handlers. The budget/actuals CSV importer writes event_actuals
// through its own row transaction and does not call this.
func (c *Calendar) UpsertActuals(ctx context.Context, eventID string, items models.BudgetLineItems, revenue float64) (*models.EventActuals, error) {
	a := &models.EventActuals{EventID: eventID, Items: items, Revenue: revenue}
	a.Reconcile()
	_, err := c.store.Exec(ctx, `
		INSERT INTO event_actuals (event_id, staff, reimbursements, rewards, base, bonus_kickback,
			parking, setup, additional1, additional2, additional3, additional4, revenue, total, profit, margin, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
		ON CONFLICT (event_id) DO UPDATE SET
			staff=$2, reimbursements=$3, rewards=$4, base=$5, bonus_kickback=$6, parking=$7, setup=$8,
			additional1=$9, additional2=$10, additional3=$11, additional4=$12, revenue=$13,
			total=$14, profit=$15, margin=$16, updated_at=now()`,
		eventID, a.Items.Staff, a.Items.Reimbursements, a.Items.Rewards, a.Items.Base, a.Items.BonusKickback,
		a.Items.Parking, a.Items.Setup, a.Items.Additional1, a.Items.Additional2, a.Items.Additional3,
		a.Items.Additional4, a.Revenue, a.Total, a.Profit, a.Margin)
	if err != nil {
		return nil, err
	}
	c.bus.Publish(ctx, "event.actuals_updated", "calendar", eventID, nil, map[string]interface{}{"eventId": eventID, "total": a.Total})
	return a, nil
}

// FindByDateVenuePrefix returns the first event on date whose venue starts
// with venuePrefix (case-insensitive), or "" when none does. DuplicateBulk
// and PreviewDuplicate share it; the event CSV importer applies its own
// prefix check (findDuplicate) and does not call this.
func (c *Calendar) FindByDateVenuePrefix(ctx context.Context, date time.Time, venuePrefix string) (string, error) {
	var id string
	err := c.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM events WHERE event_date = $1 AND venue ILIKE $2 || '%' LIMIT 1`,
		date.Format("2006-01-02"), venuePrefix)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}
