package importers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// EventImporter creates/updates Event rows from historical event exports.
// Unlike SignupImporter, an unresolved ambassador is not fatal here: the
// row is kept and the assignment is simply omitted.
//
// The updatedEvents counter intentionally increments on every matched
// row, even rows whose fields are identical to what's already stored;
// this mirrors an existing quirk rather than "fixing" it into a
// changed-fields comparison.
type EventImporter struct {
	store       *store.Store
	ambassadors *AmbassadorResolver
	defaultYear int
	updated     int
}

func NewEventImporter(st *store.Store, ambassadors *AmbassadorResolver, defaultYear int) *EventImporter {
	return &EventImporter{store: st, ambassadors: ambassadors, defaultYear: defaultYear}
}

func (e *EventImporter) Columns() ([]string, map[string]int) {
	keywords := []string{"title", "venue", "date", "city", "state", "ambassador"}
	defaults := map[string]int{
		"date": 0, "title": 1, "venue": 2, "city": 3, "state": 4, "ambassador": 5,
	}
	return keywords, defaults
}

func (e *EventImporter) ApplyRow(ctx context.Context, tx *store.Tx, importBatchID string, rowNum int, row []string, columns map[string]int) (RowOutcome, error) {
	title := cellAt(row, columns["title"])
	venue := cellAt(row, columns["venue"])
	city := cellAt(row, columns["city"])
	state := cellAt(row, columns["state"])
	dateRaw := cellAt(row, columns["date"])
	ambassadorRaw := cellAt(row, columns["ambassador"])

	if title == "" || venue == "" {
		return RowOutcome{Status: models.RowError, Message: "missing required field (title or venue)"}, nil
	}

	date, err := NormalizeDate(dateRaw, e.defaultYear)
	if err != nil || date == nil {
		return RowOutcome{Status: models.RowError, Message: fmt.Sprintf("invalid date %q", dateRaw)}, nil
	}

	existingID, err := e.findDuplicate(ctx, tx, *date, venue)
	if err != nil {
		return RowOutcome{}, fmt.Errorf("duplicate check: %w", err)
	}

	var unresolved []string
	var ambassadorIDs []string
	for _, name := range ParseAmbassadorList(ambassadorRaw) {
		id, err := e.ambassadors.Resolve(ctx, name)
		if err != nil {
			return RowOutcome{}, fmt.Errorf("resolving ambassador: %w", err)
		}
		if id == "" {
			unresolved = append(unresolved, name)
			continue
		}
		ambassadorIDs = append(ambassadorIDs, id)
	}
	var ambassadorWarning string
	if len(unresolved) > 0 {
		ambassadorWarning = fmt.Sprintf("unresolved ambassador(s) %s, assignment omitted", strings.Join(unresolved, ", "))
	}

	var audit []models.ImportAuditEntry
	var entityID string
	var action string

	if existingID != "" {
		entityID = existingID
		action = "updated"
		e.updated++
		if _, err := tx.Exec(ctx, `
			UPDATE events SET title=$1, city=$2, state=$3, updated_at=now() WHERE id=$4`,
			title, city, state, existingID); err != nil {
			return RowOutcome{}, err
		}
		audit = append(audit, models.ImportAuditEntry{Action: "updated", EntityKind: "event", EntityID: existingID, Detail: "matched by (eventDate, venue) prefix"})
	} else {
		entityID = uuid.NewString()
		action = "created"
		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, title, venue, event_date, city, state, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,'planned',now(),now())`,
			entityID, title, venue, *date, city, state); err != nil {
			return RowOutcome{}, err
		}
		audit = append(audit, models.ImportAuditEntry{Action: "created", EntityKind: "event", EntityID: entityID, Detail: "imported from CSV"})
	}

	for _, ambassadorID := range ambassadorIDs {
		assignmentID := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO assignments (id, event_id, ambassador_id, status, created_at, updated_at)
			VALUES ($1,$2,$3,'pending',now(),now())
			ON CONFLICT (event_id, ambassador_id) DO NOTHING`, assignmentID, entityID, ambassadorID); err != nil {
			return RowOutcome{}, err
		}
		audit = append(audit, models.ImportAuditEntry{Action: "linked", EntityKind: "assignment", EntityID: assignmentID, Detail: "ambassador assignment from import"})
	}

	return RowOutcome{
		Status:   models.RowSuccess,
		Action:   action,
		Message:  ambassadorWarning,
		EntityID: &entityID,
		Audit:    audit,
	}, nil
}

// findDuplicate implements the (eventDate, normalized venue) prefix-match
// rule: venues entered slightly differently across export runs ("The
// Grand Hall" vs "The Grand Hall - Main Room") still match.
func (e *EventImporter) findDuplicate(ctx context.Context, tx *store.Tx, date time.Time, venue string) (string, error) {
	normalized := normalizeVenue(venue)
	var rows []struct {
		id    string
		venue string
	}
	err := tx.Query(ctx, func(r *sql.Rows) error {
		var id, v string
		if err := r.Scan(&id, &v); err != nil {
			return err
		}
		rows = append(rows, struct {
			id    string
			venue string
		}{id, v})
		return nil
	}, `SELECT id, venue FROM events WHERE event_date = $1`, date)
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		candidate := normalizeVenue(r.venue)
		if strings.HasPrefix(candidate, normalized) || strings.HasPrefix(normalized, candidate) {
			return r.id, nil
		}
	}
	return "", nil
}

func normalizeVenue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// DeleteImportedRows removes what this batch created: assignments it
// linked, assignments hanging off events it created, and finally the
// created events themselves. Events the batch merely updated (matched by
// the dedup rule) are left in place — their audit action is "updated",
// not "created". Runs before the audit trail is deleted, which is where
// the created-vs-updated distinction lives.
func (e *EventImporter) DeleteImportedRows(ctx context.Context, tx *store.Tx, importBatchID string) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM assignments WHERE id IN (
			SELECT entity_id FROM import_audit_entries
			WHERE import_id = $1 AND entity_kind = 'assignment' AND action = 'linked')`, importBatchID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM assignments WHERE event_id IN (
			SELECT entity_id FROM import_audit_entries
			WHERE import_id = $1 AND entity_kind = 'event' AND action = 'created')`, importBatchID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT entity_id FROM import_audit_entries
			WHERE import_id = $1 AND entity_kind = 'event' AND action = 'created')`, importBatchID)
	return err
}
