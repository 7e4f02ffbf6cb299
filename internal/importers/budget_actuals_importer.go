package importers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// BudgetActualsImporter upserts EventBudget or EventActuals rows,
// branching on the row-type column (Budget vs Actual), keyed by an
// already-resolved event (matched by title + event date, not by id,
// since historical spreadsheets never carry the internal id). Unmatched
// rows are skipped rather than creating orphan rows.
type BudgetActualsImporter struct {
	store       *store.Store
	defaultYear int
}

func NewBudgetActualsImporter(st *store.Store, defaultYear int) *BudgetActualsImporter {
	return &BudgetActualsImporter{store: st, defaultYear: defaultYear}
}

func (b *BudgetActualsImporter) Columns() ([]string, map[string]int) {
	keywords := []string{"type", "event", "date", "staff", "reimbursement", "reward", "base", "bonus", "parking", "setup", "revenue"}
	defaults := map[string]int{
		"type": 0, "date": 1, "event": 2, "staff": 3, "reimbursements": 4, "rewards": 5, "base": 6,
		"bonus/kickback": 7, "parking": 8, "setup": 9, "additional1": 10, "additional2": 11,
		"additional3": 12, "additional4": 13, "revenue": 14,
	}
	return keywords, defaults
}

func (b *BudgetActualsImporter) ApplyRow(ctx context.Context, tx *store.Tx, importBatchID string, rowNum int, row []string, columns map[string]int) (RowOutcome, error) {
	rowType := strings.ToLower(strings.TrimSpace(cellAt(row, columns["type"])))
	eventTitle := cellAt(row, columns["event"])
	dateRaw := cellAt(row, columns["date"])
	if eventTitle == "" {
		return RowOutcome{Status: models.RowError, Message: "missing event title"}, nil
	}
	if rowType != "" && rowType != "budget" && rowType != "actual" {
		return RowOutcome{Status: models.RowError, Message: fmt.Sprintf("row type must be Budget or Actual, got %q", rowType)}, nil
	}

	date, err := NormalizeDate(dateRaw, b.defaultYear)
	if err != nil || date == nil {
		return RowOutcome{Status: models.RowError, Message: fmt.Sprintf("invalid date %q", dateRaw)}, nil
	}

	eventID, err := b.findEvent(ctx, tx, eventTitle, *date)
	if err != nil {
		return RowOutcome{}, err
	}
	if eventID == "" {
		return RowOutcome{Status: models.RowSkipped, Message: fmt.Sprintf("no matching event for %q on %s", eventTitle, date.Format("2006-01-02"))}, nil
	}

	items, err := b.parseItems(row, columns)
	if err != nil {
		return RowOutcome{Status: models.RowError, Message: err.Error()}, nil
	}
	revenue, err := normalizeRequiredCurrency(cellAt(row, columns["revenue"]))
	if err != nil {
		return RowOutcome{Status: models.RowError, Message: err.Error()}, nil
	}

	table := "event_actuals"
	entityKind := "event_actuals"
	if rowType == "budget" {
		table = "event_budgets"
		entityKind = "event_budget"
	}

	// Created-vs-updated is recorded in the audit action so rollback can
	// delete only rows this batch introduced.
	var exists bool
	if err := tx.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&exists)
	}, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE event_id = $1)`, eventID); err != nil {
		return RowOutcome{}, err
	}
	action := "created"
	if exists {
		action = "updated"
	}

	actuals := models.EventActuals{EventID: eventID, Items: items, Revenue: revenue}
	actuals.Reconcile()

	_, err = tx.Exec(ctx, `
		INSERT INTO `+table+` (event_id, staff, reimbursements, rewards, base, bonus_kickback,
			parking, setup, additional1, additional2, additional3, additional4, total, revenue, profit, margin)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (event_id) DO UPDATE SET
			staff=EXCLUDED.staff, reimbursements=EXCLUDED.reimbursements, rewards=EXCLUDED.rewards,
			base=EXCLUDED.base, bonus_kickback=EXCLUDED.bonus_kickback, parking=EXCLUDED.parking,
			setup=EXCLUDED.setup, additional1=EXCLUDED.additional1, additional2=EXCLUDED.additional2,
			additional3=EXCLUDED.additional3, additional4=EXCLUDED.additional4, total=EXCLUDED.total,
			revenue=EXCLUDED.revenue, profit=EXCLUDED.profit, margin=EXCLUDED.margin`,
		eventID, items.Staff, items.Reimbursements, items.Rewards, items.Base, items.BonusKickback,
		items.Parking, items.Setup, items.Additional1, items.Additional2, items.Additional3, items.Additional4,
		actuals.Total, actuals.Revenue, actuals.Profit, actuals.Margin)
	if err != nil {
		return RowOutcome{}, err
	}

	return RowOutcome{
		Status:   models.RowSuccess,
		Action:   action,
		EntityID: &eventID,
		Audit: []models.ImportAuditEntry{
			{Action: action, EntityKind: entityKind, EntityID: eventID, Detail: "imported from CSV"},
		},
	}, nil
}

func (b *BudgetActualsImporter) parseItems(row []string, columns map[string]int) (models.BudgetLineItems, error) {
	var items models.BudgetLineItems
	fields := []struct {
		col string
		dst *float64
	}{
		{"staff", &items.Staff}, {"reimbursements", &items.Reimbursements}, {"rewards", &items.Rewards},
		{"base", &items.Base}, {"bonus/kickback", &items.BonusKickback}, {"parking", &items.Parking},
		{"setup", &items.Setup}, {"additional1", &items.Additional1}, {"additional2", &items.Additional2},
		{"additional3", &items.Additional3}, {"additional4", &items.Additional4},
	}
	for _, f := range fields {
		v, err := NormalizeCurrency(cellAt(row, columns[f.col]))
		if err != nil {
			return items, fmt.Errorf("%s: %w", f.col, err)
		}
		if v != nil {
			*f.dst = *v
		}
	}
	return items, nil
}

func normalizeRequiredCurrency(raw string) (float64, error) {
	v, err := NormalizeCurrency(raw)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return *v, nil
}

func (b *BudgetActualsImporter) findEvent(ctx context.Context, tx *store.Tx, title string, date time.Time) (string, error) {
	var id string
	err := tx.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM events WHERE lower(title) = lower($1) AND event_date = $2 LIMIT 1`, title, date)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// DeleteImportedRows removes only the budget/actuals rows this batch
// created; rows it updated keep their (overwritten) values, since the
// pre-import numbers are not recorded anywhere to restore from. Runs
// before the audit trail is deleted.
func (b *BudgetActualsImporter) DeleteImportedRows(ctx context.Context, tx *store.Tx, importBatchID string) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM event_actuals WHERE event_id IN (
			SELECT entity_id FROM import_audit_entries
			WHERE import_id = $1 AND entity_kind = 'event_actuals' AND action = 'created')`, importBatchID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM event_budgets WHERE event_id IN (
			SELECT entity_id FROM import_audit_entries
			WHERE import_id = $1 AND entity_kind = 'event_budget' AND action = 'created')`, importBatchID)
	return err
}
