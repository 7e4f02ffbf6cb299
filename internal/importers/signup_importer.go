package importers

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/signup"
	"github.com/fieldops/control-plane/internal/store"
)

// SignupImporter maps CSV rows onto signup.Pipeline.CreateImported, the
// pipeline's backfill path: each sign-up commits inside the row's own
// transaction with none of the live-intake side effects. The import's
// own duplicate rule, (email, operatorId, date), is distinct from and
// stricter than the pipeline's (email, operatorId) check, so it runs
// first; a row that clears it can still come back ValidationDuplicate
// from the pipeline, which is reported the same way.
type SignupImporter struct {
	store       *store.Store
	pipeline    *signup.Pipeline
	rates       *signup.CpaRateStore
	ambassadors *AmbassadorResolver
	operators   *OperatorResolver
	defaultYear int
}

func NewSignupImporter(st *store.Store, pipeline *signup.Pipeline, rates *signup.CpaRateStore, ambassadors *AmbassadorResolver, operators *OperatorResolver, defaultYear int) *SignupImporter {
	return &SignupImporter{store: st, pipeline: pipeline, rates: rates, ambassadors: ambassadors, operators: operators, defaultYear: defaultYear}
}

func (s *SignupImporter) Columns() ([]string, map[string]int) {
	keywords := []string{"ambassador", "operator", "email", "customer", "date", "amount", "state"}
	defaults := map[string]int{
		"date": 0, "ambassador": 1, "operator": 2, "customer name": 3,
		"customer email": 4, "customer state": 5, "bet amount": 6, "team bet on": 7, "odds": 8,
	}
	return keywords, defaults
}

func (s *SignupImporter) ApplyRow(ctx context.Context, tx *store.Tx, importBatchID string, rowNum int, row []string, columns map[string]int) (RowOutcome, error) {
	ambassadorRaw := cellAt(row, columns["ambassador"])
	operatorRaw := cellAt(row, columns["operator"])
	email := cellAt(row, columns["customer email"])
	name := cellAt(row, columns["customer name"])
	stateRaw := cellAt(row, columns["customer state"])
	dateRaw := cellAt(row, columns["date"])

	if email == "" || ambassadorRaw == "" || operatorRaw == "" {
		return RowOutcome{Status: models.RowError, Message: "missing required field (ambassador, operator, or customer email)"}, nil
	}

	// entity resolution runs outside the row transaction's write path but
	// must still observe rows committed earlier in this same import, so it
	// uses the store directly rather than tx.
	ambassadorID, err := s.ambassadors.Resolve(ctx, ambassadorRaw)
	if err != nil {
		return RowOutcome{}, fmt.Errorf("resolving ambassador: %w", err)
	}
	if ambassadorID == "" {
		return RowOutcome{Status: models.RowError, Message: fmt.Sprintf("unresolved ambassador %q", ambassadorRaw)}, nil
	}

	operatorID, err := s.operators.Resolve(ctx, operatorRaw)
	if err != nil {
		return RowOutcome{}, fmt.Errorf("resolving operator: %w", err)
	}
	if operatorID == "" {
		return RowOutcome{Status: models.RowError, Message: fmt.Sprintf("unresolved operator %q", operatorRaw)}, nil
	}

	date, err := NormalizeDate(dateRaw, s.defaultYear)
	if err != nil {
		return RowOutcome{Status: models.RowError, Message: err.Error()}, nil
	}

	if date != nil {
		dupID, err := s.findDuplicate(ctx, email, operatorID, *date)
		if err != nil {
			return RowOutcome{}, fmt.Errorf("duplicate check: %w", err)
		}
		if dupID != "" {
			return RowOutcome{Status: models.RowDuplicate, Message: "matches an existing sign-up for this email/operator/date", EntityID: &dupID}, nil
		}
	}

	var statePtr *string
	if stateRaw != "" {
		statePtr = &stateRaw
	}

	idempotencyKey := rowIdempotencyKey(importBatchID, rowNum)

	in := signup.Input{
		AmbassadorID:   ambassadorID,
		OperatorID:     operatorID,
		CustomerEmail:  email,
		CustomerName:   name,
		CustomerState:  statePtr,
		IdempotencyKey: idempotencyKey,
	}

	// Historical rows go through the backfill path: the sign-up commits
	// inside this row's transaction, stamped with the CSV date, with no
	// live fan-out, extraction, or dashboard events fired for it.
	submittedAt := time.Now()
	if date != nil {
		submittedAt = *date
	}
	su, err := s.pipeline.CreateImported(ctx, tx, in, submittedAt)
	if err != nil {
		return RowOutcome{}, err
	}

	if su.ValidationStatus == models.ValidationDuplicate {
		return RowOutcome{Status: models.RowDuplicate, Message: "matches an existing pending/validated sign-up", EntityID: &su.ID}, nil
	}

	audit := []models.ImportAuditEntry{
		{Action: "created", EntityKind: "sign_up", EntityID: su.ID, Detail: "imported from CSV"},
	}
	if statePtr != nil {
		if attr, err := s.attributeCpa(ctx, tx, su.ID, operatorID, *statePtr, su.SubmittedAt); err != nil {
			return RowOutcome{}, fmt.Errorf("cpa attribution: %w", err)
		} else if attr != nil {
			audit = append(audit, models.ImportAuditEntry{
				Action: "linked", EntityKind: "cpa_attribution", EntityID: attr.ID,
				Detail: fmt.Sprintf("rate %s applied at $%.2f", attr.CpaRateID, attr.Amount),
			})
		}
	}

	return RowOutcome{
		Status:   models.RowSuccess,
		Action:   "created",
		EntityID: &su.ID,
		Audit:    audit,
	}, nil
}

// attributeCpa finds the CpaRate active for (operatorID, state) at `at`
// and persists a CpaAttribution linking it to the sign-up, if one matches.
func (s *SignupImporter) attributeCpa(ctx context.Context, tx *store.Tx, signUpID, operatorID, state string, at time.Time) (*models.CpaAttribution, error) {
	rates, err := s.rates.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	best := signup.BestMatchingRate(rates, operatorID, state, at)
	if best == nil {
		return nil, nil
	}
	attr := &models.CpaAttribution{
		ID:        uuid.NewString(),
		SignUpID:  signUpID,
		CpaRateID: best.ID,
		Amount:    best.CPAAmount,
		CreatedAt: at,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO cpa_attributions (id, sign_up_id, cpa_rate_id, amount, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sign_up_id) DO NOTHING`, attr.ID, attr.SignUpID, attr.CpaRateID, attr.Amount, attr.CreatedAt)
	if err != nil {
		return nil, err
	}
	return attr, nil
}

func (s *SignupImporter) DeleteImportedRows(ctx context.Context, tx *store.Tx, importBatchID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM sign_ups WHERE idempotency_key LIKE $1`, importBatchID+":%")
	return err
}

func (s *SignupImporter) findDuplicate(ctx context.Context, email, operatorID string, date time.Time) (string, error) {
	var id string
	err := s.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `
		SELECT id FROM sign_ups
		WHERE lower(customer_email) = lower($1) AND operator_id = $2
		  AND date(submitted_at) = $3
		  AND validation_status IN ('pending', 'validated')
		LIMIT 1`, email, operatorID, date.Format("2006-01-02"))
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func rowIdempotencyKey(importBatchID string, rowNum int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", importBatchID, rowNum)))
	return importBatchID + ":" + hex.EncodeToString(sum[:8])
}
