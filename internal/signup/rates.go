package signup

import (
	"context"
	"database/sql"

	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// CpaRateStore loads the commission-per-(operator,state) rows ResolveRate
// matches a sign-up against.
type CpaRateStore struct {
	store *store.Store
}

func NewCpaRateStore(st *store.Store) *CpaRateStore {
	return &CpaRateStore{store: st}
}

// ListActive loads every rate flagged active; Matches filters by operator,
// state, and effective window at call time, so this intentionally doesn't
// filter further here.
func (s *CpaRateStore) ListActive(ctx context.Context) ([]models.CpaRate, error) {
	var out []models.CpaRate
	err := s.store.Query(ctx, func(rows *sql.Rows) error {
		var r models.CpaRate
		if err := rows.Scan(&r.ID, &r.OperatorID, &r.StateCode, &r.CPAAmount, &r.EffectiveDate, &r.EndDate, &r.IsActive); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}, `SELECT id, operator_id, state_code, cpa_amount, effective_date, end_date, is_active
		FROM cpa_rates WHERE is_active = true`)
	return out, err
}
