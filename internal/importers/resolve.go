package importers

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/fieldops/control-plane/internal/store"
)

// AmbassadorResolver resolves a free-text ambassador name to an internal
// id: case-insensitive full-name match first, then first/last name with a
// two-token fallback; email match takes precedence over name.
type AmbassadorResolver struct {
	store *store.Store
}

func NewAmbassadorResolver(st *store.Store) *AmbassadorResolver {
	return &AmbassadorResolver{store: st}
}

// Resolve returns the ambassador id, or "" if unresolved.
func (r *AmbassadorResolver) Resolve(ctx context.Context, nameOrEmail string) (string, error) {
	s := strings.TrimSpace(nameOrEmail)
	if s == "" {
		return "", nil
	}

	if strings.Contains(s, "@") {
		if id, err := r.byEmail(ctx, s); err != nil {
			return "", err
		} else if id != "" {
			return id, nil
		}
	}

	if id, err := r.byFullName(ctx, s); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	tokens := strings.Fields(s)
	if len(tokens) >= 2 {
		first, last := tokens[0], tokens[len(tokens)-1]
		return r.byFirstLast(ctx, first, last)
	}
	return "", nil
}

func (r *AmbassadorResolver) byEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := r.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM ambassadors WHERE lower(email) = lower($1)`, email)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (r *AmbassadorResolver) byFullName(ctx context.Context, name string) (string, error) {
	var id string
	err := r.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM ambassadors WHERE lower(full_name) = lower($1)`, name)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (r *AmbassadorResolver) byFirstLast(ctx context.Context, first, last string) (string, error) {
	var id string
	err := r.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM ambassadors WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)`, first, last)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// OperatorResolver resolves a numeric id, or does a LIKE %name% match on
// display name with a short-name fallback.
type OperatorResolver struct {
	store *store.Store
}

func NewOperatorResolver(st *store.Store) *OperatorResolver {
	return &OperatorResolver{store: st}
}

func (r *OperatorResolver) Resolve(ctx context.Context, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if _, err := strconv.Atoi(s); err == nil {
		var id string
		err := r.store.QueryRow(ctx, func(row *sql.Row) error {
			return row.Scan(&id)
		}, `SELECT id FROM operators WHERE id = $1`, s)
		if err != nil {
			if store.IsKind(err, store.KindNotFound) {
				return "", nil
			}
			return "", err
		}
		return id, nil
	}

	var id string
	err := r.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM operators WHERE display_name ILIKE '%' || $1 || '%' LIMIT 1`, s)
	if err == nil {
		return id, nil
	}
	if !store.IsKind(err, store.KindNotFound) {
		return "", err
	}

	err = r.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&id)
	}, `SELECT id FROM operators WHERE short_name ILIKE '%' || $1 || '%' LIMIT 1`, s)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}
