// Package signup implements the sign-up intake pipeline: idempotent submission, duplicate detection, async bet-slip extraction,
// CPA rate lookup, and a two-leg independent partner fan-out. All three
// entry points share one submit() so the idempotency/duplicate/persist
// stages are implemented exactly once.
package signup

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/store"
)

// Extractor is the external bet-slip OCR/extraction collaborator.
// Implementations enqueue the job and invoke the pipeline's
// callback asynchronously; this package never blocks on it.
type Extractor interface {
	Enqueue(ctx context.Context, signUpID, imageKey string, onResult func(ExtractionResult))
}

// ExtractionResult is what an Extractor reports back.
type ExtractionResult struct {
	BetAmount  *float64
	TeamBetOn  *string
	Odds       *string
	Confidence float64
	Failed     bool
	Reason     string
}

// SyncLeg pushes one fan-out leg to the partner CRM. Implementations wrap
// an integrations client call.
type SyncLeg func(ctx context.Context, su *models.SignUp, phase models.SyncPhase) error

// Input is the shared submission payload across all three entry points.
type Input struct {
	EventID        *string
	SoloChatID     *string
	AmbassadorID   string
	OperatorID     string
	CustomerEmail  string
	CustomerName   string
	CustomerState  *string
	IdempotencyKey string
	ImageKey       *string
}

type Pipeline struct {
	store     *store.Store
	bus       *events.Bus
	extractor Extractor
	retryCfg  retry.Config
	legs      map[models.SyncPhase]SyncLeg
	logger    *log.Logger
}

func NewPipeline(st *store.Store, bus *events.Bus, extractor Extractor, retryCfg retry.Config) *Pipeline {
	return &Pipeline{
		store:     st,
		bus:       bus,
		extractor: extractor,
		retryCfg:  retryCfg,
		legs:      make(map[models.SyncPhase]SyncLeg),
		logger:    log.New(log.Writer(), "[SIGNUP] ", log.LstdFlags),
	}
}

// RegisterSyncLeg wires the partner push implementation for a fan-out phase.
func (p *Pipeline) RegisterSyncLeg(phase models.SyncPhase, leg SyncLeg) {
	p.legs[phase] = leg
}

// SubmitEventSignup and SubmitSoloSignup are the public entry points; both
// delegate to submit. CreateDirect is the trusted-internal path (skips
// nothing; the idempotency contract still holds).
func (p *Pipeline) SubmitEventSignup(ctx context.Context, in Input) (*models.SignUp, error) {
	return p.submit(ctx, in)
}

func (p *Pipeline) SubmitSoloSignup(ctx context.Context, in Input) (*models.SignUp, error) {
	return p.submit(ctx, in)
}

func (p *Pipeline) CreateDirect(ctx context.Context, in Input) (*models.SignUp, error) {
	return p.submit(ctx, in)
}

// CreateImported persists a historical sign-up inside the caller's
// transaction, so the row commits or rolls back together with whatever
// else the caller writes (import row details, CPA attribution, audit).
// It honors the same idempotency and duplicate rules as submit but runs
// none of the live side effects — no event publish, no extraction
// enqueue, no partner fan-out. Backfill rows are records of the past,
// not new intake.
func (p *Pipeline) CreateImported(ctx context.Context, tx *store.Tx, in Input, submittedAt time.Time) (*models.SignUp, error) {
	if in.IdempotencyKey == "" {
		return nil, apierr.Validation(map[string]string{"idempotencyKey": "required"})
	}
	if existing, err := p.findByIdempotencyKeyTx(ctx, tx, in.OperatorID, in.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	su := &models.SignUp{
		ID:               uuid.NewString(),
		EventID:          in.EventID,
		SoloChatID:       in.SoloChatID,
		AmbassadorID:     in.AmbassadorID,
		OperatorID:       in.OperatorID,
		CustomerEmail:    strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		CustomerName:     in.CustomerName,
		CustomerState:    in.CustomerState,
		SubmittedAt:      submittedAt,
		ValidationStatus: models.ValidationPending,
		ExtractionStatus: models.ExtractionNotRequired,
		IdempotencyKey:   in.IdempotencyKey,
	}

	var count int
	err := tx.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&count)
	}, `SELECT count(*) FROM sign_ups
		WHERE lower(customer_email) = $1 AND operator_id = $2
		AND validation_status IN ('pending','validated')`, su.CustomerEmail, su.OperatorID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		su.ValidationStatus = models.ValidationDuplicate
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sign_ups (id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email,
			customer_name, customer_state, submitted_at, validation_status, extraction_status,
			idempotency_key, image_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())`,
		su.ID, su.EventID, su.SoloChatID, su.AmbassadorID, su.OperatorID, su.CustomerEmail,
		su.CustomerName, su.CustomerState, su.SubmittedAt, su.ValidationStatus, su.ExtractionStatus,
		su.IdempotencyKey, su.ImageKey)
	if err != nil {
		return nil, err
	}
	return su, nil
}

func (p *Pipeline) findByIdempotencyKeyTx(ctx context.Context, tx *store.Tx, operatorID, key string) (*models.SignUp, error) {
	su := &models.SignUp{}
	err := tx.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&su.ID, &su.EventID, &su.SoloChatID, &su.AmbassadorID, &su.OperatorID,
			&su.CustomerEmail, &su.CustomerName, &su.CustomerState, &su.SubmittedAt,
			&su.ValidationStatus, &su.ExtractionStatus, &su.BetAmount, &su.TeamBetOn, &su.Odds,
			&su.ExtractionConfidence, &su.CPAAmount, &su.PayPeriodID, &su.IdempotencyKey,
			&su.ImageKey, &su.CreatedAt, &su.UpdatedAt)
	}, `SELECT id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email, customer_name,
			customer_state, submitted_at, validation_status, extraction_status, bet_amount, team_bet_on,
			odds, extraction_confidence, cpa_amount, pay_period_id, idempotency_key, image_key, created_at, updated_at
		FROM sign_ups WHERE operator_id = $1 AND idempotency_key = $2`, operatorID, key)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return su, nil
}

func (p *Pipeline) submit(ctx context.Context, in Input) (*models.SignUp, error) {
	if in.IdempotencyKey == "" {
		return nil, apierr.Validation(map[string]string{"idempotencyKey": "required"})
	}

	if existing, err := p.findByIdempotencyKey(ctx, in.OperatorID, in.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	su := &models.SignUp{
		ID:               uuid.NewString(),
		EventID:          in.EventID,
		SoloChatID:       in.SoloChatID,
		AmbassadorID:     in.AmbassadorID,
		OperatorID:       in.OperatorID,
		CustomerEmail:    strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		CustomerName:     in.CustomerName,
		CustomerState:    in.CustomerState,
		SubmittedAt:      time.Now(),
		ValidationStatus: models.ValidationPending,
		IdempotencyKey:   in.IdempotencyKey,
		ImageKey:         in.ImageKey,
	}
	if su.HasImage() {
		su.ExtractionStatus = models.ExtractionPending
	} else {
		su.ExtractionStatus = models.ExtractionNotRequired
	}

	if err := p.persist(ctx, su); err != nil {
		return nil, err
	}
	p.bus.Publish(ctx, "sign_up.submitted", "signup-pipeline", su.ID, nil, signUpEventData(su))

	if dup, err := p.checkDuplicate(ctx, su); err != nil {
		return nil, err
	} else if dup {
		su.ValidationStatus = models.ValidationDuplicate
		p.updateValidationStatus(ctx, su.ID, models.ValidationDuplicate)
		return su, nil
	}

	if su.HasImage() && p.extractor != nil {
		p.extractor.Enqueue(ctx, su.ID, *su.ImageKey, func(res ExtractionResult) {
			p.handleExtractionResult(context.Background(), su.ID, res)
		})
	}

	p.fanOut(ctx, su)

	return su, nil
}

func signUpEventData(su *models.SignUp) map[string]interface{} {
	data := map[string]interface{}{
		"signUpId":     su.ID,
		"ambassadorId": su.AmbassadorID,
		"operatorId":   su.OperatorID,
	}
	if su.EventID != nil {
		data["eventId"] = *su.EventID
	}
	return data
}

// GetByID loads a single sign-up, or nil if it does not exist.
func (p *Pipeline) GetByID(ctx context.Context, id string) (*models.SignUp, error) {
	su := &models.SignUp{}
	err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&su.ID, &su.EventID, &su.SoloChatID, &su.AmbassadorID, &su.OperatorID,
			&su.CustomerEmail, &su.CustomerName, &su.CustomerState, &su.SubmittedAt,
			&su.ValidationStatus, &su.ExtractionStatus, &su.BetAmount, &su.TeamBetOn, &su.Odds,
			&su.ExtractionConfidence, &su.CPAAmount, &su.PayPeriodID, &su.IdempotencyKey,
			&su.ImageKey, &su.CreatedAt, &su.UpdatedAt)
	}, `SELECT id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email, customer_name,
			customer_state, submitted_at, validation_status, extraction_status, bet_amount, team_bet_on,
			odds, extraction_confidence, cpa_amount, pay_period_id, idempotency_key, image_key, created_at, updated_at
		FROM sign_ups WHERE id = $1`, id)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, apierr.NotFoundf("sign-up %s not found", id)
		}
		return nil, err
	}
	return su, nil
}

// ReviewQueue lists sign-ups awaiting an extraction-review decision.
func (p *Pipeline) ReviewQueue(ctx context.Context) ([]models.SignUp, error) {
	var out []models.SignUp
	err := p.store.Query(ctx, func(rows *sql.Rows) error {
		var su models.SignUp
		if err := rows.Scan(&su.ID, &su.EventID, &su.SoloChatID, &su.AmbassadorID, &su.OperatorID,
			&su.CustomerEmail, &su.CustomerName, &su.CustomerState, &su.SubmittedAt,
			&su.ValidationStatus, &su.ExtractionStatus, &su.BetAmount, &su.TeamBetOn, &su.Odds,
			&su.ExtractionConfidence, &su.CPAAmount, &su.PayPeriodID, &su.IdempotencyKey,
			&su.ImageKey, &su.CreatedAt, &su.UpdatedAt); err != nil {
			return err
		}
		out = append(out, su)
		return nil
	}, `SELECT id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email, customer_name,
			customer_state, submitted_at, validation_status, extraction_status, bet_amount, team_bet_on,
			odds, extraction_confidence, cpa_amount, pay_period_id, idempotency_key, image_key, created_at, updated_at
		FROM sign_ups WHERE extraction_status = 'needs_review' ORDER BY submitted_at ASC`)
	return out, err
}

// SyncFailures lists recorded partner fan-out failures for review/retry.
func (p *Pipeline) SyncFailures(ctx context.Context) ([]models.SyncFailure, error) {
	var out []models.SyncFailure
	err := p.store.Query(ctx, func(rows *sql.Rows) error {
		var f models.SyncFailure
		if err := rows.Scan(&f.ID, &f.SignUpID, &f.SyncPhase, &f.ErrorType, &f.ErrorMessage, &f.LastAttemptAt, &f.AttemptCount, &f.Resolved); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	}, `SELECT id, sign_up_id, sync_phase, error_type, error_message, last_attempt_at, attempt_count, resolved
		FROM sync_failures ORDER BY last_attempt_at DESC LIMIT 200`)
	return out, err
}

// AuditTrail returns the sync-failure history for a single sign-up,
// newest first: the closest thing this schema has to a state-change log
// for an individual submission.
func (p *Pipeline) AuditTrail(ctx context.Context, signUpID string) ([]models.SyncFailure, error) {
	var out []models.SyncFailure
	err := p.store.Query(ctx, func(rows *sql.Rows) error {
		var f models.SyncFailure
		if err := rows.Scan(&f.ID, &f.SignUpID, &f.SyncPhase, &f.ErrorType, &f.ErrorMessage, &f.LastAttemptAt, &f.AttemptCount, &f.Resolved); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	}, `SELECT id, sign_up_id, sync_phase, error_type, error_message, last_attempt_at, attempt_count, resolved
		FROM sync_failures WHERE sign_up_id = $1 ORDER BY last_attempt_at DESC`, signUpID)
	return out, err
}

// Reject transitions a sign-up to rejected; unlike MarkValidated this does
// not resolve a CPA rate or run the enriched fan-out leg.
func (p *Pipeline) Reject(ctx context.Context, signUpID string) error {
	p.updateValidationStatus(ctx, signUpID, models.ValidationRejected)
	p.bus.Publish(ctx, "sign_up.rejected", "signup-pipeline", signUpID, nil, map[string]interface{}{"signUpId": signUpID})
	return nil
}

// ListAll returns sign-ups ordered by submission time, most recent first.
func (p *Pipeline) ListAll(ctx context.Context, limit, offset int) ([]models.SignUp, error) {
	var out []models.SignUp
	err := p.store.Query(ctx, func(rows *sql.Rows) error {
		var su models.SignUp
		if err := rows.Scan(&su.ID, &su.EventID, &su.SoloChatID, &su.AmbassadorID, &su.OperatorID,
			&su.CustomerEmail, &su.CustomerName, &su.CustomerState, &su.SubmittedAt,
			&su.ValidationStatus, &su.ExtractionStatus, &su.BetAmount, &su.TeamBetOn, &su.Odds,
			&su.ExtractionConfidence, &su.CPAAmount, &su.PayPeriodID, &su.IdempotencyKey,
			&su.ImageKey, &su.CreatedAt, &su.UpdatedAt); err != nil {
			return err
		}
		out = append(out, su)
		return nil
	}, `SELECT id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email, customer_name,
			customer_state, submitted_at, validation_status, extraction_status, bet_amount, team_bet_on,
			odds, extraction_confidence, cpa_amount, pay_period_id, idempotency_key, image_key, created_at, updated_at
		FROM sign_ups ORDER BY submitted_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return out, err
}

// CheckDuplicate reports whether a pending/validated sign-up already
// exists for (email, operatorId), without creating anything.
func (p *Pipeline) CheckDuplicate(ctx context.Context, email, operatorID string) (bool, error) {
	emailLower := strings.ToLower(email)
	var count int
	err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&count)
	}, `SELECT count(*) FROM sign_ups
		WHERE lower(customer_email) = $1 AND operator_id = $2
		AND validation_status IN ('pending','validated')`, emailLower, operatorID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *Pipeline) findByIdempotencyKey(ctx context.Context, operatorID, key string) (*models.SignUp, error) {
	su := &models.SignUp{}
	err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&su.ID, &su.EventID, &su.SoloChatID, &su.AmbassadorID, &su.OperatorID,
			&su.CustomerEmail, &su.CustomerName, &su.CustomerState, &su.SubmittedAt,
			&su.ValidationStatus, &su.ExtractionStatus, &su.BetAmount, &su.TeamBetOn, &su.Odds,
			&su.ExtractionConfidence, &su.CPAAmount, &su.PayPeriodID, &su.IdempotencyKey,
			&su.ImageKey, &su.CreatedAt, &su.UpdatedAt)
	}, `SELECT id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email, customer_name,
			customer_state, submitted_at, validation_status, extraction_status, bet_amount, team_bet_on,
			odds, extraction_confidence, cpa_amount, pay_period_id, idempotency_key, image_key, created_at, updated_at
		FROM sign_ups WHERE operator_id = $1 AND idempotency_key = $2`, operatorID, key)
	if err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return su, nil
}

func (p *Pipeline) persist(ctx context.Context, su *models.SignUp) error {
	_, err := p.store.Exec(ctx, `
		INSERT INTO sign_ups (id, event_id, solo_chat_id, ambassador_id, operator_id, customer_email,
			customer_name, customer_state, submitted_at, validation_status, extraction_status,
			idempotency_key, image_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())`,
		su.ID, su.EventID, su.SoloChatID, su.AmbassadorID, su.OperatorID, su.CustomerEmail,
		su.CustomerName, su.CustomerState, su.SubmittedAt, su.ValidationStatus, su.ExtractionStatus,
		su.IdempotencyKey, su.ImageKey)
	return err
}

// checkDuplicate implements the hash-lookup on (emailLower, operatorId)
// against sign-ups still pending or validated.
func (p *Pipeline) checkDuplicate(ctx context.Context, su *models.SignUp) (bool, error) {
	emailLower := strings.ToLower(su.CustomerEmail)
	var count int
	err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&count)
	}, `SELECT count(*) FROM sign_ups
		WHERE lower(customer_email) = $1 AND operator_id = $2 AND id != $3
		AND validation_status IN ('pending','validated')`, emailLower, su.OperatorID, su.ID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *Pipeline) updateValidationStatus(ctx context.Context, id string, status models.ValidationStatus) {
	p.store.Exec(ctx, `UPDATE sign_ups SET validation_status = $1, updated_at = now() WHERE id = $2`, status, id)
}

// handleExtractionResult applies stage 3's completion rule: confidence >=
// 0.9 and all three fields present confirms; otherwise needs_review; a
// reported failure marks failed.
func (p *Pipeline) handleExtractionResult(ctx context.Context, signUpID string, res ExtractionResult) {
	if res.Failed {
		p.store.Exec(ctx, `UPDATE sign_ups SET extraction_status = 'failed', updated_at = now() WHERE id = $1`, signUpID)
		p.bus.Publish(ctx, "sign_up.extraction_failed", "signup-pipeline", signUpID, nil, map[string]interface{}{"signUpId": signUpID, "reason": res.Reason})
		return
	}

	complete := res.BetAmount != nil && res.TeamBetOn != nil && res.Odds != nil
	if complete && res.Confidence >= 0.9 {
		p.store.Exec(ctx, `
			UPDATE sign_ups SET extraction_status = 'confirmed', bet_amount = $1, team_bet_on = $2,
				odds = $3, extraction_confidence = $4, updated_at = now() WHERE id = $5`,
			res.BetAmount, res.TeamBetOn, res.Odds, res.Confidence, signUpID)
		p.bus.Publish(ctx, "sign_up.extraction_confirmed", "signup-pipeline", signUpID, nil, map[string]interface{}{"signUpId": signUpID})
		return
	}

	p.store.Exec(ctx, `
		UPDATE sign_ups SET extraction_status = 'needs_review', bet_amount = $1, team_bet_on = $2,
			odds = $3, extraction_confidence = $4, updated_at = now() WHERE id = $5`,
		res.BetAmount, res.TeamBetOn, res.Odds, res.Confidence, signUpID)
	p.bus.Publish(ctx, "sign_up.needs_review", "signup-pipeline", signUpID, nil, map[string]interface{}{"signUpId": signUpID})
}

// ConfirmExtraction applies reviewer corrections and moves the row to
// confirmed.
func (p *Pipeline) ConfirmExtraction(ctx context.Context, signUpID string, betAmount *float64, teamBetOn, odds *string) error {
	_, err := p.store.Exec(ctx, `
		UPDATE sign_ups SET extraction_status = 'confirmed', bet_amount = coalesce($1, bet_amount),
			team_bet_on = coalesce($2, team_bet_on), odds = coalesce($3, odds), updated_at = now()
		WHERE id = $4`, betAmount, teamBetOn, odds, signUpID)
	if err != nil {
		return err
	}
	p.bus.Publish(ctx, "sign_up.extraction_confirmed", "signup-pipeline", signUpID, nil, map[string]interface{}{"signUpId": signUpID})
	return nil
}

// SkipExtraction moves the row to skipped.
func (p *Pipeline) SkipExtraction(ctx context.Context, signUpID string, reason *string) error {
	_, err := p.store.Exec(ctx, `UPDATE sign_ups SET extraction_status = 'skipped', updated_at = now() WHERE id = $1`, signUpID)
	if err != nil {
		return err
	}
	p.bus.Publish(ctx, "sign_up.extraction_skipped", "signup-pipeline", signUpID, nil, map[string]interface{}{"signUpId": signUpID, "reason": reason})
	return nil
}

// ResolveRate looks up the applicable CpaRate for a sign-up and, if found,
// persists cpaAmount; otherwise publishes the missing-rate warning.
// Called when a sign-up enters validated, whether by manual
// review or an auto-validation path for trusted operators.
func (p *Pipeline) ResolveRate(ctx context.Context, su *models.SignUp, rates []models.CpaRate) {
	state := ""
	if su.CustomerState != nil {
		state = *su.CustomerState
	}
	best := BestMatchingRate(rates, su.OperatorID, state, su.SubmittedAt)
	if best != nil {
		p.store.Exec(ctx, `UPDATE sign_ups SET cpa_amount = $1, updated_at = now() WHERE id = $2`, best.CPAAmount, su.ID)
		return
	}
	p.bus.Publish(ctx, "sign_up.rate_missing", "signup-pipeline", su.ID, nil, map[string]interface{}{"signUpId": su.ID})
}

// BestMatchingRate selects, among the rates matching (operatorID, state, at),
// the one with the maximum effectiveDate. Exported so the bulk sign-up
// importer's per-row CpaAttribution applies the identical selection rule
// as the pipeline's rate-lookup stage.
func BestMatchingRate(rates []models.CpaRate, operatorID, state string, at time.Time) *models.CpaRate {
	var best *models.CpaRate
	for i := range rates {
		if !rates[i].Matches(operatorID, state, at) {
			continue
		}
		if best == nil || rates[i].EffectiveDate.After(best.EffectiveDate) {
			best = &rates[i]
		}
	}
	return best
}

// MarkValidated transitions validationStatus to validated, then resolves
// the CPA rate and kicks off the enriched fan-out leg.
func (p *Pipeline) MarkValidated(ctx context.Context, su *models.SignUp, rates []models.CpaRate) {
	p.updateValidationStatus(ctx, su.ID, models.ValidationValidated)
	su.ValidationStatus = models.ValidationValidated
	p.ResolveRate(ctx, su, rates)
	p.runLeg(ctx, su, models.SyncPhaseEnriched)
}

// fanOut kicks off the initial CRM push immediately after persist,
// detached so a slow partner never blocks the submission response; the
// enriched leg runs later, from MarkValidated.
func (p *Pipeline) fanOut(ctx context.Context, su *models.SignUp) {
	go p.runLeg(context.Background(), su, models.SyncPhaseInitial)
}

func (p *Pipeline) runLeg(ctx context.Context, su *models.SignUp, phase models.SyncPhase) {
	leg, ok := p.legs[phase]
	if !ok {
		return
	}
	result := retry.WithRetry(ctx, p.retryCfg, func(ctx context.Context) error {
		return leg(ctx, su, phase)
	})
	if !result.Success {
		p.recordSyncFailure(ctx, su.ID, phase, result)
	}
}

func (p *Pipeline) recordSyncFailure(ctx context.Context, signUpID string, phase models.SyncPhase, result retry.Result) {
	errType := "other"
	if result.Err != nil {
		switch retry.Classify(result.Err) {
		case retry.CategoryRateLimit:
			errType = "rate_limit"
		case retry.CategoryServerError:
			errType = "server_error"
		case retry.CategoryNetwork:
			errType = "network"
		}
	}
	p.store.Exec(ctx, `
		INSERT INTO sync_failures (id, sign_up_id, sync_phase, error_type, error_message, last_attempt_at, attempt_count, resolved)
		VALUES ($1, $2, $3, $4, $5, now(), $6, false)`,
		uuid.NewString(), signUpID, phase, errType, errMessage(result.Err), result.Attempts)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// RetrySyncLeg re-queues the fan-out leg identified by syncPhase.
func (p *Pipeline) RetrySyncLeg(ctx context.Context, su *models.SignUp, phase models.SyncPhase) {
	p.runLeg(ctx, su, phase)
}
