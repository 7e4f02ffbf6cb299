package importers

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// RowOutcome is what a concrete importer's RowProcessor reports per row.
type RowOutcome struct {
	Status   models.RowStatus
	Action   string
	Message  string
	EntityID *string
	Audit    []models.ImportAuditEntry // zero or more audit entries this row produced
}

// RowProcessor is implemented once per importer kind (signups, events,
// budget/actuals). ApplyRow runs inside the shared transaction-per-row
// apply step. Preview-time duplicate/unresolved counting is the separate,
// optional PreviewChecker interface.
type RowProcessor interface {
	// Columns returns the header keywords this importer expects, used by
	// DetectHeader, and the default column mapping to fall back to when no
	// header row is found.
	Columns() (keywords []string, defaultMapping map[string]int)
	// ApplyRow is called inside a transaction for row rowNum (1-based,
	// counting from the first data row). importBatchID tags everything the
	// row writes, for rollback.
	ApplyRow(ctx context.Context, tx *store.Tx, importBatchID string, rowNum int, row []string, columns map[string]int) (RowOutcome, error)
}

const (
	maxErrorsRetained   = 100
	maxWarningsRetained = 100
	headerScanRows      = 10
)

// Importer is the shared skeleton that wraps every concrete importer's
// RowProcessor: hash and log the file, parse, resolve, dedupe, apply row
// by row, audit, finalize.
type Importer struct {
	store      *store.Store
	bus        *events.Bus
	kind       models.ImportKind
	processor  RowProcessor
	metrics    *metrics.Metrics
	logger     *log.Logger
	maxErrors  int
	maxWarns   int
	scanRows   int
}

func NewImporter(st *store.Store, bus *events.Bus, kind models.ImportKind, processor RowProcessor) *Importer {
	return &Importer{
		store:     st,
		bus:       bus,
		kind:      kind,
		processor: processor,
		logger:    log.New(log.Writer(), fmt.Sprintf("[IMPORT:%s] ", kind), log.LstdFlags),
		maxErrors: maxErrorsRetained,
		maxWarns:  maxWarningsRetained,
		scanRows:  headerScanRows,
	}
}

// WithMetrics attaches Prometheus instrumentation; omit in tests.
func (im *Importer) WithMetrics(m *metrics.Metrics) *Importer {
	im.metrics = m
	return im
}

// Run hashes and logs content, then tokenizes, normalizes, resolves,
// dedups, and applies each row transactionally, attributed to createdBy.
func (im *Importer) Run(ctx context.Context, content string, createdBy string) (*models.ImportLog, error) {
	hash := sha256.Sum256([]byte(content))
	logRow := &models.ImportLog{
		ID:        uuid.NewString(),
		Kind:      im.kind,
		FileHash:  hex.EncodeToString(hash[:]),
		Status:    models.ImportProcessing,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	if err := im.insertLog(ctx, logRow); err != nil {
		return nil, err
	}
	if im.metrics != nil {
		start := time.Now()
		im.metrics.SetImportActive(string(im.kind), 1)
		defer func() {
			im.metrics.SetImportActive(string(im.kind), -1)
			im.metrics.RecordImportRun(string(im.kind), time.Since(start).Seconds())
		}()
	}

	rows := TokenizeCSV(content)
	keywords, defaultMapping := im.processor.Columns()
	headerIdx, columns, found := DetectHeader(rows, keywords, 3, im.scanRows)
	dataStart := 0
	if found {
		dataStart = headerIdx + 1
	} else {
		columns = defaultMapping
	}

	logRow.TotalRows = len(rows) - dataStart
	rowNum := 0
	for i := dataStart; i < len(rows); i++ {
		rowNum++

		if im.cancelRequested(ctx, logRow.ID) {
			logRow.Status = models.ImportCancelled
			break
		}

		outcome, err := im.applyRowTransactional(ctx, logRow.ID, rowNum, rows[i], columns)
		if err != nil {
			outcome = RowOutcome{Status: models.RowError, Message: err.Error()}
		}
		im.recordRowOutcome(ctx, logRow, rowNum, rows[i], columns, outcome)
	}

	im.finalize(ctx, logRow)
	return logRow, nil
}

func (im *Importer) applyRowTransactional(ctx context.Context, importID string, rowNum int, row []string, columns map[string]int) (RowOutcome, error) {
	var outcome RowOutcome
	err := im.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		o, err := im.processor.ApplyRow(ctx, tx, importID, rowNum, row, columns)
		if err != nil {
			return err
		}
		outcome = o
		for _, entry := range o.Audit {
			entry.ID = uuid.NewString()
			entry.ImportID = importID
			entry.RowNumber = rowNum
			entry.At = time.Now()
			if _, err := tx.Exec(ctx, `
				INSERT INTO import_audit_entries (id, import_id, row_number, action, entity_kind, entity_id, detail, at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				entry.ID, entry.ImportID, entry.RowNumber, entry.Action, entry.EntityKind, entry.EntityID, entry.Detail, entry.At); err != nil {
				return err
			}
		}
		return nil
	})
	return outcome, err
}

func (im *Importer) recordRowOutcome(ctx context.Context, logRow *models.ImportLog, rowNum int, row []string, columns map[string]int, outcome RowOutcome) {
	if im.metrics != nil {
		im.metrics.RecordImportRow(string(im.kind), string(outcome.Status))
	}
	switch outcome.Status {
	case models.RowSuccess:
		logRow.ProcessedRows++
	case models.RowSkipped:
		logRow.SkippedRows++
	case models.RowDuplicate:
		logRow.SkippedDuplicates++
	case models.RowError:
		logRow.ErrorRows++
		im.appendCapped(&logRow.Errors, fmt.Sprintf("row %d: %s", rowNum, outcome.Message), im.maxErrors)
	}
	if outcome.Status != models.RowSuccess && outcome.Status != models.RowError && outcome.Message != "" {
		im.appendCapped(&logRow.Warnings, fmt.Sprintf("row %d: %s", rowNum, outcome.Message), im.maxWarns)
	}

	raw := make(map[string]string, len(columns))
	for name, idx := range columns {
		raw[name] = cellAt(row, idx)
	}
	im.store.Exec(ctx, `
		INSERT INTO import_row_details (id, import_id, row_number, status, action, message, raw_data, entity_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.NewString(), logRow.ID, rowNum, outcome.Status, outcome.Action, outcome.Message, rawDataJSON(raw), outcome.EntityID)
}

// appendCapped appends to *list up to max entries; beyond that it replaces
// the final slot with a sentinel marking truncation.
func (im *Importer) appendCapped(list *[]string, msg string, max int) {
	if len(*list) < max {
		*list = append(*list, msg)
		return
	}
	if len(*list) == max {
		(*list)[max-1] = "... additional entries truncated"
	}
}

func (im *Importer) cancelRequested(ctx context.Context, importID string) bool {
	var cancelled bool
	im.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&cancelled)
	}, `SELECT cancel_requested FROM import_logs WHERE id = $1`, importID)
	return cancelled
}

func (im *Importer) insertLog(ctx context.Context, l *models.ImportLog) error {
	_, err := im.store.Exec(ctx, `
		INSERT INTO import_logs (id, kind, file_hash, status, errors, warnings, created_by, created_at, updated_at, cancel_requested)
		VALUES ($1,$2,$3,$4,'[]','[]',$5,$6,$6,false)`, l.ID, l.Kind, l.FileHash, l.Status, l.CreatedBy, l.CreatedAt)
	return err
}

// finalize sets the terminal status unless a
// cancellation already set one.
func (im *Importer) finalize(ctx context.Context, l *models.ImportLog) {
	if l.Status != models.ImportCancelled {
		switch {
		case l.ErrorRows == 0:
			l.Status = models.ImportCompleted
		case l.ProcessedRows > 0 && l.ErrorRows > 0:
			l.Status = models.ImportPartial
		default:
			l.Status = models.ImportFailed
		}
	}
	errorsJSON, _ := json.Marshal(l.Errors)
	warningsJSON, _ := json.Marshal(l.Warnings)
	im.store.Exec(ctx, `
		UPDATE import_logs SET status=$1, total_rows=$2, processed_rows=$3, skipped_rows=$4,
			error_rows=$5, skipped_duplicates=$6, errors=$7, warnings=$8, updated_at=now() WHERE id=$9`,
		l.Status, l.TotalRows, l.ProcessedRows, l.SkippedRows, l.ErrorRows, l.SkippedDuplicates,
		errorsJSON, warningsJSON, l.ID)

	im.bus.Publish(ctx, "import."+string(l.Status), "importer", l.ID, nil, map[string]interface{}{
		"importId": l.ID, "kind": string(l.Kind), "processedRows": l.ProcessedRows, "errorRows": l.ErrorRows,
	})
}

// GetLog loads a single import's header record by id, independent of
// which kind's Importer created it — import_logs doesn't need the
// kind-specific processor to read back.
func GetLog(ctx context.Context, st *store.Store, id string) (*models.ImportLog, error) {
	l := &models.ImportLog{}
	var errorsJSON, warningsJSON []byte
	err := st.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&l.ID, &l.Kind, &l.FileHash, &l.Status, &l.TotalRows, &l.ProcessedRows,
			&l.SkippedRows, &l.ErrorRows, &l.SkippedDuplicates, &errorsJSON, &warningsJSON,
			&l.CreatedBy, &l.CreatedAt, &l.UpdatedAt, &l.CancelRequested)
	}, `SELECT id, kind, file_hash, status, total_rows, processed_rows, skipped_rows, error_rows,
			skipped_duplicates, errors, warnings, created_by, created_at, updated_at, cancel_requested
		FROM import_logs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(errorsJSON, &l.Errors)
	json.Unmarshal(warningsJSON, &l.Warnings)
	return l, nil
}

// AuditTrailFor lists the create/link/merge decisions recorded during one
// import run, oldest first.
func AuditTrailFor(ctx context.Context, st *store.Store, importID string) ([]models.ImportAuditEntry, error) {
	var out []models.ImportAuditEntry
	err := st.Query(ctx, func(rows *sql.Rows) error {
		var e models.ImportAuditEntry
		if err := rows.Scan(&e.ID, &e.ImportID, &e.RowNumber, &e.Action, &e.EntityKind, &e.EntityID, &e.Detail, &e.At); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}, `SELECT id, import_id, row_number, action, entity_kind, entity_id, detail, at
		FROM import_audit_entries WHERE import_id = $1 ORDER BY at ASC`, importID)
	return out, err
}

// CancelImport sets the cancellation flag checked between rows.
func (im *Importer) CancelImport(ctx context.Context, importID string) error {
	_, err := im.store.Exec(ctx, `UPDATE import_logs SET cancel_requested = true WHERE id = $1`, importID)
	return err
}

// RollbackImport deletes everything tagged with importBatchId and marks
// the log rolled_back. Idempotent: re-running it when nothing is left to
// delete simply updates the status again.
func (im *Importer) RollbackImport(ctx context.Context, importID string) error {
	return im.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := im.deleteImportedRows(ctx, tx, importID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE import_logs SET status = 'rolled_back', updated_at = now() WHERE id = $1`, importID)
		return err
	})
}

// deleteImportedRows delegates domain-row cleanup to the processor, then
// clears the generic audit table. The processor runs first: the audit
// trail is its record of which entity ids this batch created versus
// merely updated, so it must still be readable during cleanup.
func (im *Importer) deleteImportedRows(ctx context.Context, tx *store.Tx, importID string) error {
	if r, ok := im.processor.(RowDeleter); ok {
		if err := r.DeleteImportedRows(ctx, tx, importID); err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx, `DELETE FROM import_audit_entries WHERE import_id = $1`, importID)
	return err
}

// RowDeleter is optionally implemented by a RowProcessor to delete the
// domain rows it created for a given import batch.
type RowDeleter interface {
	DeleteImportedRows(ctx context.Context, tx *store.Tx, importBatchID string) error
}

// PreviewResult is returned by Preview.
type PreviewResult struct {
	SampleRows         []map[string]string `json:"sampleRows"`
	ColumnMapping      map[string]int      `json:"columnMapping"`
	WouldBeDuplicates  int                 `json:"wouldBeDuplicates"`
	UnresolvedEntities int                 `json:"unresolvedEntities"`
}

// Preview runs parse + header-detection only; it never writes anything.
// Per-kind resolve/dedup counting is intentionally left to the concrete
// importer's own preview hook (PreviewChecker) since only it knows what
// "duplicate" and "unresolved" mean for its rows.
func (im *Importer) Preview(ctx context.Context, content string) (*PreviewResult, error) {
	rows := TokenizeCSV(content)
	keywords, defaultMapping := im.processor.Columns()
	headerIdx, columns, found := DetectHeader(rows, keywords, 3, im.scanRows)
	dataStart := 0
	if found {
		dataStart = headerIdx + 1
	} else {
		columns = defaultMapping
	}

	result := &PreviewResult{ColumnMapping: columns}
	checker, hasChecker := im.processor.(PreviewChecker)

	for i := dataStart; i < len(rows) && len(result.SampleRows) < 10; i++ {
		sample := make(map[string]string, len(columns))
		for name, idx := range columns {
			sample[name] = cellAt(rows[i], idx)
		}
		result.SampleRows = append(result.SampleRows, sample)
	}

	if hasChecker {
		dup, unresolved, err := checker.CheckAll(ctx, rows[dataStart:], columns)
		if err != nil {
			return nil, err
		}
		result.WouldBeDuplicates = dup
		result.UnresolvedEntities = unresolved
	}

	return result, nil
}

// PreviewChecker is optionally implemented by a RowProcessor to count
// would-be duplicates and unresolved entities without writing anything.
type PreviewChecker interface {
	CheckAll(ctx context.Context, rows [][]string, columns map[string]int) (duplicates, unresolved int, err error)
}

func rawDataJSON(m map[string]string) []byte {
	b, _ := json.Marshal(m)
	return b
}
