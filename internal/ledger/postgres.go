package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "jobpilot/internal/common/errors"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"

	"github.com/lib/pq"
)

// PostgresLedger stores application records in a single applications table
// keyed by (platform, posting_id). The primary key is what makes Reserve
// atomic across concurrent processes.
type PostgresLedger struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgres(db *sql.DB, log logger.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "ledger"}),
	}
}

// EnsureSchema creates the applications table if it does not exist.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS applications (
			platform        TEXT NOT NULL,
			posting_id      TEXT NOT NULL,
			stage           TEXT NOT NULL,
			outcome         TEXT NOT NULL DEFAULT '',
			failure_reason  TEXT NOT NULL DEFAULT '',
			retries         INT NOT NULL DEFAULT 0,
			simulated       BOOLEAN NOT NULL DEFAULT FALSE,
			verify_deadline TIMESTAMPTZ,
			metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (platform, posting_id)
		)`)
	if err != nil {
		return apperrors.NewLedgerIOError("ensure schema", err)
	}
	return nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, key models.ApplicationKey, meta map[string]string) (*models.ApplicationRecord, bool, error) {
	metaJSON, err := json.Marshal(orEmpty(meta))
	if err != nil {
		return nil, false, fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO applications (platform, posting_id, stage, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (platform, posting_id) DO NOTHING`,
		key.Platform, key.PostingID, string(models.StageDiscovered), metaJSON, now,
	)
	if err != nil {
		return nil, false, apperrors.NewLedgerIOError(fmt.Sprintf("reserve %s", key), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, apperrors.NewLedgerIOError(fmt.Sprintf("reserve %s", key), err)
	}
	if affected == 1 {
		l.logger.Debug("key reserved", map[string]interface{}{"key": key.String()})
		return &models.ApplicationRecord{
			Key:       key,
			Stage:     models.StageDiscovered,
			Metadata:  meta,
			CreatedAt: now,
			UpdatedAt: now,
		}, true, nil
	}

	existing, err := l.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (l *PostgresLedger) Update(ctx context.Context, key models.ApplicationKey, newStage models.Stage, patch models.Patch) error {
	preds := models.Predecessors(newStage)
	if len(preds) == 0 {
		return fmt.Errorf("stage %q is not a valid transition target", newStage)
	}
	predStrs := make([]string, len(preds))
	for i, p := range preds {
		predStrs[i] = string(p)
	}

	metaJSON, err := json.Marshal(orEmpty(patch.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE applications SET
			stage = $3,
			retries = retries + $4,
			outcome = CASE WHEN $5 <> '' THEN $5 ELSE outcome END,
			failure_reason = CASE WHEN $6 <> '' THEN $6 ELSE failure_reason END,
			simulated = simulated OR $7,
			verify_deadline = COALESCE($8, verify_deadline),
			metadata = metadata || $9::jsonb,
			updated_at = $10
		WHERE platform = $1 AND posting_id = $2 AND stage = ANY($11)`,
		key.Platform, key.PostingID,
		string(newStage),
		patch.RetriesDelta,
		string(patch.Outcome),
		patch.FailureReason,
		patch.Simulated,
		patch.VerifyDeadline,
		metaJSON,
		time.Now().UTC(),
		pq.Array(predStrs),
	)
	if err != nil {
		return apperrors.NewLedgerIOError(fmt.Sprintf("update %s to %s", key, newStage), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewLedgerIOError(fmt.Sprintf("update %s", key), err)
	}
	if affected == 1 {
		return nil
	}

	// Zero rows means the key is missing or its stored stage is not a
	// valid predecessor. Disambiguate with a read.
	if _, err := l.Get(ctx, key); err != nil {
		return err
	}
	return ErrStaleTransition
}

func (l *PostgresLedger) Get(ctx context.Context, key models.ApplicationKey) (*models.ApplicationRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT platform, posting_id, stage, outcome, failure_reason, retries,
		       simulated, verify_deadline, metadata, created_at, updated_at
		FROM applications
		WHERE platform = $1 AND posting_id = $2`,
		key.Platform, key.PostingID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewLedgerIOError(fmt.Sprintf("get %s", key), err)
	}
	return rec, nil
}

func (l *PostgresLedger) Query(ctx context.Context, platform string, stages []models.Stage, fn func(*models.ApplicationRecord) error) error {
	query := `
		SELECT platform, posting_id, stage, outcome, failure_reason, retries,
		       simulated, verify_deadline, metadata, created_at, updated_at
		FROM applications
		WHERE platform = $1`
	args := []interface{}{platform}

	if len(stages) > 0 {
		stageStrs := make([]string, len(stages))
		for i, s := range stages {
			stageStrs[i] = string(s)
		}
		query += ` AND stage = ANY($2)`
		args = append(args, pq.Array(stageStrs))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewLedgerIOError(fmt.Sprintf("query %s", platform), err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return apperrors.NewLedgerIOError(fmt.Sprintf("query %s: scan", platform), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Recent returns the most recently touched records across all platforms,
// for the end-of-run report.
func (l *PostgresLedger) Recent(ctx context.Context, limit int) ([]*models.ApplicationRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT platform, posting_id, stage, outcome, failure_reason, retries,
		       simulated, verify_deadline, metadata, created_at, updated_at
		FROM applications
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.NewLedgerIOError("recent", err)
	}
	defer rows.Close()

	var out []*models.ApplicationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewLedgerIOError("recent: scan", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*models.ApplicationRecord, error) {
	var (
		rec      models.ApplicationRecord
		outcome  string
		deadline sql.NullTime
		metaJSON []byte
	)
	err := row.Scan(
		&rec.Key.Platform, &rec.Key.PostingID,
		(*string)(&rec.Stage), &outcome, &rec.FailureReason, &rec.Retries,
		&rec.Simulated, &deadline, &metaJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Outcome = models.Outcome(outcome)
	if deadline.Valid {
		t := deadline.Time
		rec.VerifyDeadline = &t
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &rec, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
