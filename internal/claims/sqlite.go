package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
)

// Fixed-width UTC layout so lexical order in SQLite matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS claims (
	id         TEXT PRIMARY KEY,
	claim_type TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status, created_at);

CREATE TABLE IF NOT EXISTS status_transitions (
	id           TEXT PRIMARY KEY,
	claim_id     TEXT NOT NULL REFERENCES claims(id),
	from_status  TEXT NOT NULL,
	to_status    TEXT NOT NULL,
	changed_by   TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	ai_suggested INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_claim ON status_transitions(claim_id, created_at);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	claim_id          TEXT NOT NULL REFERENCES claims(id),
	filename          TEXT NOT NULL DEFAULT '',
	media_type        TEXT NOT NULL DEFAULT '',
	size_bytes        INTEGER NOT NULL DEFAULT 0,
	text              TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL DEFAULT '',
	ocr_required      INTEGER NOT NULL DEFAULT 0,
	seq               INTEGER NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_claim ON documents(claim_id, seq);

CREATE TABLE IF NOT EXISTS analysis_results (
	id          TEXT PRIMARY KEY,
	claim_id    TEXT NOT NULL REFERENCES claims(id),
	document_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	result      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_claim ON analysis_results(claim_id, seq);
`

// SQLiteStore persists claims with sqlx over the pure-Go SQLite driver.
// Status changes and their audit record are written in one transaction.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type claimRow struct {
	ID         string `db:"id"`
	ClaimType  string `db:"claim_type"`
	Attributes string `db:"attributes"`
	Status     string `db:"status"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r claimRow) toClaim() Claim {
	c := Claim{
		ID:         r.ID,
		ClaimType:  r.ClaimType,
		Attributes: map[string]string{},
		Status:     Status(r.Status),
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
	_ = json.Unmarshal([]byte(r.Attributes), &c.Attributes)
	return c
}

type transitionRow struct {
	ID          string `db:"id"`
	ClaimID     string `db:"claim_id"`
	FromStatus  string `db:"from_status"`
	ToStatus    string `db:"to_status"`
	ChangedBy   string `db:"changed_by"`
	Reason      string `db:"reason"`
	Notes       string `db:"notes"`
	AISuggested bool   `db:"ai_suggested"`
	CreatedAt   string `db:"created_at"`
}

type documentRow struct {
	ID               string `db:"id"`
	ClaimID          string `db:"claim_id"`
	Filename         string `db:"filename"`
	MediaType        string `db:"media_type"`
	SizeBytes        int64  `db:"size_bytes"`
	Text             string `db:"text"`
	ExtractionMethod string `db:"extraction_method"`
	OCRRequired      bool   `db:"ocr_required"`
	CreatedAt        string `db:"created_at"`
}

func (r documentRow) toDocument() Document {
	return Document{
		ID:               r.ID,
		ClaimID:          r.ClaimID,
		Filename:         r.Filename,
		MediaType:        r.MediaType,
		SizeBytes:        r.SizeBytes,
		Text:             r.Text,
		ExtractionMethod: r.ExtractionMethod,
		OCRRequired:      r.OCRRequired,
		CreatedAt:        parseTime(r.CreatedAt),
	}
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, c Claim) error {
	if c.ID == "" {
		return NewValidationError("claim id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, claim_type, attributes, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClaimType, marshalJSON(c.Attributes, "{}"), string(c.Status), timeToString(c.CreatedAt), timeToString(c.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return conflict("claim %s already exists", c.ID)
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id string) (Claim, error) {
	return getClaim(ctx, s.db, id)
}

func getClaim(ctx context.Context, q sqlx.QueryerContext, id string) (Claim, error) {
	var row claimRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT id, claim_type, attributes, status, created_at, updated_at FROM claims WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Claim{}, NewNotFoundError("claim %s not found", id)
	}
	if err != nil {
		return Claim{}, fmt.Errorf("get claim: %w", err)
	}
	return row.toClaim(), nil
}

func (s *SQLiteStore) ListClaims(ctx context.Context, f ListFilter) ([]Claim, error) {
	query := `SELECT id, claim_type, attributes, status, created_at, updated_at FROM claims`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var rows []claimRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	out := make([]Claim, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toClaim())
	}
	return out, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, newStatus, expected Status, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return compareAndSwapStatus(ctx, tx, id, newStatus, expected, at)
	})
}

func compareAndSwapStatus(ctx context.Context, tx *sqlx.Tx, id string, newStatus, expected Status, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE claims SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(newStatus), timeToString(at), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n == 1 {
		return nil
	}
	c, err := getClaim(ctx, tx, id)
	if err != nil {
		return err
	}
	return conflict("claim %s status is %s, expected %s", id, c.Status, expected)
}

func (s *SQLiteStore) AppendTransition(ctx context.Context, t StatusTransition) (StatusTransition, error) {
	var out StatusTransition
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getClaim(ctx, tx, t.ClaimID); err != nil {
			return err
		}
		var err error
		out, err = insertTransition(ctx, tx, t)
		return err
	})
	return out, err
}

func (s *SQLiteStore) ApplyTransition(ctx context.Context, t StatusTransition) (StatusTransition, error) {
	var out StatusTransition
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := compareAndSwapStatus(ctx, tx, t.ClaimID, t.ToStatus, t.FromStatus, t.CreatedAt); err != nil {
			return err
		}
		var err error
		out, err = insertTransition(ctx, tx, t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE claims SET updated_at = ? WHERE id = ?`, timeToString(out.CreatedAt), t.ClaimID)
		return err
	})
	return out, err
}

func insertTransition(ctx context.Context, tx *sqlx.Tx, t StatusTransition) (StatusTransition, error) {
	var prev sql.NullString
	if err := tx.GetContext(ctx, &prev, `SELECT MAX(created_at) FROM status_transitions WHERE claim_id = ?`, t.ClaimID); err != nil {
		return StatusTransition{}, fmt.Errorf("read last transition: %w", err)
	}
	var prevAt time.Time
	if prev.Valid {
		prevAt = parseTime(prev.String)
	}
	t.CreatedAt = nextTimestamp(prevAt, t.CreatedAt)
	_, err := tx.NamedExecContext(ctx,
		`INSERT INTO status_transitions (id, claim_id, from_status, to_status, changed_by, reason, notes, ai_suggested, created_at)
		 VALUES (:id, :claim_id, :from_status, :to_status, :changed_by, :reason, :notes, :ai_suggested, :created_at)`,
		transitionRow{
			ID:          t.ID,
			ClaimID:     t.ClaimID,
			FromStatus:  string(t.FromStatus),
			ToStatus:    string(t.ToStatus),
			ChangedBy:   t.ChangedBy,
			Reason:      t.Reason,
			Notes:       t.Notes,
			AISuggested: t.AISuggested,
			CreatedAt:   timeToString(t.CreatedAt),
		},
	)
	if err != nil {
		return StatusTransition{}, fmt.Errorf("insert transition: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, claimID string) ([]StatusTransition, error) {
	if _, err := s.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}
	var rows []transitionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, claim_id, from_status, to_status, changed_by, reason, notes, ai_suggested, created_at
		 FROM status_transitions WHERE claim_id = ? ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	out := make([]StatusTransition, 0, len(rows))
	for _, r := range rows {
		out = append(out, StatusTransition{
			ID:          r.ID,
			ClaimID:     r.ClaimID,
			FromStatus:  Status(r.FromStatus),
			ToStatus:    Status(r.ToStatus),
			ChangedBy:   r.ChangedBy,
			Reason:      r.Reason,
			Notes:       r.Notes,
			AISuggested: r.AISuggested,
			CreatedAt:   parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *SQLiteStore) AddDocument(ctx context.Context, d Document) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getClaim(ctx, tx, d.ClaimID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, claim_id, filename, media_type, size_bytes, text, extraction_method, ocr_required, seq, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents WHERE claim_id = ?), ?)`,
			d.ID, d.ClaimID, d.Filename, d.MediaType, d.SizeBytes, d.Text, d.ExtractionMethod, d.OCRRequired, d.ClaimID, timeToString(d.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
}

const documentColumns = `id, claim_id, filename, media_type, size_bytes, text, extraction_method, ocr_required, created_at`

func (s *SQLiteStore) LatestDocument(ctx context.Context, claimID string) (Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+documentColumns+` FROM documents WHERE claim_id = ? ORDER BY seq DESC LIMIT 1`, claimID)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, NewNotFoundError("claim %s has no documents", claimID)
	}
	if err != nil {
		return Document{}, fmt.Errorf("latest document: %w", err)
	}
	return row.toDocument(), nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, claimID string) ([]Document, error) {
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+documentColumns+` FROM documents WHERE claim_id = ? ORDER BY seq`, claimID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDocument())
	}
	return out, nil
}

func (s *SQLiteStore) AppendAnalysisResult(ctx context.Context, r AnalysisRecord) error {
	body, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getClaim(ctx, tx, r.ClaimID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO analysis_results (id, claim_id, document_id, status, result, seq, created_at)
			 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM analysis_results WHERE claim_id = ?), ?)`,
			r.ID, r.ClaimID, r.DocumentID, string(r.Result.Status), string(body), r.ClaimID, timeToString(r.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert analysis result: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListAnalysisResults(ctx context.Context, claimID string) ([]AnalysisRecord, error) {
	var rows []struct {
		ID         string `db:"id"`
		ClaimID    string `db:"claim_id"`
		DocumentID string `db:"document_id"`
		Result     string `db:"result"`
		CreatedAt  string `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, claim_id, document_id, result, created_at FROM analysis_results WHERE claim_id = ? ORDER BY seq`, claimID); err != nil {
		return nil, fmt.Errorf("list analysis results: %w", err)
	}
	out := make([]AnalysisRecord, 0, len(rows))
	for _, r := range rows {
		var res analysis.Result
		if err := json.Unmarshal([]byte(r.Result), &res); err != nil {
			return nil, fmt.Errorf("decode analysis result %s: %w", r.ID, err)
		}
		out = append(out, AnalysisRecord{
			ID:         r.ID,
			ClaimID:    r.ClaimID,
			DocumentID: r.DocumentID,
			Result:     res,
			CreatedAt:  parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func marshalJSON(v any, empty string) string {
	if v == nil {
		return empty
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}
