package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/hitl"
	"github.com/warden-labs/warden/pkg/workflow"

	_ "modernc.org/sqlite"
)

var (
	_ workflow.Store = (*SQLiteStore)(nil)
	_ hitl.Store     = (*SQLiteHITLStore)(nil)
)

// SQLiteStore is the single-node workflow store. Request rows are
// inserted with ON CONFLICT DO NOTHING so concurrent first-time
// submissions for one request id resolve to exactly one persisted
// decision.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite open: %w", err)
	}
	return NewSQLiteStore(db)
}

// OpenSQLitePair opens one database handle shared by the workflow and
// HITL stores.
func OpenSQLitePair(path string) (*SQLiteStore, *SQLiteHITLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("store: sqlite open: %w", err)
	}
	wf, err := NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	hs, err := NewSQLiteHITLStore(db)
	if err != nil {
		return nil, nil, err
	}
	return wf, hs, nil
}

// NewSQLiteStore wraps an existing handle and migrates it.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			request_id TEXT PRIMARY KEY,
			input JSON NOT NULL,
			result JSON NOT NULL,
			state TEXT NOT NULL,
			terminal INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			event JSON NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events(request_id);`,
		`CREATE TABLE IF NOT EXISTS lineage_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			event JSON NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lineage_request ON lineage_events(request_id);`,
		`CREATE TABLE IF NOT EXISTS escalation_history (
			key TEXT PRIMARY KEY,
			history JSON NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			value INTEGER NOT NULL,
			labels JSON,
			ts TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_rollups (
			period TEXT NOT NULL,
			bucket TEXT NOT NULL,
			name TEXT NOT NULL,
			value INTEGER NOT NULL,
			PRIMARY KEY (period, bucket, name)
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("store: sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, requestID string) (*contracts.RequestRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT input, result, state, terminal, created_at_ms, updated_at_ms FROM requests WHERE request_id = ?`,
		requestID)
	return scanRequestRow(row)
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, rec *contracts.RequestRecord) (*contracts.RequestRecord, bool, error) {
	inputJSON, resultJSON, err := marshalRecord(rec)
	if err != nil {
		return nil, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, input, result, state, terminal, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		rec.Input.RequestID, inputJSON, resultJSON, string(rec.State), boolInt(rec.Terminal),
		rec.CreatedAtMS, rec.UpdatedAtMS)
	if err != nil {
		return nil, false, fmt.Errorf("store: request insert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("store: request insert: %w", err)
	}
	if affected == 0 {
		stored, err := s.GetRequest(ctx, rec.Input.RequestID)
		if err != nil {
			return nil, false, err
		}
		if stored == nil {
			return nil, false, fmt.Errorf("store: request %q vanished after conflict", rec.Input.RequestID)
		}
		return stored, false, nil
	}
	out := *rec
	return &out, true, nil
}

func (s *SQLiteStore) SaveRequest(ctx context.Context, rec *contracts.RequestRecord) error {
	inputJSON, resultJSON, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, input, result, state, terminal, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET
			input = excluded.input,
			result = excluded.result,
			state = excluded.state,
			terminal = excluded.terminal,
			updated_at_ms = excluded.updated_at_ms`,
		rec.Input.RequestID, inputJSON, resultJSON, string(rec.State), boolInt(rec.Terminal),
		rec.CreatedAtMS, rec.UpdatedAtMS)
	if err != nil {
		return fmt.Errorf("store: request save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, requestID string, event contracts.AuditEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: audit marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (request_id, event) VALUES (?, ?)`,
		requestID, string(raw)); err != nil {
		return fmt.Errorf("store: audit append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAudit(ctx context.Context, requestID string) ([]contracts.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event FROM audit_events WHERE request_id = ? ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("store: audit query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AuditEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e contracts.AuditEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("store: audit decode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendLineage(ctx context.Context, requestID string, event contracts.LineageEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: lineage marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO lineage_events (request_id, event) VALUES (?, ?)`,
		requestID, string(raw)); err != nil {
		return fmt.Errorf("store: lineage append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLineage(ctx context.Context, requestID string) ([]contracts.LineageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event FROM lineage_events WHERE request_id = ? ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("store: lineage query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.LineageEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e contracts.LineageEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("store: lineage decode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEscalationHistory(ctx context.Context, key string) ([]time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT history FROM escalation_history WHERE key = ?`, key)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: escalation history: %w", err)
	}
	var history []time.Time
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("store: escalation decode: %w", err)
	}
	return history, nil
}

func (s *SQLiteStore) SetEscalationHistory(ctx context.Context, key string, history []time.Time) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("store: escalation marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalation_history (key, history) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET history = excluded.history`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("store: escalation save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendMetricsEvent(ctx context.Context, event contracts.MetricsEvent) error {
	labels, err := json.Marshal(event.Labels)
	if err != nil {
		return fmt.Errorf("store: metrics marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics_events (name, value, labels, ts) VALUES (?, ?, ?, ?)`,
		event.Name, event.Value, string(labels), event.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: metrics append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MetricsEventsSince(ctx context.Context, since time.Time) ([]contracts.MetricsEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, labels, ts FROM metrics_events WHERE ts >= ? ORDER BY seq ASC`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: metrics query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.MetricsEvent
	for rows.Next() {
		var (
			e      contracts.MetricsEvent
			labels sql.NullString
			ts     string
		)
		if err := rows.Scan(&e.Name, &e.Value, &labels, &ts); err != nil {
			return nil, err
		}
		if labels.Valid && labels.String != "" && labels.String != "null" {
			_ = json.Unmarshal([]byte(labels.String), &e.Labels)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertRollup(ctx context.Context, rollup contracts.MetricsRollup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics_rollups (period, bucket, name, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(period, bucket, name) DO UPDATE SET value = excluded.value`,
		string(rollup.Period), rollup.Bucket.UTC().Format(time.RFC3339), rollup.Name, rollup.Value)
	if err != nil {
		return fmt.Errorf("store: rollup upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRollup(ctx context.Context, period contracts.RollupPeriod, bucket time.Time, name string) (*contracts.MetricsRollup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM metrics_rollups WHERE period = ? AND bucket = ? AND name = ?`,
		string(period), bucket.UTC().Format(time.RFC3339), name)
	var value int64
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: rollup query: %w", err)
	}
	return &contracts.MetricsRollup{Period: period, Bucket: bucket.UTC(), Name: name, Value: value}, nil
}

// SQLiteHITLStore persists HITL requests alongside the workflow rows.
type SQLiteHITLStore struct {
	db *sql.DB
}

// NewSQLiteHITLStore wraps an existing handle and migrates it.
func NewSQLiteHITLStore(db *sql.DB) (*SQLiteHITLStore, error) {
	s := &SQLiteHITLStore{db: db}
	query := `CREATE TABLE IF NOT EXISTS hitl_requests (
		id TEXT PRIMARY KEY,
		request JSON NOT NULL
	);`
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return nil, fmt.Errorf("store: hitl migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteHITLStore) Save(ctx context.Context, req *contracts.HITLRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("store: hitl marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hitl_requests (id, request) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET request = excluded.request`,
		req.ID, string(raw))
	if err != nil {
		return fmt.Errorf("store: hitl save: %w", err)
	}
	return nil
}

func (s *SQLiteHITLStore) Get(ctx context.Context, id string) (*contracts.HITLRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT request FROM hitl_requests WHERE id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: hitl get: %w", err)
	}
	var req contracts.HITLRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("store: hitl decode: %w", err)
	}
	return &req, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequestRow(row rowScanner) (*contracts.RequestRecord, error) {
	var (
		inputJSON  string
		resultJSON string
		state      string
		terminal   int
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&inputJSON, &resultJSON, &state, &terminal, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: request scan: %w", err)
	}
	rec := &contracts.RequestRecord{
		State:       contracts.RequestState(state),
		Terminal:    terminal != 0,
		CreatedAtMS: createdAt,
		UpdatedAtMS: updatedAt,
	}
	if err := json.Unmarshal([]byte(inputJSON), &rec.Input); err != nil {
		return nil, fmt.Errorf("store: input decode: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("store: result decode: %w", err)
	}
	return rec, nil
}

func marshalRecord(rec *contracts.RequestRecord) (inputJSON, resultJSON string, err error) {
	in, err := json.Marshal(rec.Input)
	if err != nil {
		return "", "", fmt.Errorf("store: input marshal: %w", err)
	}
	res, err := json.Marshal(rec.Result)
	if err != nil {
		return "", "", fmt.Errorf("store: result marshal: %w", err)
	}
	return string(in), string(res), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
