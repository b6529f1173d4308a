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

	_ "github.com/lib/pq"
)

var (
	_ workflow.Store = (*PostgresStore)(nil)
	_ hitl.Store     = (*PostgresHITLStore)(nil)
)

// PostgresStore is the multi-node workflow store. The request row
// insert uses ON CONFLICT DO NOTHING, so the insert-if-absent contract
// holds across concurrent engine instances.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres open: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing handle and migrates it.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			request_id TEXT PRIMARY KEY,
			input JSONB NOT NULL,
			result JSONB NOT NULL,
			state TEXT NOT NULL,
			terminal BOOLEAN NOT NULL DEFAULT FALSE,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			seq BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			event JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events(request_id)`,
		`CREATE TABLE IF NOT EXISTS lineage_events (
			seq BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			event JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lineage_request ON lineage_events(request_id)`,
		`CREATE TABLE IF NOT EXISTS escalation_history (
			key TEXT PRIMARY KEY,
			history JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_events (
			seq BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			value BIGINT NOT NULL,
			labels JSONB,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_rollups (
			period TEXT NOT NULL,
			bucket TIMESTAMPTZ NOT NULL,
			name TEXT NOT NULL,
			value BIGINT NOT NULL,
			PRIMARY KEY (period, bucket, name)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("store: postgres migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (*contracts.RequestRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT input, result, state, terminal, created_at_ms, updated_at_ms FROM requests WHERE request_id = $1`,
		requestID)
	return scanPGRequestRow(row)
}

func (s *PostgresStore) CreateRequest(ctx context.Context, rec *contracts.RequestRecord) (*contracts.RequestRecord, bool, error) {
	inputJSON, resultJSON, err := marshalRecord(rec)
	if err != nil {
		return nil, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, input, result, state, terminal, created_at_ms, updated_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (request_id) DO NOTHING`,
		rec.Input.RequestID, inputJSON, resultJSON, string(rec.State), rec.Terminal,
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

func (s *PostgresStore) SaveRequest(ctx context.Context, rec *contracts.RequestRecord) error {
	inputJSON, resultJSON, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, input, result, state, terminal, created_at_ms, updated_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (request_id) DO UPDATE SET
			input = EXCLUDED.input,
			result = EXCLUDED.result,
			state = EXCLUDED.state,
			terminal = EXCLUDED.terminal,
			updated_at_ms = EXCLUDED.updated_at_ms`,
		rec.Input.RequestID, inputJSON, resultJSON, string(rec.State), rec.Terminal,
		rec.CreatedAtMS, rec.UpdatedAtMS)
	if err != nil {
		return fmt.Errorf("store: request save: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, requestID string, event contracts.AuditEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: audit marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (request_id, event) VALUES ($1, $2)`,
		requestID, string(raw)); err != nil {
		return fmt.Errorf("store: audit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, requestID string) ([]contracts.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event FROM audit_events WHERE request_id = $1 ORDER BY seq ASC`, requestID)
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

func (s *PostgresStore) AppendLineage(ctx context.Context, requestID string, event contracts.LineageEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store: lineage marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO lineage_events (request_id, event) VALUES ($1, $2)`,
		requestID, string(raw)); err != nil {
		return fmt.Errorf("store: lineage append: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLineage(ctx context.Context, requestID string) ([]contracts.LineageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event FROM lineage_events WHERE request_id = $1 ORDER BY seq ASC`, requestID)
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

func (s *PostgresStore) GetEscalationHistory(ctx context.Context, key string) ([]time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT history FROM escalation_history WHERE key = $1`, key)
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

func (s *PostgresStore) SetEscalationHistory(ctx context.Context, key string, history []time.Time) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("store: escalation marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalation_history (key, history) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET history = EXCLUDED.history`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("store: escalation save: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMetricsEvent(ctx context.Context, event contracts.MetricsEvent) error {
	labels, err := json.Marshal(event.Labels)
	if err != nil {
		return fmt.Errorf("store: metrics marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics_events (name, value, labels, ts) VALUES ($1, $2, $3, $4)`,
		event.Name, event.Value, string(labels), event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("store: metrics append: %w", err)
	}
	return nil
}

func (s *PostgresStore) MetricsEventsSince(ctx context.Context, since time.Time) ([]contracts.MetricsEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, labels, ts FROM metrics_events WHERE ts >= $1 ORDER BY seq ASC`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: metrics query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.MetricsEvent
	for rows.Next() {
		var (
			e      contracts.MetricsEvent
			labels sql.NullString
			ts     time.Time
		)
		if err := rows.Scan(&e.Name, &e.Value, &labels, &ts); err != nil {
			return nil, err
		}
		if labels.Valid && labels.String != "" && labels.String != "null" {
			_ = json.Unmarshal([]byte(labels.String), &e.Labels)
		}
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertRollup(ctx context.Context, rollup contracts.MetricsRollup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics_rollups (period, bucket, name, value) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (period, bucket, name) DO UPDATE SET value = EXCLUDED.value`,
		string(rollup.Period), rollup.Bucket.UTC(), rollup.Name, rollup.Value)
	if err != nil {
		return fmt.Errorf("store: rollup upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRollup(ctx context.Context, period contracts.RollupPeriod, bucket time.Time, name string) (*contracts.MetricsRollup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM metrics_rollups WHERE period = $1 AND bucket = $2 AND name = $3`,
		string(period), bucket.UTC(), name)
	var value int64
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: rollup query: %w", err)
	}
	return &contracts.MetricsRollup{Period: period, Bucket: bucket.UTC(), Name: name, Value: value}, nil
}

func scanPGRequestRow(row rowScanner) (*contracts.RequestRecord, error) {
	var (
		inputJSON  string
		resultJSON string
		state      string
		terminal   bool
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
		Terminal:    terminal,
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

// OpenPostgresPair opens one connection shared by the workflow and HITL
// stores, so escalated_pending rows and the HITL requests they reference
// share durability.
func OpenPostgresPair(dsn string) (*PostgresStore, *PostgresHITLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: postgres open: %w", err)
	}
	wf, err := NewPostgresStore(db)
	if err != nil {
		return nil, nil, err
	}
	hs, err := NewPostgresHITLStore(db)
	if err != nil {
		return nil, nil, err
	}
	return wf, hs, nil
}

// PostgresHITLStore persists HITL requests alongside the workflow rows.
type PostgresHITLStore struct {
	db *sql.DB
}

// NewPostgresHITLStore wraps an existing handle and migrates it.
func NewPostgresHITLStore(db *sql.DB) (*PostgresHITLStore, error) {
	s := &PostgresHITLStore{db: db}
	query := `CREATE TABLE IF NOT EXISTS hitl_requests (
		id TEXT PRIMARY KEY,
		request JSONB NOT NULL
	)`
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return nil, fmt.Errorf("store: hitl migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresHITLStore) Save(ctx context.Context, req *contracts.HITLRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("store: hitl marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hitl_requests (id, request) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET request = excluded.request`,
		req.ID, string(raw))
	if err != nil {
		return fmt.Errorf("store: hitl save: %w", err)
	}
	return nil
}

func (s *PostgresHITLStore) Get(ctx context.Context, id string) (*contracts.HITLRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT request FROM hitl_requests WHERE id = $1`, id)
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
