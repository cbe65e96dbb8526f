package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-agent/internal/db"
	"github.com/sells-group/sales-agent/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"get_lead":    `SELECT doc FROM leads WHERE id = $1`,
	"update_lead": `UPDATE leads SET company = $1, domain = $2, phase = $3, deferred_at = $4, doc = $5, updated_at = $6 WHERE id = $7`,
	"insert_lead": `INSERT INTO leads (id, company, domain, phase, deferred_at, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	company     TEXT NOT NULL,
	domain      TEXT,
	phase       TEXT NOT NULL,
	deferred_at TIMESTAMPTZ,
	doc         JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS icp_versions (
	version    INTEGER PRIMARY KEY,
	profile_id TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL UNIQUE REFERENCES leads(id),
	result       TEXT NOT NULL,
	doc          JSONB NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	evaluated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS suggestions (
	id         TEXT PRIMARY KEY,
	criterion  TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_phase ON leads(phase);
CREATE INDEX IF NOT EXISTS idx_leads_deferred_at ON leads(deferred_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_evaluated_at ON outcomes(evaluated_at);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	doc, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lead")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, company, domain, phase, deferred_at, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lead.ID, lead.CompanyName, lead.Domain, string(lead.Phase),
		lead.DeferredAt, doc, lead.CreatedAt.UTC(), lead.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM leads WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	var lead model.Lead
	if err := json.Unmarshal(doc, &lead); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal lead")
	}
	return &lead, nil
}

func (s *PostgresStore) SaveLead(ctx context.Context, lead *model.Lead) error {
	doc, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lead")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET company = $1, domain = $2, phase = $3, deferred_at = $4, doc = $5, updated_at = $6
		 WHERE id = $7`,
		lead.CompanyName, lead.Domain, string(lead.Phase),
		lead.DeferredAt, doc, lead.UpdatedAt.UTC(), lead.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", lead.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", lead.ID)
	}
	return nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT doc FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Phase != "" {
		query += fmt.Sprintf(` AND phase = $%d`, argIdx)
		args = append(args, string(filter.Phase))
		argIdx++
	}
	if filter.DeferredBefore != nil {
		query += fmt.Sprintf(` AND deferred_at IS NOT NULL AND deferred_at < $%d`, argIdx)
		args = append(args, filter.DeferredBefore.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead doc")
		}
		var lead model.Lead
		if err := json.Unmarshal(doc, &lead); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead")
		}
		leads = append(leads, lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) CountLeadsByPhase(ctx context.Context) (map[model.Phase]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT phase, COUNT(*) FROM leads GROUP BY phase`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count leads by phase")
	}
	defer rows.Close()

	counts := make(map[model.Phase]int)
	for rows.Next() {
		var phase string
		var n int64
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase count")
		}
		counts[model.Phase(phase)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count leads iterate")
}

// BulkInsertLeads imports many leads in one round trip via a temp-table
// upsert, so re-running an import is idempotent on lead ID.
func (s *PostgresStore) BulkInsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		lead := &leads[i]
		doc, err := json.Marshal(lead)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal lead %s", lead.ID)
		}
		rows = append(rows, []any{
			lead.ID, lead.CompanyName, lead.Domain, string(lead.Phase),
			lead.DeferredAt, doc, lead.CreatedAt.UTC(), lead.UpdatedAt.UTC(),
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads",
		Columns:      []string{"id", "company", "domain", "phase", "deferred_at", "doc", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) SaveProfileVersion(ctx context.Context, profile *model.ICPProfile) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO icp_versions (version, profile_id, doc, created_at) VALUES ($1, $2, $3, $4)`,
		profile.Version, profile.ID, doc, profile.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert profile version %d", profile.Version)
}

func (s *PostgresStore) ListProfileVersions(ctx context.Context) ([]*model.ICPProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM icp_versions ORDER BY version ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profile versions")
	}
	defer rows.Close()

	var profiles []*model.ICPProfile
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile doc")
		}
		var p model.ICPProfile
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal profile")
		}
		profiles = append(profiles, &p)
	}
	return profiles, eris.Wrap(rows.Err(), "postgres: list profile versions iterate")
}

func (s *PostgresStore) SaveOutcome(ctx context.Context, outcome *model.Outcome) error {
	doc, err := json.Marshal(outcome)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal outcome")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO outcomes (id, lead_id, result, doc, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		outcome.ID, outcome.LeadID, string(outcome.Result), doc, outcome.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert outcome for lead %s", outcome.LeadID)
}

func (s *PostgresStore) GetOutcomeForLead(ctx context.Context, leadID string) (*model.Outcome, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM outcomes WHERE lead_id = $1`, leadID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "outcome for lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get outcome")
	}
	var oc model.Outcome
	if err := json.Unmarshal(doc, &oc); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal outcome")
	}
	return &oc, nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM outcomes WHERE recorded_at >= $1 ORDER BY recorded_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome doc")
		}
		var oc model.Outcome
		if err := json.Unmarshal(doc, &oc); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outcome")
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) ListUnevaluatedOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	query := `SELECT doc FROM outcomes WHERE evaluated_at IS NULL`
	args := []any{}
	if !since.IsZero() {
		query += ` AND recorded_at >= $1`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY recorded_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unevaluated outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome doc")
		}
		var oc model.Outcome
		if err := json.Unmarshal(doc, &oc); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outcome")
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, eris.Wrap(rows.Err(), "postgres: list unevaluated outcomes iterate")
}

func (s *PostgresStore) MarkOutcomesEvaluated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE outcomes SET evaluated_at = $1 WHERE id = ANY($2)`,
		time.Now().UTC(), ids,
	)
	return eris.Wrap(err, "postgres: mark outcomes evaluated")
}

func (s *PostgresStore) SaveSuggestion(ctx context.Context, sg *model.LearningSuggestion) error {
	doc, err := json.Marshal(sg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal suggestion")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO suggestions (id, criterion, status, doc, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc`,
		sg.ID, sg.Criterion, string(sg.Status), doc, sg.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save suggestion %s", sg.ID)
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, status model.SuggestionStatus) ([]model.LearningSuggestion, error) {
	query := `SELECT doc FROM suggestions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suggestions")
	}
	defer rows.Close()

	var suggestions []model.LearningSuggestion
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion doc")
		}
		var sg model.LearningSuggestion
		if err := json.Unmarshal(doc, &sg); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal suggestion")
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, eris.Wrap(rows.Err(), "postgres: list suggestions iterate")
}
