package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sales-agent/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	company     TEXT NOT NULL,
	domain      TEXT,
	phase       TEXT NOT NULL,
	deferred_at DATETIME,
	doc         TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS icp_versions (
	version    INTEGER PRIMARY KEY,
	profile_id TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL UNIQUE REFERENCES leads(id),
	result       TEXT NOT NULL,
	doc          TEXT NOT NULL,
	recorded_at  DATETIME NOT NULL,
	evaluated_at DATETIME
);

CREATE TABLE IF NOT EXISTS suggestions (
	id         TEXT PRIMARY KEY,
	criterion  TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_phase ON leads(phase);
CREATE INDEX IF NOT EXISTS idx_leads_deferred_at ON leads(deferred_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_evaluated_at ON outcomes(evaluated_at);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	doc, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, company, domain, phase, deferred_at, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.CompanyName, lead.Domain, string(lead.Phase),
		nullTime(lead.DeferredAt), string(doc), lead.CreatedAt.UTC(), lead.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM leads WHERE id = ?`, id)
	return scanLead(row, id)
}

func (s *SQLiteStore) SaveLead(ctx context.Context, lead *model.Lead) error {
	doc, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET company = ?, domain = ?, phase = ?, deferred_at = ?, doc = ?, updated_at = ?
		 WHERE id = ?`,
		lead.CompanyName, lead.Domain, string(lead.Phase),
		nullTime(lead.DeferredAt), string(doc), lead.UpdatedAt.UTC(), lead.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", lead.ID)
	}
	return checkRowsAffected(res, "lead", lead.ID)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT doc FROM leads WHERE 1=1`
	var args []any

	if filter.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, string(filter.Phase))
	}
	if filter.DeferredBefore != nil {
		query += ` AND deferred_at IS NOT NULL AND deferred_at < ?`
		args = append(args, filter.DeferredBefore.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead doc")
		}
		var lead model.Lead
		if err := json.Unmarshal([]byte(doc), &lead); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lead")
		}
		leads = append(leads, lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeadsByPhase(ctx context.Context) (map[model.Phase]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase, COUNT(*) FROM leads GROUP BY phase`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count leads by phase")
	}
	defer rows.Close()

	counts := make(map[model.Phase]int)
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase count")
		}
		counts[model.Phase(phase)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count leads iterate")
}

func (s *SQLiteStore) SaveProfileVersion(ctx context.Context, profile *model.ICPProfile) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}

	// Versions are immutable once written.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO icp_versions (version, profile_id, doc, created_at) VALUES (?, ?, ?, ?)`,
		profile.Version, profile.ID, string(doc), profile.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert profile version %d", profile.Version)
}

func (s *SQLiteStore) ListProfileVersions(ctx context.Context) ([]*model.ICPProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM icp_versions ORDER BY version ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profile versions")
	}
	defer rows.Close()

	var profiles []*model.ICPProfile
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile doc")
		}
		var p model.ICPProfile
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal profile")
		}
		profiles = append(profiles, &p)
	}
	return profiles, eris.Wrap(rows.Err(), "sqlite: list profile versions iterate")
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, outcome *model.Outcome) error {
	doc, err := json.Marshal(outcome)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outcome")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, lead_id, result, doc, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		outcome.ID, outcome.LeadID, string(outcome.Result), string(doc), outcome.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert outcome for lead %s", outcome.LeadID)
}

func (s *SQLiteStore) GetOutcomeForLead(ctx context.Context, leadID string) (*model.Outcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM outcomes WHERE lead_id = ?`, leadID)

	var doc string
	err := row.Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: outcome for lead %s", leadID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get outcome")
	}
	var oc model.Outcome
	if err := json.Unmarshal([]byte(doc), &oc); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal outcome")
	}
	return &oc, nil
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM outcomes WHERE recorded_at >= ? ORDER BY recorded_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome doc")
		}
		var oc model.Outcome
		if err := json.Unmarshal([]byte(doc), &oc); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal outcome")
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) ListUnevaluatedOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	query := `SELECT doc FROM outcomes WHERE evaluated_at IS NULL`
	var args []any
	if !since.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY recorded_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unevaluated outcomes")
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome doc")
		}
		var oc model.Outcome
		if err := json.Unmarshal([]byte(doc), &oc); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal outcome")
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, eris.Wrap(rows.Err(), "sqlite: list unevaluated outcomes iterate")
}

func (s *SQLiteStore) MarkOutcomesEvaluated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	_, err := s.db.ExecContext(ctx,
		`UPDATE outcomes SET evaluated_at = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	return eris.Wrap(err, "sqlite: mark outcomes evaluated")
}

func (s *SQLiteStore) SaveSuggestion(ctx context.Context, sg *model.LearningSuggestion) error {
	doc, err := json.Marshal(sg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal suggestion")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO suggestions (id, criterion, status, doc, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		sg.ID, sg.Criterion, string(sg.Status), string(doc), sg.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save suggestion %s", sg.ID)
}

func (s *SQLiteStore) ListSuggestions(ctx context.Context, status model.SuggestionStatus) ([]model.LearningSuggestion, error) {
	query := `SELECT doc FROM suggestions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suggestions")
	}
	defer rows.Close()

	var suggestions []model.LearningSuggestion
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion doc")
		}
		var sg model.LearningSuggestion
		if err := json.Unmarshal([]byte(doc), &sg); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal suggestion")
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, eris.Wrap(rows.Err(), "sqlite: list suggestions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable, id string) (*model.Lead, error) {
	var doc string
	err := row.Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	var lead model.Lead
	if err := json.Unmarshal([]byte(doc), &lead); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal lead")
	}
	return &lead, nil
}
