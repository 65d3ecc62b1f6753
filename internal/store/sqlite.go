package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen/internal/model"
)

var (
	_ Store        = (*SQLiteStore)(nil)
	_ LeadGenStore = (*SQLiteStore)(nil)
)

// SQLiteStore implements Store and LeadGenStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer keeps the claim update serialised.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lead_pools (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	icp         TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	pool_id          TEXT NOT NULL REFERENCES lead_pools(id),
	status           TEXT NOT NULL DEFAULT 'queued',
	providers        TEXT NOT NULL,
	templates        TEXT NOT NULL DEFAULT '[]',
	icp              TEXT NOT NULL,
	counters         TEXT NOT NULL,
	logs             TEXT NOT NULL DEFAULT '[]',
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at       DATETIME,
	finished_at      DATETIME
);

CREATE TABLE IF NOT EXISTS candidate_companies (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	pool_id       TEXT NOT NULL,
	domain        TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	technologies  TEXT NOT NULL DEFAULT '[]',
	pages_crawled INTEGER NOT NULL DEFAULT 0,
	crawled       INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (job_id, domain)
);

CREATE TABLE IF NOT EXISTS candidate_contacts (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	pool_id      TEXT NOT NULL,
	company_id   TEXT NOT NULL REFERENCES candidate_companies(id),
	domain       TEXT NOT NULL,
	email        TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	inferred     INTEGER NOT NULL DEFAULT 0,
	confidence   REAL NOT NULL DEFAULT 0,
	score        REAL NOT NULL DEFAULT 0,
	verification TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (job_id, email)
);

CREATE TABLE IF NOT EXISTS verification_cache (
	stage      TEXT NOT NULL,
	subject    TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	ttl_class  TEXT NOT NULL,
	checked_at DATETIME NOT NULL,
	PRIMARY KEY (stage, subject)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_pool_status ON jobs(pool_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_running ON jobs(pool_id) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_companies_job ON candidate_companies(job_id);
CREATE INDEX IF NOT EXISTS idx_contacts_job ON candidate_contacts(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreatePool(ctx context.Context, pool *model.LeadPool) error {
	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = time.Now().UTC()
	}
	icp, err := json.Marshal(pool.ICP)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal icp")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_pools (`+poolColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		pool.ID, pool.Owner, pool.Name, pool.Description, string(icp), pool.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert pool")
}

func (s *SQLiteStore) GetPool(ctx context.Context, poolID string) (*model.LeadPool, error) {
	var p model.LeadPool
	var icp []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM lead_pools WHERE id = ?`, poolID,
	).Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &icp, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "pool %s", poolID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pool %s", poolID)
	}
	if err := json.Unmarshal(icp, &p.ICP); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal icp")
	}
	return &p, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	providers, templates, icp, counters, logs, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, pool_id, status, providers, templates, icp, counters, logs, cancel_requested, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.PoolID, string(job.Status), string(providers), string(templates),
		string(icp), string(counters), string(logs), job.CancelRequested, job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var r jobRow
	var started, finished sql.NullTime
	if err := row.Scan(&r.job.ID, &r.job.PoolID, &r.job.Status, &r.providers, &r.templates, &r.icp,
		&r.counters, &r.logs, &r.job.CancelRequested, &r.job.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	if started.Valid {
		r.job.StartedAt = utcPtr(started.Time)
	}
	if finished.Valid {
		r.job.FinishedAt = utcPtr(finished.Time)
	}
	return r.decode()
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	switch {
	case filter.Claimable:
		query += ` AND status = ? AND cancel_requested = 0
		 AND NOT EXISTS (SELECT 1 FROM jobs r WHERE r.pool_id = jobs.pool_id AND r.status = ?)
		 AND NOT EXISTS (SELECT 1 FROM jobs q WHERE q.pool_id = jobs.pool_id AND q.status = ? AND q.cancel_requested = 0
		   AND (q.created_at < jobs.created_at OR (q.created_at = jobs.created_at AND q.id < jobs.id)))`
		args = append(args, string(model.JobStatusQueued), string(model.JobStatusRunning), string(model.JobStatusQueued))
	case filter.Status != "":
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PoolID != "" {
		query += ` AND pool_id = ?`
		args = append(args, filter.PoolID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string) (*model.Job, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?
		 WHERE id = ? AND status = ? AND cancel_requested = 0
		   AND NOT EXISTS (SELECT 1 FROM jobs r WHERE r.pool_id = jobs.pool_id AND r.status = ?)`,
		string(model.JobStatusRunning), time.Now().UTC(), jobID,
		string(model.JobStatusQueued), string(model.JobStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrNotClaimable, "job %s", jobID)
	}
	return s.GetJob(ctx, jobID)
}

func (s *SQLiteStore) SaveProgress(ctx context.Context, jobID string, counters model.Counters, logs []model.LogEntry) error {
	c, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	l, err := marshalLogs(logs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET counters = ?, logs = ? WHERE id = ? AND status = ?`,
		string(c), string(l), jobID, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save progress %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("store: job %s is not running", jobID)
	}
	return nil
}

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, from, to model.JobStatus, counters model.Counters, logs []model.LogEntry) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	c, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	l, err := marshalLogs(logs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, counters = ?, logs = ?, finished_at = ? WHERE id = ? AND status = ?`,
		string(to), string(c), string(l), time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return &model.TransitionError{From: current.Status, To: to}
	}
	return nil
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET cancel_requested = 1 WHERE id = ? AND status IN (?, ?)`,
		jobID, string(model.JobStatusQueued), string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err := s.GetJob(ctx, jobID)
		return err
	}
	return nil
}

func (s *SQLiteStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, jobID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return flag, eris.Wrapf(err, "sqlite: cancel flag %s", jobID)
}

func (s *SQLiteStore) GetVerification(ctx context.Context, stage model.VerificationStage, subject string) (*model.VerificationRecord, error) {
	var r model.VerificationRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT stage, subject, outcome, detail, ttl_class, checked_at FROM verification_cache WHERE stage = ? AND subject = ?`,
		string(stage), subject,
	).Scan(&r.Stage, &r.Subject, &r.Outcome, &r.Detail, &r.TTLClass, &r.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get verification %s/%s", stage, subject)
	}
	r.CheckedAt = r.CheckedAt.UTC()
	return &r, nil
}

func (s *SQLiteStore) PutVerification(ctx context.Context, rec model.VerificationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_cache (stage, subject, outcome, detail, ttl_class, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stage, subject) DO UPDATE SET
		   outcome = excluded.outcome, detail = excluded.detail,
		   ttl_class = excluded.ttl_class, checked_at = excluded.checked_at`,
		string(rec.Stage), rec.Subject, string(rec.Outcome), rec.Detail, string(rec.TTLClass), rec.CheckedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put verification %s/%s", rec.Stage, rec.Subject)
}

func (s *SQLiteStore) InsertCompany(ctx context.Context, c *model.CandidateCompany) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tech, err := json.Marshal(nonNil(c.Technologies))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal technologies")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidate_companies (`+companyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, c.PoolID, c.Domain, c.Name, string(c.Source), string(tech), c.PagesCrawled, c.Crawled, c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert company %s", c.Domain)
}

func (s *SQLiteStore) InsertContacts(ctx context.Context, contacts []model.CandidateContact) error {
	if len(contacts) == 0 {
		return nil
	}
	stampContacts(contacts)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin contacts")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO candidate_contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare contacts")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range contacts {
		row, err := contactRow(&contacts[i])
		if err != nil {
			return err
		}
		row[12] = string(row[12].([]byte))
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert contact %s", contacts[i].Email)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit contacts")
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, jobID string) ([]model.CandidateCompany, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM candidate_companies WHERE job_id = ? ORDER BY created_at, domain`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CandidateCompany
	for rows.Next() {
		var c model.CandidateCompany
		var tech []byte
		if err := rows.Scan(&c.ID, &c.JobID, &c.PoolID, &c.Domain, &c.Name, &c.Source, &tech,
			&c.PagesCrawled, &c.Crawled, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		if err := json.Unmarshal(tech, &c.Technologies); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal technologies")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func (s *SQLiteStore) ListContacts(ctx context.Context, jobID string) ([]model.CandidateContact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM candidate_contacts WHERE job_id = ? ORDER BY score DESC, email`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CandidateContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contacts")
}

// stampContacts assigns missing IDs and creation times in place.
func stampContacts(contacts []model.CandidateContact) {
	now := time.Now().UTC()
	for i := range contacts {
		if contacts[i].ID == "" {
			contacts[i].ID = uuid.New().String()
		}
		if contacts[i].CreatedAt.IsZero() {
			contacts[i].CreatedAt = now
		}
	}
}

func contactRow(c *model.CandidateContact) ([]any, error) {
	v, err := json.Marshal(c.Verification)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal verification")
	}
	return []any{
		c.ID, c.JobID, c.PoolID, c.CompanyID, c.Domain, c.Email, c.Name, c.Title,
		string(c.Source), c.Inferred, c.Confidence, c.Score, v, c.CreatedAt,
	}, nil
}

func scanContact(row rowScanner) (*model.CandidateContact, error) {
	var c model.CandidateContact
	var v []byte
	if err := row.Scan(&c.ID, &c.JobID, &c.PoolID, &c.CompanyID, &c.Domain, &c.Email, &c.Name, &c.Title,
		&c.Source, &c.Inferred, &c.Confidence, &c.Score, &v, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(v, &c.Verification); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal verification")
	}
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
