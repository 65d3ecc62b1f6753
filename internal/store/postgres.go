package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/db"
	"github.com/sells-group/leadgen/internal/model"
)

var (
	_ Store        = (*PostgresStore)(nil)
	_ LeadGenStore = (*PostgresStore)(nil)
)

// PostgresStore implements Store and LeadGenStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new connection.
var preparedStatements = map[string]string{
	"get_verification": `SELECT stage, subject, outcome, detail, ttl_class, checked_at FROM verification_cache WHERE stage = $1 AND subject = $2`,
	"cancel_requested": `SELECT cancel_requested FROM jobs WHERE id = $1`,
	"save_progress":    `UPDATE jobs SET counters = $1, logs = $2 WHERE id = $3 AND status = $4`,
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
CREATE TABLE IF NOT EXISTS lead_pools (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner       TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	icp         JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	pool_id          TEXT NOT NULL REFERENCES lead_pools(id),
	status           TEXT NOT NULL DEFAULT 'queued',
	providers        JSONB NOT NULL,
	templates        JSONB NOT NULL DEFAULT '[]',
	icp              JSONB NOT NULL,
	counters         JSONB NOT NULL,
	logs             JSONB NOT NULL DEFAULT '[]',
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_pool_status ON jobs(pool_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_running ON jobs(pool_id) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS candidate_companies (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	pool_id       TEXT NOT NULL,
	domain        TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	technologies  JSONB NOT NULL DEFAULT '[]',
	pages_crawled INTEGER NOT NULL DEFAULT 0,
	crawled       BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (job_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_companies_job ON candidate_companies(job_id);

CREATE TABLE IF NOT EXISTS candidate_contacts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	pool_id      TEXT NOT NULL,
	company_id   TEXT NOT NULL REFERENCES candidate_companies(id),
	domain       TEXT NOT NULL,
	email        TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	inferred     BOOLEAN NOT NULL DEFAULT false,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	verification JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (job_id, email)
);

CREATE INDEX IF NOT EXISTS idx_contacts_job ON candidate_contacts(job_id);

CREATE TABLE IF NOT EXISTS verification_cache (
	stage      TEXT NOT NULL,
	subject    TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	ttl_class  TEXT NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (stage, subject)
);
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

func (s *PostgresStore) CreatePool(ctx context.Context, pool *model.LeadPool) error {
	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = time.Now().UTC()
	}
	icp, err := json.Marshal(pool.ICP)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal icp")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lead_pools (`+poolColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		pool.ID, pool.Owner, pool.Name, pool.Description, icp, pool.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert pool")
}

func (s *PostgresStore) GetPool(ctx context.Context, poolID string) (*model.LeadPool, error) {
	var p model.LeadPool
	var icp []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM lead_pools WHERE id = $1`, poolID,
	).Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &icp, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "pool %s", poolID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get pool %s", poolID)
	}
	if err := json.Unmarshal(icp, &p.ICP); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal icp")
	}
	return &p, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, pool_id, status, providers, templates, icp, counters, logs, cancel_requested, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.PoolID, string(job.Status), providers, templates, icp, counters, logs, job.CancelRequested, job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func scanPostgresJob(row rowScanner) (*model.Job, error) {
	var r jobRow
	if err := row.Scan(&r.job.ID, &r.job.PoolID, &r.job.Status, &r.providers, &r.templates, &r.icp,
		&r.counters, &r.logs, &r.job.CancelRequested, &r.job.CreatedAt, &r.job.StartedAt, &r.job.FinishedAt); err != nil {
		return nil, err
	}
	return r.decode()
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	j, err := scanPostgresJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	switch {
	case filter.Claimable:
		query += fmt.Sprintf(` AND status = $%[1]d AND NOT cancel_requested
		 AND NOT EXISTS (SELECT 1 FROM jobs r WHERE r.pool_id = jobs.pool_id AND r.status = $%[2]d)
		 AND NOT EXISTS (SELECT 1 FROM jobs q WHERE q.pool_id = jobs.pool_id AND q.status = $%[1]d AND NOT q.cancel_requested
		   AND (q.created_at, q.id) < (jobs.created_at, jobs.id))`, argIdx, argIdx+1)
		args = append(args, string(model.JobStatusQueued), string(model.JobStatusRunning))
		argIdx += 2
	case filter.Status != "":
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.PoolID != "" {
		query += fmt.Sprintf(` AND pool_id = $%d`, argIdx)
		args = append(args, filter.PoolID)
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

// ClaimJob moves a queued job to running in one statement. The partial
// unique index on running jobs rejects a second claim in the same pool.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string) (*model.Job, error) {
	j, err := scanPostgresJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, started_at = $2
		 WHERE id = $3 AND status = $4 AND NOT cancel_requested
		 RETURNING `+jobColumns,
		string(model.JobStatusRunning), time.Now().UTC(), jobID, string(model.JobStatusQueued),
	))
	switch {
	case err == nil:
		return j, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrNotClaimable, "job %s", jobID)
	case isUniqueViolation(err):
		return nil, eris.Wrapf(ErrNotClaimable, "job %s: pool busy", jobID)
	default:
		return nil, eris.Wrapf(err, "postgres: claim job %s", jobID)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) SaveProgress(ctx context.Context, jobID string, counters model.Counters, logs []model.LogEntry) error {
	c, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	l, err := marshalLogs(logs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET counters = $1, logs = $2 WHERE id = $3 AND status = $4`,
		c, l, jobID, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("store: job %s is not running", jobID)
	}
	return nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, from, to model.JobStatus, counters model.Counters, logs []model.LogEntry) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	c, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	l, err := marshalLogs(logs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, counters = $2, logs = $3, finished_at = $4 WHERE id = $5 AND status = $6`,
		string(to), c, l, time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return &model.TransitionError{From: current.Status, To: to}
	}
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = true WHERE id = $1 AND status IN ($2, $3)`,
		jobID, string(model.JobStatusQueued), string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.GetJob(ctx, jobID)
		return err
	}
	return nil
}

func (s *PostgresStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return flag, eris.Wrapf(err, "postgres: cancel flag %s", jobID)
}

func (s *PostgresStore) GetVerification(ctx context.Context, stage model.VerificationStage, subject string) (*model.VerificationRecord, error) {
	var r model.VerificationRecord
	err := s.pool.QueryRow(ctx,
		`SELECT stage, subject, outcome, detail, ttl_class, checked_at FROM verification_cache WHERE stage = $1 AND subject = $2`,
		string(stage), subject,
	).Scan(&r.Stage, &r.Subject, &r.Outcome, &r.Detail, &r.TTLClass, &r.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get verification %s/%s", stage, subject)
	}
	return &r, nil
}

func (s *PostgresStore) PutVerification(ctx context.Context, rec model.VerificationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_cache (stage, subject, outcome, detail, ttl_class, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (stage, subject) DO UPDATE SET
		   outcome = EXCLUDED.outcome, detail = EXCLUDED.detail,
		   ttl_class = EXCLUDED.ttl_class, checked_at = EXCLUDED.checked_at`,
		string(rec.Stage), rec.Subject, string(rec.Outcome), rec.Detail, string(rec.TTLClass), rec.CheckedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put verification %s/%s", rec.Stage, rec.Subject)
}

func (s *PostgresStore) InsertCompany(ctx context.Context, c *model.CandidateCompany) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tech, err := json.Marshal(nonNil(c.Technologies))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal technologies")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO candidate_companies (`+companyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.JobID, c.PoolID, c.Domain, c.Name, string(c.Source), tech, c.PagesCrawled, c.Crawled, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert company %s", c.Domain)
}

// InsertContacts writes a company's contacts with a single COPY.
func (s *PostgresStore) InsertContacts(ctx context.Context, contacts []model.CandidateContact) error {
	stampContacts(contacts)
	_, err := db.CopyRows(ctx, s.pool, "candidate_contacts", contactColumnList, contacts, contactRow)
	return eris.Wrap(err, "postgres: insert contacts")
}

func (s *PostgresStore) ListCompanies(ctx context.Context, jobID string) ([]model.CandidateCompany, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyColumns+` FROM candidate_companies WHERE job_id = $1 ORDER BY created_at, domain`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.CandidateCompany
	for rows.Next() {
		var c model.CandidateCompany
		var tech []byte
		if err := rows.Scan(&c.ID, &c.JobID, &c.PoolID, &c.Domain, &c.Name, &c.Source, &tech,
			&c.PagesCrawled, &c.Crawled, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		if err := json.Unmarshal(tech, &c.Technologies); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal technologies")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

func (s *PostgresStore) ListContacts(ctx context.Context, jobID string) ([]model.CandidateContact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM candidate_contacts WHERE job_id = $1 ORDER BY score DESC, email`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var out []model.CandidateContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contacts")
}
