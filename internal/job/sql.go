package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	// Register the database/sql drivers selected by JOB_STORE.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite3 and postgres.
var ErrUnsupportedDriver = errors.New("unsupported SQL driver")

// Compile-time check that SQLRepository implements Repository.
var _ Repository = (*SQLRepository)(nil)

const createJobsTable = `CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	data       TEXT NOT NULL
)`

// SQLRepository stores jobs in SQLite or PostgreSQL. Each row keeps the
// status and timestamps as columns and the whole job as a JSON snapshot.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLRepository opens dsn with driver, checks the connection and creates
// the jobs table if needed.
func NewSQLRepository(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// database/sql pools connections; SQLite serialises writers anyway.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, createJobsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLRepository{db: db, driver: driver}, nil
}

// Close closes the underlying database.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Save inserts the job or replaces the stored snapshot.
func (r *SQLRepository) Save(ctx context.Context, job *Job) error {
	snap := job.Clone()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", snap.ID, err)
	}

	query := r.rebind(`INSERT INTO jobs (id, status, created_at, updated_at, data)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	updated_at = excluded.updated_at,
	data = excluded.data`)

	_, err = r.db.ExecContext(ctx, query,
		snap.ID,
		string(snap.Status),
		snap.CreatedAt.UnixNano(),
		snap.UpdatedAt.UnixNano(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", snap.ID, err)
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *SQLRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT data FROM jobs WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return decodeJob(data)
}

// List returns all jobs, newest first.
func (r *SQLRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM jobs ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*Job, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job from storage.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func decodeJob(data string) (*Job, error) {
	j := &Job{}
	if err := json.Unmarshal([]byte(data), j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if j.Tracks == nil {
		j.Tracks = make([]Track, 0)
	}
	return j, nil
}
