// Package history records launches in a SQLite database so past runs can
// be listed with their device, arguments and exit status.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is a single recorded launch.
type Run struct {
	ID           string    `json:"id"`
	GPUID        string    `json:"gpu_id"`
	Python       string    `json:"python"`
	Module       string    `json:"module"`
	Args         []string  `json:"args"`
	WorkDir      string    `json:"work_dir"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	ExitCode     int       `json:"exit_code"`
	UserCPUMS    int64     `json:"user_cpu_ms"`
	SystemCPUMS  int64     `json:"system_cpu_ms"`
	PeakMemoryMB float64   `json:"peak_memory_mb"`
	WallMS       int64     `json:"wall_ms"`
}

// Duration returns the wall-clock duration of the run.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Store manages the history database.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Options configures the history store.
type Options struct {
	// Path to the SQLite database file.
	// If empty, uses an in-memory database.
	Path string

	// CreateIfNotExists creates the database directory if it doesn't exist.
	CreateIfNotExists bool
}

// Open opens (and if needed initializes) the history database.
func Open(opts Options) (*Store, error) {
	var dsn string

	if opts.Path == "" {
		dsn = ":memory:"
	} else {
		if opts.CreateIfNotExists {
			dir := filepath.Dir(opts.Path)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Path == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: opts.Path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Save records a run, assigning an ID if it has none.
func (s *Store) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = fmt.Sprintf("run:%s", uuid.New().String())
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now()
	}

	args, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, gpu_id, python, module, args, work_dir, started_at, ended_at,
			exit_code, user_cpu_ms, system_cpu_ms, peak_memory_mb, wall_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GPUID, run.Python, run.Module, string(args), run.WorkDir,
		run.StartedAt.UnixNano(), run.EndedAt.UnixNano(),
		run.ExitCode, run.UserCPUMS, run.SystemCPUMS, run.PeakMemoryMB, run.WallMS,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectRuns = `
	SELECT id, gpu_id, python, module, args, work_dir, started_at, ended_at,
		exit_code, user_cpu_ms, system_cpu_ms, peak_memory_mb, wall_ms
	FROM runs`

// Get returns the run with the given ID. A short unique prefix of the UUID
// part is accepted as well.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !strings.HasPrefix(id, "run:") {
		id = "run:" + id
	}

	rows, err := s.db.QueryContext(ctx, selectRuns+` WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY started_at DESC LIMIT 2`,
		id, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("ambiguous run id prefix %q", id)
	}
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var (
			r              Run
			args           string
			started, ended int64
		)
		if err := rows.Scan(&r.ID, &r.GPUID, &r.Python, &r.Module, &args, &r.WorkDir,
			&started, &ended, &r.ExitCode, &r.UserCPUMS, &r.SystemCPUMS, &r.PeakMemoryMB, &r.WallMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args of %s: %w", r.ID, err)
		}
		r.StartedAt = time.Unix(0, started)
		r.EndedAt = time.Unix(0, ended)
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`%`, `\%`, `_`, `\_`, `\`, `\\`)
	return r.Replace(s)
}
