// Package baseline persists golden determinism hashes in SQLite so a later
// build can be checked against them.
package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/signalsfoundry/idle-engine/internal/snapshot"
)

var (
	// ErrNotFound means no baseline exists for the requested key.
	ErrNotFound = errors.New("baseline not found")
	// ErrMismatch means a run diverged from its recorded baseline.
	ErrMismatch = errors.New("baseline mismatch")
)

// Key identifies one determinism run.
type Key struct {
	Seed     uint32
	Build    string
	Land     string
	Ward     string
	Duration time.Duration
	Step     time.Duration
}

func (k Key) String() string {
	return fmt.Sprintf("seed=%d build=%s land=%s ward=%s duration=%v step=%v",
		k.Seed, k.Build, k.Land, k.Ward, k.Duration, k.Step)
}

// Baseline is the recorded outcome of a run.
type Baseline struct {
	Key
	Snapshots  int
	Steps      uint64
	Hash       uint64
	RecordedAt time.Time
}

// Check compares a fresh run against b. The snapshot count may differ by one
// when a run ends exactly on a sampling boundary; the hash must match.
func (b Baseline) Check(snapshots int, hash uint64) error {
	if d := b.Snapshots - snapshots; d < -1 || d > 1 {
		return fmt.Errorf("%w: %s: snapshots %d, baseline %d", ErrMismatch, b.Key, snapshots, b.Snapshots)
	}
	if hash != b.Hash {
		return fmt.Errorf("%w: %s: hash %s, baseline %s", ErrMismatch, b.Key,
			snapshot.HashString(hash), snapshot.HashString(b.Hash))
	}
	return nil
}

// Store manages the SQLite database holding baselines.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if path != "" && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("baseline: cannot expand home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("baseline: cannot create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("baseline: cannot open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: cannot connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS baselines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seed INTEGER NOT NULL,
			build TEXT NOT NULL,
			land TEXT NOT NULL,
			ward TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			step_ns INTEGER NOT NULL,
			snapshots INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			hash TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			UNIQUE (seed, build, land, ward, duration_ns, step_ns)
		);
		CREATE INDEX IF NOT EXISTS idx_baselines_build ON baselines(build);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save records b, replacing any baseline with the same key.
func (s *Store) Save(ctx context.Context, b Baseline) error {
	if b.RecordedAt.IsZero() {
		b.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baselines (seed, build, land, ward, duration_ns, step_ns, snapshots, steps, hash, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (seed, build, land, ward, duration_ns, step_ns) DO UPDATE SET
			snapshots = excluded.snapshots,
			steps = excluded.steps,
			hash = excluded.hash,
			recorded_at = excluded.recorded_at`,
		int64(b.Seed), b.Build, b.Land, b.Ward, int64(b.Duration), int64(b.Step),
		b.Snapshots, int64(b.Steps), snapshot.HashString(b.Hash), b.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("baseline: cannot save %s: %w", b.Key, err)
	}
	return nil
}

// Lookup returns the baseline for k or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, k Key) (Baseline, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshots, steps, hash, recorded_at
		 FROM baselines
		 WHERE seed = ? AND build = ? AND land = ? AND ward = ? AND duration_ns = ? AND step_ns = ?`,
		int64(k.Seed), k.Build, k.Land, k.Ward, int64(k.Duration), int64(k.Step),
	)
	b := Baseline{Key: k}
	var (
		steps      int64
		hash       string
		recordedAt int64
	)
	if err := row.Scan(&b.Snapshots, &steps, &hash, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Baseline{}, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		return Baseline{}, fmt.Errorf("baseline: cannot query %s: %w", k, err)
	}
	h, err := strconv.ParseUint(hash, 16, 64)
	if err != nil {
		return Baseline{}, fmt.Errorf("baseline: corrupt hash %q for %s: %w", hash, k, err)
	}
	b.Steps = uint64(steps)
	b.Hash = h
	b.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return b, nil
}

// List returns every baseline recorded for build, oldest first.
func (s *Store) List(ctx context.Context, build string) ([]Baseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seed, land, ward, duration_ns, step_ns, snapshots, steps, hash, recorded_at
		 FROM baselines
		 WHERE build = ?
		 ORDER BY recorded_at, id`,
		build,
	)
	if err != nil {
		return nil, fmt.Errorf("baseline: cannot list build %s: %w", build, err)
	}
	defer rows.Close()

	var out []Baseline
	for rows.Next() {
		b := Baseline{Key: Key{Build: build}}
		var (
			seed, duration, step, steps, recordedAt int64
			hash                                    string
		)
		if err := rows.Scan(&seed, &b.Land, &b.Ward, &duration, &step, &b.Snapshots, &steps, &hash, &recordedAt); err != nil {
			return nil, fmt.Errorf("baseline: cannot scan row: %w", err)
		}
		h, err := strconv.ParseUint(hash, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("baseline: corrupt hash %q: %w", hash, err)
		}
		b.Seed = uint32(seed)
		b.Duration = time.Duration(duration)
		b.Step = time.Duration(step)
		b.Steps = uint64(steps)
		b.Hash = h
		b.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("baseline: row iteration error: %w", err)
	}
	return out, nil
}
