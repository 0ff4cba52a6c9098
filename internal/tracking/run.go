// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

// Run is an open tracking run. All writes through a Run are attributed to
// it. A Run is closed by End; later writes return ErrRunClosed.
type Run struct {
	store    *Store
	id       string
	name     string
	parentID string
	ended    bool
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Name returns the run name.
func (r *Run) Name() string { return r.name }

// ParentID returns the enclosing run ID, empty for top-level runs.
func (r *Run) ParentID() string { return r.parentID }

// StartRun opens a new run. A non-empty parentID nests the run under an
// existing run.
func (s *Store) StartRun(ctx context.Context, name, parentID string) (*Run, error) {
	if parentID != "" {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM runs WHERE id = ?`, parentID).Scan(&n); err != nil {
			return nil, fmt.Errorf("looking up parent run: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("parent %s: %w", parentID, ErrRunNotFound)
		}
	}

	r := &Run{store: s, id: uuid.NewString(), name: name, parentID: parentID}
	var parent sql.NullString
	if parentID != "" {
		parent = sql.NullString{String: parentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, experiment, parent_id, status, start_time) VALUES (?, ?, ?, ?, ?, ?)`,
		r.id, name, s.experiment, parent, string(types.RunRunning), formatTime(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting run %s: %w", name, err)
	}
	return r, nil
}

// WithRun opens a run, calls fn with it and closes it on every path. The
// run ends FINISHED when fn returns nil and FAILED when fn returns an error
// or panics. Errors from fn and from closing the run are combined.
func WithRun(ctx context.Context, s *Store, name, parentID string, fn func(*Run) error) (err error) {
	r, err := s.StartRun(ctx, name, parentID)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			// a cancelled ctx must not prevent the run from being closed
			_ = r.End(context.WithoutCancel(ctx), types.RunFailed)
			panic(p)
		}
		status := types.RunFinished
		if err != nil {
			status = types.RunFailed
		}
		err = multierr.Append(err, r.End(context.WithoutCancel(ctx), status))
	}()

	return fn(r)
}

// End closes the run with status. Ending a run twice is a no-op.
func (r *Run) End(ctx context.Context, status types.RunStatus) error {
	if r.ended {
		return nil
	}
	_, err := r.store.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, end_time = ? WHERE id = ?`,
		string(status), formatTime(r.store.now()), r.id,
	)
	if err != nil {
		return fmt.Errorf("ending run %s: %w", r.id, err)
	}
	r.ended = true
	return nil
}

// LogParam records one parameter. Later values overwrite earlier ones.
func (r *Run) LogParam(ctx context.Context, key, value string) error {
	return r.upsert(ctx, `INSERT INTO params (run_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(run_id, key) DO UPDATE SET value=excluded.value`, key, value)
}

// LogParams records every entry of params in a single transaction.
func (r *Run) LogParams(ctx context.Context, params map[string]string) error {
	if r.ended {
		return ErrRunClosed
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO params (run_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(run_id, key) DO UPDATE SET value=excluded.value`,
			r.id, k, params[k],
		)
		if err != nil {
			return fmt.Errorf("logging param %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LogMetric records the latest value of a metric.
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	if r.ended {
		return ErrRunClosed
	}
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO metrics (run_id, key, value, timestamp) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, key) DO UPDATE SET value=excluded.value, timestamp=excluded.timestamp`,
		r.id, key, value, formatTime(r.store.now()),
	)
	if err != nil {
		return fmt.Errorf("logging metric %s: %w", key, err)
	}
	return nil
}

// SetTag records one tag.
func (r *Run) SetTag(ctx context.Context, key, value string) error {
	return r.upsert(ctx, `INSERT INTO tags (run_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(run_id, key) DO UPDATE SET value=excluded.value`, key, value)
}

func (r *Run) upsert(ctx context.Context, stmt, key, value string) error {
	if r.ended {
		return ErrRunClosed
	}
	if _, err := r.store.db.ExecContext(ctx, stmt, r.id, key, value); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// ArtifactDir returns the directory holding the run's artifacts under
// artifactPath.
func (r *Run) ArtifactDir(artifactPath string) string {
	return r.store.ArtifactPath(r.id, artifactPath)
}

// LogArtifact copies the file or directory at localPath into the run's
// artifact tree under artifactPath and records it. It returns the
// artifact's relative path ("<artifactPath>/<base name>").
func (r *Run) LogArtifact(ctx context.Context, localPath, artifactPath string) (string, error) {
	if r.ended {
		return "", ErrRunClosed
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("logging artifact: %w", err)
	}

	dst := filepath.Join(r.ArtifactDir(artifactPath), info.Name())
	if info.IsDir() {
		err = copyDir(localPath, dst)
	} else {
		err = copyFile(localPath, dst)
	}
	if err != nil {
		return "", fmt.Errorf("copying artifact %s: %w", localPath, err)
	}

	rel := filepath.ToSlash(filepath.Join(artifactPath, info.Name()))
	_, err = r.store.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts (run_id, path) VALUES (?, ?)`, r.id, rel,
	)
	if err != nil {
		return "", fmt.Errorf("recording artifact %s: %w", rel, err)
	}
	return rel, nil
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// GetRun returns the summary of one run.
func (s *Store) GetRun(ctx context.Context, id string) (types.RunSummary, error) {
	runs, err := s.queryRuns(ctx, `SELECT id, name, experiment, parent_id, status, start_time, end_time
		FROM runs WHERE id = ?`, id)
	if err != nil {
		return types.RunSummary{}, err
	}
	if len(runs) == 0 {
		return types.RunSummary{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return runs[0], nil
}

// Artifacts lists the recorded artifact paths of a run.
func (s *Store) Artifacts(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM artifacts WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]types.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunSummary
	for rows.Next() {
		var (
			rs         types.RunSummary
			parent     sql.NullString
			status     string
			start, end sql.NullString
		)
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Experiment, &parent, &status, &start, &end); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rs.ParentID = parent.String
		rs.Status = types.RunStatus(status)
		rs.StartTime = parseTime(start)
		rs.EndTime = parseTime(end)
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if err := s.loadValues(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// loadValues fills params, metrics and tags of rs.
func (s *Store) loadValues(ctx context.Context, rs *types.RunSummary) error {
	var err error
	if rs.Params, err = s.loadStrings(ctx, `SELECT key, value FROM params WHERE run_id = ?`, rs.ID); err != nil {
		return err
	}
	if rs.Tags, err = s.loadStrings(ctx, `SELECT key, value FROM tags WHERE run_id = ?`, rs.ID); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM metrics WHERE run_id = ?`, rs.ID)
	if err != nil {
		return fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()
	rs.Metrics = make(map[string]float64)
	for rows.Next() {
		var k string
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scanning metric: %w", err)
		}
		rs.Metrics[k] = v
	}
	return rows.Err()
}

func (s *Store) loadStrings(ctx context.Context, query, runID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run values: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning run value: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// RunQuery is a typed filter and ordering over tracked runs. Zero fields do
// not filter.
type RunQuery struct {
	// Experiment restricts results to one experiment.
	Experiment string
	// Name restricts results to runs with this name.
	Name string
	// ParentID restricts results to children of this run.
	ParentID string
	// TopLevel restricts results to runs without a parent.
	TopLevel bool
	// Status restricts results to runs in this status.
	Status types.RunStatus
	// Metric orders results by this metric, ascending unless Descending is
	// set. Runs without the metric come last. Empty orders by start.
	Metric     string
	Descending bool
	// Limit caps the number of results when positive.
	Limit int
}

// SearchRuns returns the runs matching q across the whole tracking history.
func (s *Store) SearchRuns(ctx context.Context, q RunQuery) ([]types.RunSummary, error) {
	query := `SELECT r.id, r.name, r.experiment, r.parent_id, r.status, r.start_time, r.end_time
		FROM runs r LEFT JOIN metrics m ON m.run_id = r.id AND m.key = ? WHERE 1=1`
	args := []any{q.Metric}

	if q.Experiment != "" {
		query += ` AND r.experiment = ?`
		args = append(args, q.Experiment)
	}
	if q.Name != "" {
		query += ` AND r.name = ?`
		args = append(args, q.Name)
	}
	if q.ParentID != "" {
		query += ` AND r.parent_id = ?`
		args = append(args, q.ParentID)
	}
	if q.TopLevel {
		query += ` AND r.parent_id IS NULL`
	}
	if q.Status != "" {
		query += ` AND r.status = ?`
		args = append(args, string(q.Status))
	}

	switch {
	case q.Metric == "":
		query += ` ORDER BY r.seq`
	case q.Descending:
		query += ` ORDER BY m.value IS NULL, m.value DESC, r.seq`
	default:
		query += ` ORDER BY m.value IS NULL, m.value ASC, r.seq`
	}
	if q.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(q.Limit)
	}

	return s.queryRuns(ctx, query, args...)
}
