// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

var (
	// ErrVersionNotFound is returned when a model version does not exist.
	ErrVersionNotFound = errors.New("model version not found")

	// ErrAliasNotFound is returned when an alias has never been set.
	ErrAliasNotFound = errors.New("alias not found")
)

// AliasChange is one recorded assignment of an alias.
type AliasChange struct {
	Name    string    `json:"name" yaml:"name"`
	Alias   string    `json:"alias" yaml:"alias"`
	Version int       `json:"version" yaml:"version"`
	SetAt   time.Time `json:"set_at" yaml:"set_at"`
}

// RegisterModelVersion creates the next version of model name pointing at
// the artifact source of runID. Version numbers start at 1.
func (s *Store) RegisterModelVersion(ctx context.Context, name, runID, source string) (types.ModelVersion, error) {
	if name == "" {
		return types.ModelVersion{}, errors.New("model name is required")
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return types.ModelVersion{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.ModelVersion{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = ?`, name,
	).Scan(&next); err != nil {
		return types.ModelVersion{}, fmt.Errorf("reading latest version: %w", err)
	}

	mv := types.ModelVersion{
		Name:      name,
		Version:   next,
		RunID:     runID,
		Source:    source,
		CreatedAt: s.now(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO model_versions (name, version, run_id, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		mv.Name, mv.Version, mv.RunID, mv.Source, formatTime(mv.CreatedAt),
	)
	if err != nil {
		return types.ModelVersion{}, fmt.Errorf("inserting model version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return types.ModelVersion{}, fmt.Errorf("committing model version: %w", err)
	}
	return mv, nil
}

// SearchModelVersions returns every version of model name in ascending
// version order.
func (s *Store) SearchModelVersions(ctx context.Context, name string) ([]types.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, run_id, source, created_at FROM model_versions WHERE name = ? ORDER BY version`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("querying model versions: %w", err)
	}
	defer rows.Close()

	var versions []types.ModelVersion
	for rows.Next() {
		mv, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, mv)
	}
	return versions, rows.Err()
}

// SetAlias points alias of model name at version, replacing any previous
// assignment. Concurrent writers race; the last one wins.
func (s *Store) SetAlias(ctx context.Context, name, alias string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM model_versions WHERE name = ? AND version = ?`, name, version,
	).Scan(&n); err != nil {
		return fmt.Errorf("looking up version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s version %d: %w", name, version, ErrVersionNotFound)
	}

	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aliases (name, alias, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name, alias) DO UPDATE SET version=excluded.version, updated_at=excluded.updated_at`,
		name, alias, version, now,
	); err != nil {
		return fmt.Errorf("setting alias %s: %w", alias, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alias_history (name, alias, version, set_at) VALUES (?, ?, ?, ?)`,
		name, alias, version, now,
	); err != nil {
		return fmt.Errorf("recording alias change: %w", err)
	}
	return tx.Commit()
}

// AliasVersion returns the version alias currently points at.
func (s *Store) AliasVersion(ctx context.Context, name, alias string) (types.ModelVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT v.name, v.version, v.run_id, v.source, v.created_at
		 FROM aliases a JOIN model_versions v ON v.name = a.name AND v.version = a.version
		 WHERE a.name = ? AND a.alias = ?`, name, alias,
	)
	mv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ModelVersion{}, fmt.Errorf("%s@%s: %w", name, alias, ErrAliasNotFound)
	}
	return mv, err
}

// AliasHistory returns every assignment of alias in the order they happened.
func (s *Store) AliasHistory(ctx context.Context, name, alias string) ([]AliasChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, alias, version, set_at FROM alias_history WHERE name = ? AND alias = ? ORDER BY seq`,
		name, alias,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alias history: %w", err)
	}
	defer rows.Close()

	var changes []AliasChange
	for rows.Next() {
		var c AliasChange
		var setAt sql.NullString
		if err := rows.Scan(&c.Name, &c.Alias, &c.Version, &setAt); err != nil {
			return nil, fmt.Errorf("scanning alias change: %w", err)
		}
		c.SetAt = parseTime(setAt)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(sc scanner) (types.ModelVersion, error) {
	var mv types.ModelVersion
	var created sql.NullString
	if err := sc.Scan(&mv.Name, &mv.Version, &mv.RunID, &mv.Source, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mv, err
		}
		return mv, fmt.Errorf("scanning model version: %w", err)
	}
	mv.CreatedAt = parseTime(created)
	return mv, nil
}
