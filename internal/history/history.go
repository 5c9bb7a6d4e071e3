// Package history keeps one row per finished sync pass in a local SQLite
// database, with the mapping and operation failures of the pass.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/newrelic/nr-catalog-sync/internal/sync"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

type stage string

const (
	STAGE_MAPPING   stage = "mapping"
	STAGE_FIELD     stage = "field"
	STAGE_OPERATION stage = "operation"
)

type Store struct {
	db *sql.DB
}

// Pass is a recorded sync pass.
type Pass struct {
	RunID            string
	Kind             string
	Start            time.Time
	End              time.Time
	Success          bool
	Error            string
	ObjectsSeen      int
	EntitiesProduced int
	ObjectsSkipped   int
	SelectorErrors   int
	Conflicts        int
	Created          int
	Updated          int
	Deleted          int
	Unchanged        int
	Patched          int
	DeletesSkipped   bool
	Failures         []Failure
}

type Failure struct {
	Stage   string
	Ref     string
	Field   string
	Message string
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// one connection, so ":memory:" stays a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores a finished pass. It satisfies sync.Recorder.
func (s *Store) Record(ctx context.Context, result *sync.SyncPassResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	p := passOf(result)

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO passes (
			run_id, kind, started_at, ended_at, success, error,
			objects_seen, entities_produced, objects_skipped, selector_errors, conflicts,
			created, updated, deleted, unchanged, patched, deletes_skipped
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID,
		p.Kind,
		p.Start.UnixMilli(),
		p.End.UnixMilli(),
		p.Success,
		p.Error,
		p.ObjectsSeen,
		p.EntitiesProduced,
		p.ObjectsSkipped,
		p.SelectorErrors,
		p.Conflicts,
		p.Created,
		p.Updated,
		p.Deleted,
		p.Unchanged,
		p.Patched,
		p.DeletesSkipped,
	)
	if err != nil {
		return fmt.Errorf("failed to record pass %s: %w", p.RunID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE run_id = ?`, p.RunID); err != nil {
		return fmt.Errorf("failed to clear failures of pass %s: %w", p.RunID, err)
	}

	for n, f := range p.Failures {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO failures (run_id, seq, stage, ref, field, message) VALUES (?, ?, ?, ?, ?, ?)`,
			p.RunID,
			n,
			f.Stage,
			f.Ref,
			f.Field,
			f.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to record failure of pass %s: %w", p.RunID, err)
		}
	}

	return tx.Commit()
}

// Recent returns the latest passes, newest first, optionally only those of
// kind. Failures are loaded for each pass.
func (s *Store) Recent(ctx context.Context, kind string, limit int) ([]*Pass, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, kind, started_at, ended_at, success, error,
			objects_seen, entities_produced, objects_skipped, selector_errors, conflicts,
			created, updated, deleted, unchanged, patched, deletes_skipped
		FROM passes
		WHERE ? = '' OR kind = ?
		ORDER BY started_at DESC, run_id
		LIMIT ?`,
		kind,
		kind,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var passes []*Pass

	for rows.Next() {
		p := &Pass{}
		var start, end int64

		err := rows.Scan(
			&p.RunID,
			&p.Kind,
			&start,
			&end,
			&p.Success,
			&p.Error,
			&p.ObjectsSeen,
			&p.EntitiesProduced,
			&p.ObjectsSkipped,
			&p.SelectorErrors,
			&p.Conflicts,
			&p.Created,
			&p.Updated,
			&p.Deleted,
			&p.Unchanged,
			&p.Patched,
			&p.DeletesSkipped,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read history row: %w", err)
		}

		p.Start = time.UnixMilli(start)
		p.End = time.UnixMilli(end)
		passes = append(passes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	for _, p := range passes {
		p.Failures, err = s.failures(ctx, p.RunID)
		if err != nil {
			return nil, err
		}
	}

	return passes, nil
}

func (s *Store) failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage, ref, field, message FROM failures WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures of pass %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		f := Failure{}
		if err := rows.Scan(&f.Stage, &f.Ref, &f.Field, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to read failure row: %w", err)
		}
		out = append(out, f)
	}

	return out, rows.Err()
}

func passOf(result *sync.SyncPassResult) *Pass {
	p := &Pass{
		RunID:            result.RunID,
		Kind:             result.Kind,
		Start:            result.Start,
		End:              result.End,
		Success:          result.Success(),
		ObjectsSeen:      result.ObjectsSeen,
		EntitiesProduced: result.EntitiesProduced,
		ObjectsSkipped:   result.ObjectsSkippedBySelector,
		SelectorErrors:   result.SelectorErrors,
		Conflicts:        len(result.Conflicts),
	}

	if result.Err != nil {
		p.Error = result.Err.Error()
	}

	for _, f := range result.MappingFailures {
		p.Failures = append(p.Failures, Failure{
			Stage:   string(STAGE_MAPPING),
			Ref:     f.Ref,
			Message: f.Err.Error(),
		})
	}

	for _, f := range result.FieldFailures {
		p.Failures = append(p.Failures, Failure{
			Stage:   string(STAGE_FIELD),
			Ref:     f.Ref,
			Field:   f.Field,
			Message: f.Err.Error(),
		})
	}

	if o := result.Outcome; o != nil {
		p.Created = len(o.Created)
		p.Updated = len(o.Updated)
		p.Deleted = len(o.Deleted)
		p.Unchanged = len(o.Unchanged)
		p.Patched = len(o.Patched)
		p.DeletesSkipped = o.DeletesSkipped

		for _, f := range o.Failures {
			p.Failures = append(p.Failures, Failure{
				Stage:   string(STAGE_OPERATION),
				Ref:     f.Blueprint + "/" + f.Identifier,
				Field:   string(f.Op),
				Message: f.Err.Error(),
			})
		}
	}

	return p
}
