package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/browsercloud/internal/tasks"
)

type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initArchiveSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresArchive{pool: pool}, nil
}

func initArchiveSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS browser_tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			description TEXT NOT NULL,
			max_steps INTEGER NOT NULL,
			status TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_browser_tasks_session_created ON browser_tasks (session_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS browser_task_steps (
			task_id TEXT NOT NULL REFERENCES browser_tasks(id) ON DELETE CASCADE,
			number INTEGER NOT NULL,
			memory TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (task_id, number)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init archive schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (a *PostgresArchive) Archive(ctx context.Context, task tasks.Task) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	output := ""
	if task.Output != nil {
		output = *task.Output
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO browser_tasks (
			id, session_id, description, max_steps, status, output, created_at, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			output=EXCLUDED.output,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		task.ID,
		task.SessionID,
		task.Description,
		task.MaxSteps,
		string(task.Status),
		output,
		task.CreatedAt,
		task.StartedAt,
		task.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM browser_task_steps WHERE task_id=$1`, task.ID); err != nil {
		return fmt.Errorf("delete prior steps: %w", err)
	}
	if rows := stepRows(task); len(rows) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"browser_task_steps"},
			[]string{"task_id", "number", "memory", "url"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy task steps: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// stepRows keeps the last report for a repeated step number.
func stepRows(task tasks.Task) [][]any {
	index := make(map[int]int, len(task.Steps))
	rows := make([][]any, 0, len(task.Steps))
	for _, step := range task.Steps {
		row := []any{task.ID, step.Number, step.Memory, step.URL}
		if i, ok := index[step.Number]; ok {
			rows[i] = row
			continue
		}
		index[step.Number] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

func (a *PostgresArchive) Close() error {
	a.pool.Close()
	return nil
}
