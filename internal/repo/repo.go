package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"todoassist/internal/db"
	"todoassist/internal/domain"
)

type Repo struct {
	DB     *sql.DB
	Driver string
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const taskColumns = `id,title,date,done,priority,parent_id,created_at,updated_at`

func (r Repo) q(query string) string {
	return db.Rebind(r.Driver, query)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var parentID sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &t.Date, &t.Done, &t.Priority, &parentID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		id := parentID.Int64
		t.ParentID = &id
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullableIntPtr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) getTask(ctx context.Context, qr querier, id int64) (domain.Task, error) {
	return scanTask(qr.QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id))
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

// InsertTask stores t and sets t.ID to the identifier assigned by the database.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	err := tx.QueryRowContext(ctx, r.q(`INSERT INTO tasks(title,date,done,priority,parent_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?) RETURNING id`),
		t.Title, t.Date, t.Done, t.Priority, nullableIntPtr(t.ParentID), t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE tasks SET title=?, date=?, done=?, priority=?, parent_id=?, updated_at=? WHERE id=?`),
		t.Title, t.Date, t.Done, t.Priority, nullableIntPtr(t.ParentID), t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task. Children are detached (parent_id set to NULL)
// rather than deleted.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, r.q(`UPDATE tasks SET parent_id=NULL WHERE parent_id=?`), id); err != nil {
		return fmt.Errorf("detach children of %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM tasks WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) children(ctx context.Context, qr querier, parentID int64) ([]domain.Task, error) {
	rows, err := qr.QueryContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE parent_id=? ORDER BY priority DESC, id ASC`), parentID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// Children returns the direct children of a task, most urgent first.
func (r Repo) Children(ctx context.Context, parentID int64) ([]domain.Task, error) {
	return r.children(ctx, r.DB, parentID)
}

func (r Repo) ChildrenTx(ctx context.Context, tx *sql.Tx, parentID int64) ([]domain.Task, error) {
	return r.children(ctx, tx, parentID)
}

type TaskFilters struct {
	Done     *bool
	ParentID *int64
	TopLevel bool
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Done != nil {
		clauses = append(clauses, "done=?")
		args = append(args, *f.Done)
	}
	if f.ParentID != nil {
		clauses = append(clauses, "parent_id=?")
		args = append(args, *f.ParentID)
	} else if f.TopLevel {
		clauses = append(clauses, "parent_id IS NULL")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// OpenDueOn returns tasks that are not done and due on day, most urgent first.
func (r Repo) OpenDueOn(ctx context.Context, day domain.Date) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE date=? AND done=? ORDER BY priority DESC, id ASC`), day, false)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// OpenUndated returns up to limit tasks that are not done and have no deadline.
func (r Repo) OpenUndated(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE date IS NULL AND done=? ORDER BY priority DESC, id ASC LIMIT ?`), false, limit)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (r Repo) LatestEvents(ctx context.Context, limit int, runID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_id,run_id,payload_json FROM events`
	var args []any
	if runID != "" {
		query += ` WHERE run_id=?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullInt64
		var run sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &entityID, &run, &e.Payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			id := entityID.Int64
			e.EntityID = &id
		}
		e.RunID = run.String
		res = append(res, e)
	}
	return res, rows.Err()
}
