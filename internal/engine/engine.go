package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"todoassist/internal/db"
	"todoassist/internal/domain"
	"todoassist/internal/events"
	"todoassist/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Log    zerolog.Logger
	Now    func() time.Time
}

func New(conn *sql.DB, driver string, log zerolog.Logger) Engine {
	driver = db.Normalize(driver)
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Driver: driver},
		Events: events.Writer{Driver: driver},
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// withTx runs fn in a transaction and commits only if fn succeeds.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ErrInvalidInput marks errors caused by caller-supplied values.
var ErrInvalidInput = errors.New("invalid input")

// NotFoundError reports a task id that does not resolve.
type NotFoundError struct {
	TaskID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.TaskID)
}

func (e *NotFoundError) Unwrap() error {
	return repo.ErrNotFound
}

func (e Engine) getTask(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, &NotFoundError{TaskID: id}
	}
	return t, err
}
