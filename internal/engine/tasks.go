package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"todoassist/internal/directive"
	"todoassist/internal/domain"
	"todoassist/internal/events"
	"todoassist/internal/repo"
)

// UndatedAgendaLimit caps the no-deadline section of the daily agenda.
const UndatedAgendaLimit = 5

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title string
	// Date accepts any form understood by directive.ParseDate.
	Date     string
	Priority int
	ParentID *int64
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	date, err := directive.ParseDate(opts.Date)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{Title: title, Date: date, Priority: opts.Priority, ParentID: opts.ParentID}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if t.ParentID != nil {
			if _, err := e.getTask(ctx, tx, *t.ParentID); err != nil {
				return err
			}
		}
		tasks := []domain.Task{t}
		if _, err := e.insertTasks(ctx, tx, "", tasks); err != nil {
			return err
		}
		t = tasks[0]
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil fields are left untouched.
type TaskUpdateOptions struct {
	ID    int64
	Title *string
	// Date is parsed with directive.ParseDate; an empty string clears it.
	Date        *string
	Done        *bool
	Priority    *int
	SetParent   *int64
	ClearParent bool
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var t domain.Task
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = e.getTask(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		payload := events.EventPayload{}
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
			}
			t.Title = title
			payload["title"] = title
		}
		if opts.Date != nil {
			date, err := directive.ParseDate(*opts.Date)
			if err != nil {
				return err
			}
			t.Date = date
			payload["date"] = date.String()
		}
		if opts.Priority != nil {
			t.Priority = *opts.Priority
			payload["priority"] = t.Priority
		}
		if opts.ClearParent {
			t.ParentID = nil
			payload["parent_id"] = nil
		} else if opts.SetParent != nil {
			if err := e.ensureNoCycle(ctx, tx, *opts.SetParent, t.ID); err != nil {
				return err
			}
			t.ParentID = opts.SetParent
			payload["parent_id"] = *opts.SetParent
		}
		evtType := events.TaskUpdated
		if opts.Done != nil {
			if *opts.Done && !t.Done {
				evtType = events.TaskDone
			}
			t.Done = *opts.Done
			payload["done"] = t.Done
		}
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, evtType, t.ID, "", payload)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ensureNoCycle climbs the parent chain from parentID and fails if it reaches childID.
func (e Engine) ensureNoCycle(ctx context.Context, tx *sql.Tx, parentID, childID int64) error {
	if parentID == childID {
		return fmt.Errorf("%w: task cannot be its own parent", ErrInvalidInput)
	}
	cur := parentID
	for {
		t, err := e.getTask(ctx, tx, cur)
		if err != nil {
			return err
		}
		if t.ParentID == nil {
			return nil
		}
		if *t.ParentID == childID {
			return fmt.Errorf("%w: task hierarchy cycle detected", ErrInvalidInput)
		}
		cur = *t.ParentID
	}
}

// DeleteTask removes a task. Its children become top-level tasks.
func (e Engine) DeleteTask(ctx context.Context, id int64) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		t, err := e.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskDeleted, id, "", events.EventPayload{"title": t.Title})
	})
}

// TaskDetail is a task with its live children and derived completion rate.
type TaskDetail struct {
	domain.Task
	Children       []domain.Task `json:"children"`
	CompletionRate float64       `json:"completion_rate"`
}

func (e Engine) GetTask(ctx context.Context, id int64) (TaskDetail, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return TaskDetail{}, &NotFoundError{TaskID: id}
	}
	if err != nil {
		return TaskDetail{}, err
	}
	children, err := e.Repo.Children(ctx, id)
	if err != nil {
		return TaskDetail{}, err
	}
	return TaskDetail{Task: t, Children: children, CompletionRate: domain.CompletionRate(t, children)}, nil
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// Agenda returns open tasks due on day and a few open tasks without a deadline,
// most urgent first.
func (e Engine) Agenda(ctx context.Context, day domain.Date) (domain.Agenda, error) {
	today, err := e.Repo.OpenDueOn(ctx, day)
	if err != nil {
		return domain.Agenda{}, fmt.Errorf("tasks due %s: %w", day, err)
	}
	undated, err := e.Repo.OpenUndated(ctx, UndatedAgendaLimit)
	if err != nil {
		return domain.Agenda{}, fmt.Errorf("undated tasks: %w", err)
	}
	return domain.Agenda{Day: day, Today: today, Undated: undated}, nil
}
