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
)

// newTasks parses dates and fills priority defaults before anything is written.
func newTasks(specs []directive.TaskSpec, defaultPriority func(i int) int) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0, len(specs))
	for i, s := range specs {
		date, err := directive.ParseDate(s.Date)
		if err != nil {
			return nil, err
		}
		priority := defaultPriority(i)
		if s.Priority != nil {
			priority = *s.Priority
		}
		tasks = append(tasks, domain.Task{Title: strings.TrimSpace(s.Title), Date: date, Priority: priority})
	}
	return tasks, nil
}

func (e Engine) insertTasks(ctx context.Context, tx *sql.Tx, runID string, tasks []domain.Task) ([]CreatedTask, error) {
	now := e.stamp()
	created := make([]CreatedTask, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		t.CreatedAt, t.UpdatedAt = now, now
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, err
		}
		payload := events.EventPayload{"title": t.Title, "priority": t.Priority, "date": t.Date.String()}
		if t.ParentID != nil {
			payload["parent_id"] = *t.ParentID
		}
		if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ID, runID, payload); err != nil {
			return nil, err
		}
		created = append(created, createdOf(*t))
	}
	return created, nil
}

// splitTask creates one child per entry and retires the original by marking it
// done. Sub-items without a priority take their position index.
func (e Engine) splitTask(ctx context.Context, runID string, d *directive.SplitTask) (Outcome, error) {
	subtasks, err := newTasks(d.NewTasks, func(i int) int { return i })
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		original, err := e.getTask(ctx, tx, int64(d.TaskID))
		if err != nil {
			return err
		}
		for i := range subtasks {
			subtasks[i].ParentID = &original.ID
		}
		created, err := e.insertTasks(ctx, tx, runID, subtasks)
		if err != nil {
			return err
		}
		original.Done = true
		original.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, original); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TaskSplit, original.ID, runID, events.EventPayload{"subtasks": len(created)}); err != nil {
			return err
		}
		out = Outcome{
			OriginalTaskID: original.ID,
			CreatedTasks:   created,
			Message:        fmt.Sprintf("split task %q into %d subtasks", original.Title, len(created)),
		}
		return nil
	})
	return out, err
}

// adjustDeadline sets or clears deadlines. Entries without a task id or whose
// task does not exist are skipped.
func (e Engine) adjustDeadline(ctx context.Context, runID string, d *directive.AdjustDeadline) (Outcome, error) {
	var out Outcome
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		changes := []TaskChange{}
		for _, u := range d.Updates {
			if u.TaskID == 0 {
				continue
			}
			t, err := e.getTask(ctx, tx, int64(u.TaskID))
			var nf *NotFoundError
			if errors.As(err, &nf) {
				e.Log.Debug().Int64("task_id", nf.TaskID).Msg("adjust_deadline: skipping unknown task")
				continue
			}
			if err != nil {
				return err
			}
			newDate, err := directive.ParseDate(u.NewDate)
			if err != nil {
				return err
			}
			oldDate := t.Date
			t.Date = newDate
			t.UpdatedAt = e.stamp()
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
			if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.ID, runID, events.EventPayload{
				"old_date": oldDate.String(),
				"new_date": newDate.String(),
			}); err != nil {
				return err
			}
			changes = append(changes, TaskChange{TaskID: t.ID, Title: t.Title, OldDate: &oldDate, NewDate: &newDate})
		}
		out = Outcome{
			UpdatedTasks: changes,
			Message:      fmt.Sprintf("adjusted the deadline of %d tasks", len(changes)),
		}
		return nil
	})
	return out, err
}

// createTasks adds top-level tasks with priority 0 unless given.
func (e Engine) createTasks(ctx context.Context, runID string, d *directive.CreateTasks) (Outcome, error) {
	tasks, err := newTasks(d.Tasks, func(int) int { return 0 })
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		created, err := e.insertTasks(ctx, tx, runID, tasks)
		if err != nil {
			return err
		}
		out = Outcome{CreatedTasks: created, Message: fmt.Sprintf("created %d tasks", len(created))}
		return nil
	})
	return out, err
}

// updateTasks applies partial updates. Only fields present in an entry change;
// an empty or null date clears the deadline.
func (e Engine) updateTasks(ctx context.Context, runID string, d *directive.UpdateTasks) (Outcome, error) {
	var out Outcome
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		changes := []TaskChange{}
		for _, u := range d.Updates {
			if u.TaskID == 0 {
				continue
			}
			t, err := e.getTask(ctx, tx, int64(u.TaskID))
			var nf *NotFoundError
			if errors.As(err, &nf) {
				e.Log.Debug().Int64("task_id", nf.TaskID).Msg("update_tasks: skipping unknown task")
				continue
			}
			if err != nil {
				return err
			}
			payload := events.EventPayload{}
			if u.Title.Set && !u.Title.Null {
				t.Title = strings.TrimSpace(u.Title.Value)
				payload["title"] = t.Title
			}
			if u.Date.Set {
				date, err := directive.ParseDate(u.Date.Value)
				if err != nil {
					return err
				}
				t.Date = date
				payload["date"] = date.String()
			}
			if u.Done != nil {
				t.Done = *u.Done
				payload["done"] = t.Done
			}
			if u.Priority != nil {
				t.Priority = *u.Priority
				payload["priority"] = t.Priority
			}
			t.UpdatedAt = e.stamp()
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
			if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.ID, runID, payload); err != nil {
				return err
			}
			date, done, priority := t.Date, t.Done, t.Priority
			changes = append(changes, TaskChange{TaskID: t.ID, Title: t.Title, Date: &date, Done: &done, Priority: &priority})
		}
		out = Outcome{UpdatedTasks: changes, Message: fmt.Sprintf("updated %d tasks", len(changes))}
		return nil
	})
	return out, err
}
