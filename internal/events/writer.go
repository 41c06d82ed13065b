package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"todoassist/internal/db"
)

// Event types recorded for task mutations.
const (
	TaskCreated  = "task.create"
	TaskUpdated  = "task.update"
	TaskDone     = "task.done"
	TaskDeleted  = "task.delete"
	TaskSplit    = "task.split"
	ReplyApplied = "reply.apply"
)

type Writer struct {
	Driver string
	Now    func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx. A zero entityID or empty runID is stored as NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, entityID int64, runID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Driver, `INSERT INTO events(ts,type,entity_id,run_id,payload_json) VALUES (?,?,?,?,?)`),
		ts, evtType, nullableID(entityID), nullable(runID), string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
