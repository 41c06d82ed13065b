package server

import (
	"encoding/json"

	"todoassist/internal/assistant"
	"todoassist/internal/domain"
	"todoassist/internal/engine"
	"todoassist/internal/notify"
)

// Request payloads

type CreateTaskRequest struct {
	Title string `json:"title" example:"買い物"`
	// Date accepts 2025-01-20, 2025年1月20日 or 2025-1-20.
	Date     *string `json:"date,omitempty" example:"2025-01-20"`
	Priority *int    `json:"priority,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title *string `json:"title,omitempty"`
	// Date null or "" clears the deadline.
	Date     *string `json:"date,omitempty" nullable:"true"`
	Done     *bool   `json:"done,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	// ParentID null detaches the task from its parent.
	ParentID *int64 `json:"parent_id,omitempty" nullable:"true"`
}

type ApplyRequest struct {
	Reply string `json:"reply" doc:"Assistant reply that may embed json directives"`
}

type ChatRequest struct {
	Message string              `json:"message" minLength:"1"`
	History []assistant.Message `json:"history,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Date      *string `json:"date" format:"date"`
	Done      bool    `json:"done"`
	Priority  int     `json:"priority"`
	ParentID  *int64  `json:"parent_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type TaskDetailResponse struct {
	TaskResponse
	Children       []TaskResponse `json:"children"`
	CompletionRate float64        `json:"completion_rate"`
}

type taskList struct {
	Items []TaskResponse `json:"items"`
}

type ApplyResponse struct {
	Reply           string           `json:"reply"`
	ActionsExecuted []engine.Outcome `json:"actions_executed"`
	RunID           string           `json:"run_id"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
}

type NotifyStatusResponse struct {
	Enabled bool `json:"enabled"`
	notify.Status
}

type NotifyResult struct {
	Sent    bool   `json:"sent"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type EventResponse struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts" format:"date-time"`
	Type     string         `json:"type"`
	EntityID *int64         `json:"entity_id,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	Payload  map[string]any `json:"payload"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Title:     t.Title,
		Date:      t.Date.Ptr(),
		Done:      t.Done,
		Priority:  t.Priority,
		ParentID:  t.ParentID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func applyResponse(r engine.Report) ApplyResponse {
	return ApplyResponse{
		Reply:           r.Reply(),
		ActionsExecuted: r.Outcomes,
		RunID:           r.RunID,
		Success:         r.Success,
		Error:           r.Error,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:       evt.ID,
		TS:       evt.TS,
		Type:     evt.Type,
		EntityID: evt.EntityID,
		RunID:    evt.RunID,
		Payload:  payload,
	}
}

type AgendaResponse struct {
	Day     string         `json:"day" format:"date"`
	Today   []TaskResponse `json:"today"`
	Undated []TaskResponse `json:"undated"`
}
