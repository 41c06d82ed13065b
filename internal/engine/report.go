package engine

import (
	"fmt"
	"strings"

	"todoassist/internal/directive"
	"todoassist/internal/domain"
)

// Report is the result of applying one assistant reply.
type Report struct {
	RunID string `json:"run_id"`
	// Success is false only when the pipeline itself aborted. Individual
	// directive failures are reported in Outcomes.
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Error    string    `json:"error,omitempty"`
	Outcomes []Outcome `json:"actions_executed"`
}

// Outcome is the result of one directive, in extraction order.
type Outcome struct {
	Type           directive.Kind `json:"type"`
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	Error          string         `json:"error,omitempty"`
	OriginalTaskID int64          `json:"original_task_id,omitempty"`
	CreatedTasks   []CreatedTask  `json:"created_tasks,omitempty"`
	UpdatedTasks   []TaskChange   `json:"updated_tasks,omitempty"`
}

type CreatedTask struct {
	ID       int64       `json:"id"`
	Title    string      `json:"title"`
	Date     domain.Date `json:"date"`
	Priority int         `json:"priority"`
}

// TaskChange describes one modified task. Deadline adjustments fill OldDate and
// NewDate; partial updates fill the resulting Date, Done and Priority.
type TaskChange struct {
	TaskID   int64        `json:"task_id"`
	Title    string       `json:"title"`
	OldDate  *domain.Date `json:"old_date,omitempty"`
	NewDate  *domain.Date `json:"new_date,omitempty"`
	Date     *domain.Date `json:"date,omitempty"`
	Done     *bool        `json:"done,omitempty"`
	Priority *int         `json:"priority,omitempty"`
}

func createdOf(t domain.Task) CreatedTask {
	return CreatedTask{ID: t.ID, Title: t.Title, Date: t.Date, Priority: t.Priority}
}

func failed(kind directive.Kind, err error) Outcome {
	return Outcome{Type: kind, Success: false, Error: err.Error()}
}

// Reply is the text shown to the user. It is the original reply unless the reply
// held nothing but fenced directives, in which case the outcome summaries are
// joined instead.
func (r Report) Reply() string {
	if len(r.Outcomes) == 0 || directive.StripFenced(r.Message) != "" {
		return r.Message
	}
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Success {
			lines = append(lines, o.Message)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s failed: %s", o.Type, o.Error))
	}
	return strings.Join(lines, "\n")
}

// Failures counts outcomes that did not apply.
func (r Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Success {
			n++
		}
	}
	return n
}
