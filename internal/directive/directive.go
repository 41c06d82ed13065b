package directive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind string

const (
	KindSplitTask      Kind = "split_task"
	KindAdjustDeadline Kind = "adjust_deadline"
	KindCreateTasks    Kind = "create_tasks"
	KindUpdateTasks    Kind = "update_tasks"
)

// Directive is one of *SplitTask, *AdjustDeadline, *CreateTasks or *UpdateTasks.
type Directive interface {
	Kind() Kind
	// Validate checks required fields without touching the store.
	Validate() error
	directive()
}

var ErrUnknownKind = errors.New("unknown directive kind")

// ValidationError reports a directive that is structurally incomplete or malformed.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
}

// TaskRef is a task identifier that accepts a JSON number or a numeric string.
// Zero means the reference is missing.
type TaskRef int64

func (r *TaskRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = 0
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*r = 0
			return nil
		}
	} else {
		s = string(b)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("task id %s is not an integer", b)
	}
	*r = TaskRef(id)
	return nil
}

// OptionalString records whether a field was present in the JSON object.
// A JSON null is present with Null set and an empty Value.
type OptionalString struct {
	Set   bool
	Null  bool
	Value string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Null = true
		o.Value = ""
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Priority *int   `json:"priority"`
}

type SplitTask struct {
	TaskID   TaskRef    `json:"task_id"`
	NewTasks []TaskSpec `json:"new_tasks"`
}

type DeadlineUpdate struct {
	TaskID  TaskRef `json:"task_id"`
	NewDate string  `json:"new_date"`
}

type AdjustDeadline struct {
	Updates []DeadlineUpdate `json:"updates"`
}

type CreateTasks struct {
	Tasks []TaskSpec `json:"tasks"`
}

// TaskUpdate is a partial update; only fields present in the JSON are applied.
type TaskUpdate struct {
	TaskID   TaskRef        `json:"task_id"`
	Title    OptionalString `json:"title"`
	Date     OptionalString `json:"date"`
	Done     *bool          `json:"done"`
	Priority *int           `json:"priority"`
}

type UpdateTasks struct {
	Updates []TaskUpdate `json:"updates"`
}

func (*SplitTask) Kind() Kind      { return KindSplitTask }
func (*AdjustDeadline) Kind() Kind { return KindAdjustDeadline }
func (*CreateTasks) Kind() Kind    { return KindCreateTasks }
func (*UpdateTasks) Kind() Kind    { return KindUpdateTasks }

func (*SplitTask) directive()      {}
func (*AdjustDeadline) directive() {}
func (*CreateTasks) directive()    {}
func (*UpdateTasks) directive()    {}

func (d *SplitTask) Validate() error {
	if d.TaskID == 0 {
		return &ValidationError{Kind: KindSplitTask, Field: "task_id", Reason: "is required"}
	}
	if len(d.NewTasks) == 0 {
		return &ValidationError{Kind: KindSplitTask, Field: "new_tasks", Reason: "must not be empty"}
	}
	return validateSpecs(KindSplitTask, "new_tasks", d.NewTasks)
}

func (d *AdjustDeadline) Validate() error {
	if len(d.Updates) == 0 {
		return &ValidationError{Kind: KindAdjustDeadline, Field: "updates", Reason: "must not be empty"}
	}
	return nil
}

func (d *CreateTasks) Validate() error {
	if len(d.Tasks) == 0 {
		return &ValidationError{Kind: KindCreateTasks, Field: "tasks", Reason: "must not be empty"}
	}
	return validateSpecs(KindCreateTasks, "tasks", d.Tasks)
}

func (d *UpdateTasks) Validate() error {
	if len(d.Updates) == 0 {
		return &ValidationError{Kind: KindUpdateTasks, Field: "updates", Reason: "must not be empty"}
	}
	for i, u := range d.Updates {
		if u.Title.Set && !u.Title.Null && strings.TrimSpace(u.Title.Value) == "" {
			return &ValidationError{Kind: KindUpdateTasks, Field: fmt.Sprintf("updates[%d].title", i), Reason: "must not be empty"}
		}
	}
	return nil
}

func validateSpecs(kind Kind, field string, specs []TaskSpec) error {
	for i, s := range specs {
		if strings.TrimSpace(s.Title) == "" {
			return &ValidationError{Kind: kind, Field: fmt.Sprintf("%s[%d].title", field, i), Reason: "is required"}
		}
	}
	return nil
}

// Decode turns a candidate into a typed directive. Candidates whose type is not
// one of the known kinds return ErrUnknownKind; a known kind whose body does not
// decode returns a *ValidationError.
func Decode(c Candidate) (Directive, error) {
	var d Directive
	switch Kind(c.Type) {
	case KindSplitTask:
		d = &SplitTask{}
	case KindAdjustDeadline:
		d = &AdjustDeadline{}
	case KindCreateTasks:
		d = &CreateTasks{}
	case KindUpdateTasks:
		d = &UpdateTasks{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, c.Type)
	}
	if err := json.Unmarshal(c.Raw, d); err != nil {
		return nil, &ValidationError{Kind: d.Kind(), Reason: "malformed directive: " + err.Error()}
	}
	return d, nil
}
