package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Directive {
	t.Helper()
	cs := Extract("```json\n" + raw + "\n```")
	require.Len(t, cs, 1)
	d, err := Decode(cs[0])
	require.NoError(t, err)
	return d
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(Candidate{Type: "delete_everything", Raw: []byte(`{"type":"delete_everything"}`)})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode(Candidate{Raw: []byte(`{"title":"x"}`)})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode(Candidate{Type: "split_task", Raw: []byte(`{"type":"split_task","task_id":"abc"}`)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, KindSplitTask, ve.Kind)

	_, err = Decode(Candidate{Type: "create_tasks", Raw: []byte(`{"type":"create_tasks","tasks":{"title":"x"}}`)})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, KindCreateTasks, ve.Kind)
}

func TestDecodeSplitTask(t *testing.T) {
	d := decode(t, `{"type": "split_task", "task_id": "7", "new_tasks": [{"title": "調べる", "date": "2025年1月20日"}, {"title": "書く", "priority": 5}]}`)
	split, ok := d.(*SplitTask)
	require.True(t, ok)
	assert.Equal(t, TaskRef(7), split.TaskID)
	require.Len(t, split.NewTasks, 2)
	assert.Equal(t, "2025年1月20日", split.NewTasks[0].Date)
	assert.Nil(t, split.NewTasks[0].Priority)
	require.NotNil(t, split.NewTasks[1].Priority)
	assert.Equal(t, 5, *split.NewTasks[1].Priority)
	assert.NoError(t, split.Validate())
}

func TestDecodeUpdateTasksPresence(t *testing.T) {
	d := decode(t, `{"type": "update_tasks", "updates": [{"task_id": 7, "done": true}, {"task_id": 8, "date": null, "title": null}, {"task_id": 9, "date": "2025-01-20", "priority": 0}]}`)
	u := d.(*UpdateTasks)
	require.Len(t, u.Updates, 3)

	first := u.Updates[0]
	assert.False(t, first.Title.Set)
	assert.False(t, first.Date.Set)
	assert.Nil(t, first.Priority)
	require.NotNil(t, first.Done)
	assert.True(t, *first.Done)

	second := u.Updates[1]
	assert.True(t, second.Date.Set)
	assert.True(t, second.Date.Null)
	assert.True(t, second.Title.Null)

	third := u.Updates[2]
	assert.Equal(t, "2025-01-20", third.Date.Value)
	require.NotNil(t, third.Priority)
	assert.Equal(t, 0, *third.Priority)
	assert.NoError(t, u.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		d     Directive
		field string
	}{
		{name: "split without task", d: &SplitTask{NewTasks: []TaskSpec{{Title: "a"}}}, field: "task_id"},
		{name: "split without subtasks", d: &SplitTask{TaskID: 1}, field: "new_tasks"},
		{name: "split subtask without title", d: &SplitTask{TaskID: 1, NewTasks: []TaskSpec{{Title: "a"}, {Title: " "}}}, field: "new_tasks[1].title"},
		{name: "adjust without updates", d: &AdjustDeadline{}, field: "updates"},
		{name: "create without tasks", d: &CreateTasks{}, field: "tasks"},
		{name: "create without title", d: &CreateTasks{Tasks: []TaskSpec{{Date: "2025-01-20"}}}, field: "tasks[0].title"},
		{name: "update without updates", d: &UpdateTasks{}, field: "updates"},
		{name: "update with blank title", d: &UpdateTasks{Updates: []TaskUpdate{{TaskID: 1, Title: OptionalString{Set: true}}}}, field: "updates[0].title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.d.Kind(), ve.Kind)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateAcceptsEntriesWithoutTaskID(t *testing.T) {
	assert.NoError(t, (&AdjustDeadline{Updates: []DeadlineUpdate{{NewDate: "2025-01-20"}}}).Validate())
	assert.NoError(t, (&UpdateTasks{Updates: []TaskUpdate{{}}}).Validate())
}
