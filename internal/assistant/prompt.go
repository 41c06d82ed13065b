package assistant

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"

	"todoassist/internal/domain"
)

const systemPrompt = `You are a task management assistant. Answer the user in natural language.
When the user's request calls for changing their task list, include the changes as a
fenced json block in your reply. Use exactly this format:

` + "```json" + `
{"actions": [
  {"type": "create_tasks", "tasks": [{"title": "...", "date": "YYYY-MM-DD", "priority": 0}]},
  {"type": "split_task", "task_id": 1, "new_tasks": [{"title": "...", "date": "YYYY-MM-DD", "priority": 0}]},
  {"type": "adjust_deadline", "updates": [{"task_id": 1, "new_date": "YYYY-MM-DD"}]},
  {"type": "update_tasks", "updates": [{"task_id": 1, "title": "...", "date": "YYYY-MM-DD", "done": true, "priority": 0}]}
]}
` + "```" + `

Rules:
- Only use task ids from the current task list.
- date and priority are optional. A higher priority is more urgent.
- split_task replaces a task with smaller subtasks; the original is marked done.
- Omit new_date in adjust_deadline to remove a deadline.
- In update_tasks include only the fields that change.
- Do not include a json block when nothing needs to change.`

// MaxPromptTasks caps the task list sent upstream. When there are more tasks,
// open ones win over done ones, then higher priority, then newer ids.
const MaxPromptTasks = 200

type promptTask struct {
	ID       int64       `json:"id"`
	Title    string      `json:"title"`
	Date     domain.Date `json:"date"`
	Done     bool        `json:"done"`
	Priority int         `json:"priority"`
	ParentID *int64      `json:"parent_id,omitempty"`
}

// BuildMessages assembles the conversation sent upstream: the instructions, the
// current task list, prior turns and the new user message.
func BuildMessages(tasks []domain.Task, history []Message, message string, today domain.Date) []Message {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nToday is ")
	b.WriteString(today.String())
	b.WriteString(".\nCurrent tasks:\n")
	if len(tasks) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range promptTasks(tasks, MaxPromptTasks) {
		line, err := json.Marshal(promptTask{ID: t.ID, Title: t.Title, Date: t.Date, Done: t.Done, Priority: t.Priority, ParentID: t.ParentID})
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: b.String()})
	for _, h := range history {
		if h.Role != RoleUser && h.Role != RoleAssistant {
			continue
		}
		msgs = append(msgs, h)
	}
	return append(msgs, Message{Role: RoleUser, Content: message})
}

// promptTasks returns at most n tasks, chosen by relevance and listed by id.
func promptTasks(tasks []domain.Task, n int) []domain.Task {
	if len(tasks) <= n {
		return tasks
	}
	ranked := slices.Clone(tasks)
	slices.SortStableFunc(ranked, func(a, b domain.Task) int {
		if a.Done != b.Done {
			if !a.Done {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	ranked = ranked[:n]
	slices.SortFunc(ranked, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return ranked
}
