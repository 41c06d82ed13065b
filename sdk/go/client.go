package todoassistsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal todoassist HTTP API client.
type Client struct {
	BaseURL string
	// BasePath is the API prefix, "/v0" when empty.
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 90 * time.Second,
	}
}

type Task struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Date      *string `json:"date"`
	Done      bool    `json:"done"`
	Priority  int     `json:"priority"`
	ParentID  *int64  `json:"parent_id,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type TaskDetail struct {
	Task
	Children       []Task  `json:"children"`
	CompletionRate float64 `json:"completion_rate"`
}

type CreateTaskInput struct {
	Title    string  `json:"title"`
	Date     *string `json:"date,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"`
}

// TaskPatch is sent as-is. Set a key to nil to clear "date" or "parent_id".
type TaskPatch map[string]any

type ListTasksOptions struct {
	Done     *bool
	ParentID int64
	TopLevel bool
	Limit    int
}

type CreatedTask struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Date     *string `json:"date"`
	Priority int     `json:"priority"`
}

type TaskChange struct {
	TaskID   int64   `json:"task_id"`
	Title    string  `json:"title"`
	OldDate  *string `json:"old_date,omitempty"`
	NewDate  *string `json:"new_date,omitempty"`
	Date     *string `json:"date,omitempty"`
	Done     *bool   `json:"done,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// Outcome is the result of one directive found in a reply.
type Outcome struct {
	Type           string        `json:"type"`
	Success        bool          `json:"success"`
	Message        string        `json:"message,omitempty"`
	Error          string        `json:"error,omitempty"`
	OriginalTaskID int64         `json:"original_task_id,omitempty"`
	CreatedTasks   []CreatedTask `json:"created_tasks,omitempty"`
	UpdatedTasks   []TaskChange  `json:"updated_tasks,omitempty"`
}

type ApplyResult struct {
	Reply           string    `json:"reply"`
	ActionsExecuted []Outcome `json:"actions_executed"`
	RunID           string    `json:"run_id"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Agenda struct {
	Day     string `json:"day"`
	Today   []Task `json:"today"`
	Undated []Task `json:"undated"`
}

type NotifyStatus struct {
	Enabled   bool       `json:"enabled"`
	Running   bool       `json:"running"`
	Sender    string     `json:"sender"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type NotifyResult struct {
	Sent    bool   `json:"sent"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	EntityID *int64         `json:"entity_id,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]Task, error) {
	q := url.Values{}
	if opts.Done != nil {
		q.Set("done", strconv.FormatBool(*opts.Done))
	}
	if opts.ParentID != 0 {
		q.Set("parent_id", strconv.FormatInt(opts.ParentID, 10))
	}
	if opts.TopLevel {
		q.Set("top_level", "true")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetTask(ctx context.Context, id int64) (TaskDetail, error) {
	var resp TaskDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, id int64, patch TaskPatch) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d", id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, nil)
}

// Agenda fetches the open tasks due on day. An empty day means today on the server.
func (c *Client) Agenda(ctx context.Context, day string) (Agenda, error) {
	endpoint := "agenda"
	if day != "" {
		endpoint += "?day=" + url.QueryEscape(day)
	}
	var resp Agenda
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApplyReply executes the directives embedded in an assistant reply.
func (c *Client) ApplyReply(ctx context.Context, reply string) (ApplyResult, error) {
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, "actions/apply", map[string]string{"reply": reply}, &resp)
	return resp, err
}

// Chat sends message to the assistant and applies its reply.
func (c *Client) Chat(ctx context.Context, message string, history []ChatMessage) (ApplyResult, error) {
	body := map[string]any{"message": message}
	if len(history) > 0 {
		body["history"] = history
	}
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, "chat", body, &resp)
	return resp, err
}

func (c *Client) NotifyStatus(ctx context.Context) (NotifyStatus, error) {
	var resp NotifyStatus
	err := c.do(ctx, http.MethodGet, "notify/status", nil, &resp)
	return resp, err
}

func (c *Client) NotifyTest(ctx context.Context) (NotifyResult, error) {
	var resp NotifyResult
	err := c.do(ctx, http.MethodPost, "notify/test", nil, &resp)
	return resp, err
}

func (c *Client) NotifyDaily(ctx context.Context) (NotifyResult, error) {
	var resp NotifyResult
	err := c.do(ctx, http.MethodPost, "notify/daily", nil, &resp)
	return resp, err
}

// Events lists recent events, newest first. A non-empty runID narrows them to one applied reply.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]Event, error) {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
