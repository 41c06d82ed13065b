package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoassist/internal/assistant"
	"todoassist/internal/db"
	"todoassist/internal/engine"
	"todoassist/internal/migrate"
	"todoassist/internal/notify"
	"todoassist/internal/server"
	todoassistsdk "todoassist/sdk/go"
)

var fixedNow = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

type fakeAssistant struct {
	reply string
	err   error
	got   []assistant.Message
}

func (f *fakeAssistant) Complete(_ context.Context, messages []assistant.Message) (string, error) {
	f.got = messages
	return f.reply, f.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

type testServer struct {
	URL    string
	Engine engine.Engine
	SDK    *todoassistsdk.Client
}

func newTestServer(t *testing.T, mutate func(*server.Config)) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, db.DriverSQLite))
	e := engine.New(conn, db.DriverSQLite, zerolog.Nop())
	e.Now = func() time.Time { return fixedNow }

	cfg := server.Config{Engine: e, BasePath: "/v0", Location: time.UTC, Log: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := server.New(cfg)
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	url := "http://" + ln.Addr().String()
	return &testServer{URL: url, Engine: e, SDK: todoassistsdk.New(url)}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr *todoassistsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, status, apiErr.StatusCode, apiErr.Body)
}

func fenced(body string) string {
	return "```json\n" + body + "\n```"
}

func ptr[T any](v T) *T { return &v }

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	parent, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "引っ越し", Date: ptr("2025年1月25日"), Priority: ptr(2)})
	require.NoError(t, err)
	require.NotNil(t, parent.Date)
	assert.Equal(t, "2025-01-25", *parent.Date)
	assert.Equal(t, 2, parent.Priority)

	child, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "荷造り", ParentID: &parent.ID})
	require.NoError(t, err)
	assert.Nil(t, child.Date)

	detail, err := ts.SDK.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, detail.Children, 1)
	assert.Equal(t, child.ID, detail.Children[0].ID)
	assert.Zero(t, detail.CompletionRate)

	_, err = ts.SDK.UpdateTask(ctx, child.ID, todoassistsdk.TaskPatch{"done": true})
	require.NoError(t, err)
	detail, err = ts.SDK.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, detail.CompletionRate)

	updated, err := ts.SDK.UpdateTask(ctx, parent.ID, todoassistsdk.TaskPatch{"date": nil})
	require.NoError(t, err)
	assert.Nil(t, updated.Date)
	assert.Equal(t, "引っ越し", updated.Title)

	top, err := ts.SDK.ListTasks(ctx, todoassistsdk.ListTasksOptions{TopLevel: true})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, parent.ID, top[0].ID)

	require.NoError(t, ts.SDK.DeleteTask(ctx, parent.ID))
	_, err = ts.SDK.GetTask(ctx, parent.ID)
	requireStatus(t, err, http.StatusNotFound)

	orphan, err := ts.SDK.GetTask(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan.ParentID)
}

func TestUpdateTaskDetachesParentOnNull(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	parent, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "p"})
	require.NoError(t, err)
	child, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "c", ParentID: &parent.ID})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)

	child, err = ts.SDK.UpdateTask(ctx, child.ID, todoassistsdk.TaskPatch{"parent_id": nil})
	require.NoError(t, err)
	assert.Nil(t, child.ParentID)
}

func TestTaskErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v0/tasks", map[string]any{"title": "a", "date": "tomorrow"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid_date")

	_, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "  "})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "a", ParentID: ptr(int64(404))})
	requireStatus(t, err, http.StatusNotFound)

	_, err = ts.SDK.UpdateTask(ctx, 404, todoassistsdk.TaskPatch{"done": true})
	requireStatus(t, err, http.StatusNotFound)

	task, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "a"})
	require.NoError(t, err)
	_, err = ts.SDK.UpdateTask(ctx, task.ID, todoassistsdk.TaskPatch{"title": nil})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = ts.SDK.UpdateTask(ctx, task.ID, todoassistsdk.TaskPatch{"parent_id": task.ID})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestApplyReplyReportsEachDirective(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	task, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "レポート", Date: ptr("2025-01-20")})
	require.NoError(t, err)

	reply := "了解しました。期限を延ばします。\n" + fenced(fmt.Sprintf(`{"actions": [
		{"type": "adjust_deadline", "updates": [{"task_id": %d, "new_date": "2025-02-01"}]},
		{"type": "split_task", "task_id": 999, "new_tasks": [{"title": "x"}]}
	]}`, task.ID))
	res, err := ts.SDK.ApplyReply(ctx, reply)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, reply, res.Reply)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.ActionsExecuted, 2)

	adjust := res.ActionsExecuted[0]
	assert.Equal(t, "adjust_deadline", adjust.Type)
	assert.True(t, adjust.Success)
	require.Len(t, adjust.UpdatedTasks, 1)
	require.NotNil(t, adjust.UpdatedTasks[0].OldDate)
	require.NotNil(t, adjust.UpdatedTasks[0].NewDate)
	assert.Equal(t, "2025-01-20", *adjust.UpdatedTasks[0].OldDate)
	assert.Equal(t, "2025-02-01", *adjust.UpdatedTasks[0].NewDate)

	split := res.ActionsExecuted[1]
	assert.Equal(t, "split_task", split.Type)
	assert.False(t, split.Success)
	assert.NotEmpty(t, split.Error)

	evts, err := ts.SDK.Events(ctx, res.RunID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	for _, evt := range evts {
		assert.Equal(t, res.RunID, evt.RunID)
	}
	assert.Equal(t, "reply.apply", evts[0].Type)
}

func TestApplyReplyWithoutDirectives(t *testing.T) {
	ts := newTestServer(t, nil)
	res, err := ts.SDK.ApplyReply(context.Background(), "今日はいい天気ですね。")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "今日はいい天気ですね。", res.Reply)
	assert.Empty(t, res.ActionsExecuted)
}

func TestChatAppliesAssistantReply(t *testing.T) {
	fake := &fakeAssistant{reply: fenced(`{"type": "create_tasks", "tasks": [{"title": "牛乳を買う", "date": "2025-01-21"}]}`)}
	ts := newTestServer(t, func(cfg *server.Config) { cfg.Assistant = fake })
	ctx := context.Background()
	_, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "既存タスク"})
	require.NoError(t, err)

	res, err := ts.SDK.Chat(ctx, "明日牛乳を買う", []todoassistsdk.ChatMessage{{Role: "user", Content: "こんにちは"}})
	require.NoError(t, err)
	require.Len(t, res.ActionsExecuted, 1)
	created := res.ActionsExecuted[0]
	assert.True(t, created.Success)
	require.Len(t, created.CreatedTasks, 1)
	assert.Equal(t, "牛乳を買う", created.CreatedTasks[0].Title)
	assert.Equal(t, created.Message, res.Reply)

	require.NotEmpty(t, fake.got)
	assert.Equal(t, assistant.RoleSystem, fake.got[0].Role)
	last := fake.got[len(fake.got)-1]
	assert.Equal(t, assistant.RoleUser, last.Role)
	assert.Equal(t, "明日牛乳を買う", last.Content)
	var prompt bytes.Buffer
	for _, m := range fake.got {
		prompt.WriteString(m.Content)
	}
	assert.Contains(t, prompt.String(), "既存タスク")
}

func TestChatErrors(t *testing.T) {
	t.Run("no assistant", func(t *testing.T) {
		ts := newTestServer(t, nil)
		_, err := ts.SDK.Chat(context.Background(), "hi", nil)
		requireStatus(t, err, http.StatusServiceUnavailable)
	})
	t.Run("upstream failure", func(t *testing.T) {
		fake := &fakeAssistant{err: errors.New("boom")}
		ts := newTestServer(t, func(cfg *server.Config) { cfg.Assistant = fake })
		_, err := ts.SDK.Chat(context.Background(), "hi", nil)
		requireStatus(t, err, http.StatusBadGateway)
	})
	t.Run("empty message", func(t *testing.T) {
		ts := newTestServer(t, func(cfg *server.Config) { cfg.Assistant = &fakeAssistant{} })
		_, err := ts.SDK.Chat(context.Background(), "", nil)
		requireStatus(t, err, http.StatusBadRequest)
	})
}

func TestAgendaAndNotify(t *testing.T) {
	sender := &recordingSender{}
	ts := newTestServer(t, func(cfg *server.Config) {
		cfg.NotifyEnabled = true
		cfg.Notifier = &notify.Scheduler{
			Source:   cfg.Engine,
			Sender:   sender,
			Location: time.UTC,
			Hour:     8,
			Log:      zerolog.Nop(),
			Now:      func() time.Time { return fixedNow },
		}
	})
	ctx := context.Background()
	_, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "歯医者", Date: ptr("2025-01-20"), Priority: ptr(3)})
	require.NoError(t, err)
	_, err = ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "本を読む"})
	require.NoError(t, err)

	agenda, err := ts.SDK.Agenda(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-20", agenda.Day)
	require.Len(t, agenda.Today, 1)
	require.Len(t, agenda.Undated, 1)

	res, err := ts.SDK.NotifyDaily(ctx)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "recording", res.Sender)
	assert.Contains(t, res.Message, "🔥 歯医者")
	assert.Contains(t, res.Message, "本を読む")

	res, err = ts.SDK.NotifyTest(ctx)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Len(t, sender.sent, 2)

	status, err := ts.SDK.NotifyStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, "recording", status.Sender)
	assert.Equal(t, "08:00 UTC", status.Schedule)
}

func TestNotifyUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.SDK.NotifyStatus(context.Background())
	requireStatus(t, err, http.StatusServiceUnavailable)
}

func TestJWTRequiredWhenSecretSet(t *testing.T) {
	const secret = "s3cret"
	ts := newTestServer(t, func(cfg *server.Config) {
		cfg.Auth = server.AuthConfig{JWTSecret: secret, Log: zerolog.Nop()}
	})
	ctx := context.Background()

	require.NoError(t, ts.SDK.Health(ctx))
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v0/openapi.json", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := ts.SDK.ListTasks(ctx, todoassistsdk.ListTasksOptions{})
	requireStatus(t, err, http.StatusUnauthorized)

	bad, err := server.IssueToken("other", "me", time.Hour, time.Now())
	require.NoError(t, err)
	ts.SDK.BearerToken = bad
	_, err = ts.SDK.ListTasks(ctx, todoassistsdk.ListTasksOptions{})
	requireStatus(t, err, http.StatusUnauthorized)

	expired, err := server.IssueToken(secret, "me", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	ts.SDK.BearerToken = expired
	_, err = ts.SDK.ListTasks(ctx, todoassistsdk.ListTasksOptions{})
	requireStatus(t, err, http.StatusUnauthorized)

	good, err := server.IssueToken(secret, "me", time.Hour, time.Now())
	require.NoError(t, err)
	ts.SDK.BearerToken = good
	_, err = ts.SDK.ListTasks(ctx, todoassistsdk.ListTasksOptions{})
	assert.NoError(t, err)
}

func TestIssueTokenRequiresSecretAndSubject(t *testing.T) {
	_, err := server.IssueToken("", "me", 0, time.Now())
	assert.Error(t, err)
	_, err = server.IssueToken("s", " ", 0, time.Now())
	assert.Error(t, err)
}

func TestChatPromptKeepsNewestTasks(t *testing.T) {
	fake := &fakeAssistant{reply: "了解です。"}
	ts := newTestServer(t, func(cfg *server.Config) { cfg.Assistant = fake })
	ctx := context.Background()
	var last engine.TaskCreateOptions
	for i := 0; i <= assistant.MaxPromptTasks; i++ {
		last = engine.TaskCreateOptions{Title: fmt.Sprintf("task-%03d", i)}
		_, err := ts.Engine.CreateTask(ctx, last)
		require.NoError(t, err)
	}

	_, err := ts.SDK.Chat(ctx, "hi", nil)
	require.NoError(t, err)
	require.NotEmpty(t, fake.got)
	assert.Contains(t, fake.got[0].Content, last.Title)
	assert.NotContains(t, fake.got[0].Content, "task-000")
}

func TestRawBodyDrivesCreateAndPatch(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v0/tasks", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	task, err := ts.SDK.CreateTask(ctx, todoassistsdk.CreateTaskInput{Title: "a", Date: ptr("2025-03-04")})
	require.NoError(t, err)
	require.NotNil(t, task.Date)

	task, err = ts.SDK.UpdateTask(ctx, task.ID, todoassistsdk.TaskPatch{"title": "b"})
	require.NoError(t, err)
	require.NotNil(t, task.Date)
	assert.Equal(t, "2025-03-04", *task.Date)

	task, err = ts.SDK.UpdateTask(ctx, task.ID, todoassistsdk.TaskPatch{"date": nil})
	require.NoError(t, err)
	assert.Equal(t, "b", task.Title)
	assert.Nil(t, task.Date)
}

func TestOpenAPIMarksErrorsAndSecurity(t *testing.T) {
	ts := newTestServer(t, func(cfg *server.Config) {
		cfg.Auth = server.AuthConfig{JWTSecret: "s3cret", Log: zerolog.Nop()}
	})
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Paths map[string]map[string]struct {
			Responses map[string]any        `json:"responses"`
			Security  []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))

	create := doc.Paths["/v0/tasks"]["post"]
	assert.Contains(t, create.Responses, "default")
	assert.Equal(t, []map[string][]string{{"bearerAuth": {}}}, create.Security)

	health := doc.Paths["/v0/health"]["get"]
	assert.Contains(t, health.Responses, "default")
	assert.Empty(t, health.Security)
}
