package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoassist/internal/domain"
)

var tokyo = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
	return loc
}()

type fakeSource struct {
	agenda domain.Agenda
	err    error
	days   []domain.Date
}

func (f *fakeSource) Agenda(_ context.Context, day domain.Date) (domain.Agenda, error) {
	f.days = append(f.days, day)
	a := f.agenda
	a.Day = day
	return a, f.err
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	err    error
	onSend func()
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	if r.onSend != nil {
		r.onSend()
	}
	return r.err
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestBuildDailyMessage(t *testing.T) {
	msg := BuildDailyMessage(domain.Agenda{
		Day: domain.NewDate(2025, time.January, 20),
		Today: []domain.Task{
			{Title: "提出", Priority: 3},
			{Title: "買い物", Priority: 1},
			{Title: "散歩"},
		},
		Undated: []domain.Task{
			{Title: "a", Priority: 5},
			{Title: "b"},
			{Title: "c"},
			{Title: "d"},
			{Title: "e"},
		},
	})
	lines := strings.Split(msg, "\n")
	assert.Equal(t, "📅 2025年01月20日のタスクです。", lines[1])
	assert.Contains(t, lines, "1. 🔥 提出")
	assert.Contains(t, lines, "2. ⭐ 買い物")
	assert.Contains(t, lines, "3. 📌 散歩")
	assert.Contains(t, lines, "• 🔥 a")
	assert.NotContains(t, msg, "• 📌 d")
	assert.Contains(t, lines, "…ほか2件")
	assert.Equal(t, "💪 今日も一日がんばりましょう！", lines[len(lines)-1])
}

func TestBuildDailyMessageEmpty(t *testing.T) {
	msg := BuildDailyMessage(domain.Agenda{Day: domain.NewDate(2025, time.January, 20)})
	assert.Contains(t, msg, "✅ 今日が期限のタスクはありません！")
	assert.NotContains(t, msg, "期限なしのタスク")
}

func TestLINESend(t *testing.T) {
	var got linePush
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	l := &LINE{ChannelAccessToken: "token", To: "U123", Endpoint: srv.URL}
	require.NoError(t, l.Send(context.Background(), "hello"))
	assert.Equal(t, "U123", got.To)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, lineMessage{Type: "text", Text: "hello"}, got.Messages[0])
}

func TestLINESendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)"}`))
	}))
	defer srv.Close()

	err := (&LINE{ChannelAccessToken: "token", To: "U123", Endpoint: srv.URL}).Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	assert.Error(t, (&LINE{}).Send(context.Background(), "hello"))
}

func TestNextRun(t *testing.T) {
	s := &Scheduler{Location: tokyo, Hour: 8}
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{name: "before", at: time.Date(2025, 1, 20, 7, 30, 0, 0, tokyo), want: time.Date(2025, 1, 20, 8, 0, 0, 0, tokyo)},
		{name: "exactly at", at: time.Date(2025, 1, 20, 8, 0, 0, 0, tokyo), want: time.Date(2025, 1, 21, 8, 0, 0, 0, tokyo)},
		{name: "after", at: time.Date(2025, 1, 20, 21, 0, 0, 0, tokyo), want: time.Date(2025, 1, 21, 8, 0, 0, 0, tokyo)},
		{name: "utc input", at: time.Date(2025, 1, 19, 23, 30, 0, 0, time.UTC), want: time.Date(2025, 1, 21, 8, 0, 0, 0, tokyo)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextRun(tt.at)), "got %s", s.NextRun(tt.at))
		})
	}
}

func TestSendDailyUsesLocalDay(t *testing.T) {
	src := &fakeSource{agenda: domain.Agenda{Today: []domain.Task{{Title: "提出", Priority: 3}}}}
	sender := &recordingSender{}
	s := &Scheduler{
		Source:   src,
		Sender:   sender,
		Location: tokyo,
		Hour:     8,
		Now:      func() time.Time { return time.Date(2025, 1, 19, 23, 0, 0, 0, time.UTC) },
	}

	msg, err := s.SendDaily(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.Date{domain.NewDate(2025, time.January, 20)}, src.days)
	assert.Equal(t, []string{msg}, sender.messages())
	assert.Contains(t, msg, "1. 🔥 提出")

	st := s.Status()
	assert.Equal(t, "recording", st.Sender)
	assert.Equal(t, "08:00 JST", st.Schedule)
	require.NotNil(t, st.LastRun)
	assert.Empty(t, st.LastError)
}

func TestSendDailyRecordsFailures(t *testing.T) {
	s := &Scheduler{Source: &fakeSource{}, Sender: &recordingSender{err: errors.New("push rejected")}, Location: tokyo}
	_, err := s.SendDaily(context.Background())
	require.Error(t, err)
	assert.Equal(t, "push rejected", s.Status().LastError)

	s = &Scheduler{Source: &fakeSource{err: errors.New("db down")}, Sender: &recordingSender{}, Location: tokyo}
	_, err = s.SendDaily(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRunSendsAtScheduledTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &recordingSender{onSend: cancel}
	s := &Scheduler{
		Source:   &fakeSource{},
		Sender:   sender,
		Location: tokyo,
		Hour:     8,
		Log:      zerolog.Nop(),
		Now: func() time.Time {
			return time.Date(2025, 1, 20, 7, 59, 59, int(990*time.Millisecond), tokyo)
		},
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not fire")
	}
	assert.Len(t, sender.messages(), 1)
	assert.False(t, s.Status().Running)
}

func TestSendTest(t *testing.T) {
	sender := &recordingSender{}
	s := &Scheduler{Sender: sender, Location: tokyo, Now: func() time.Time { return time.Date(2025, 1, 20, 8, 0, 0, 0, tokyo) }}
	msg, err := s.SendTest(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg, "2025年01月20日 08:00:00")
	assert.Len(t, sender.messages(), 1)
}

func TestConnectivityMessage(t *testing.T) {
	msg := ConnectivityMessage(time.Date(2025, 3, 4, 5, 6, 7, 0, tokyo))
	assert.True(t, strings.HasPrefix(msg, "🧪 テスト通知です"))
	assert.Contains(t, msg, "2025年03月04日 05:06:07")
}
