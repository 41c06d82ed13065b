package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	linePushEndpoint   = "https://api.line.me/v2/bot/message/push"
	defaultSendTimeout = 10 * time.Second
)

// Sender delivers a text message to the user.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// LINE pushes text messages through the LINE Messaging API.
type LINE struct {
	ChannelAccessToken string
	// To is the user, group or room id receiving the push.
	To         string
	Endpoint   string
	HTTPClient *http.Client
}

type linePush struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (l *LINE) Name() string { return "line" }

func (l *LINE) Send(ctx context.Context, text string) error {
	if l.ChannelAccessToken == "" || l.To == "" {
		return errors.New("line: channel access token and user id are required")
	}
	data, err := json.Marshal(linePush{To: l.To, Messages: []lineMessage{{Type: "text", Text: text}}})
	if err != nil {
		return err
	}
	endpoint := l.Endpoint
	if endpoint == "" {
		endpoint = linePushEndpoint
	}
	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.ChannelAccessToken)
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("line: push: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("line: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// LogSender writes messages to the log when no messaging provider is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Send(_ context.Context, text string) error {
	s.Log.Info().Str("sender", "log").Msg(text)
	return nil
}
