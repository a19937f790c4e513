package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/gofleet/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func okMessage() models.TelegramMessage {
	return models.TelegramMessage{
		Operation:      "run-command",
		Command:        "uptime",
		StartTime:      time.Now().Add(-5 * time.Second),
		Duration:       5 * time.Second,
		TotalHosts:     2,
		SucceededHosts: 2,
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), okMessage())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Dispatch Successful")
	assert.Contains(t, capturedBody.Text, "2 of 2 succeeded")
}

func TestSendNotification_FailureMessage(t *testing.T) {
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := okMessage()
	msg.SucceededHosts = 1
	msg.Failures = []models.TelegramFailure{{Host: "root@db:22", Error: "connection refused"}}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)

	assert.Contains(t, capturedBody.Text, "Dispatch Failed")
	assert.Contains(t, capturedBody.Text, "Failed Hosts")
	assert.Contains(t, capturedBody.Text, "root@db:22")
	assert.Contains(t, capturedBody.Text, "connection refused")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), okMessage())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), okMessage())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestFormatMessage_Success(t *testing.T) {
	svc := New(testLogger())

	msg := okMessage()
	msg.Operation = "execute-script"
	msg.Command = "python3 /tmp/deploy.py"
	msg.StartTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	msg.Duration = 3*time.Minute + 45*time.Second

	result := svc.formatMessage(msg)

	assert.Contains(t, result, "Dispatch Successful")
	assert.Contains(t, result, "execute-script")
	assert.Contains(t, result, "<code>python3 /tmp/deploy.py</code>")
	assert.Contains(t, result, "2024-01-15 10:30:00")
	assert.Contains(t, result, "3m45s")
	assert.NotContains(t, result, "Failed Hosts")
}

func TestFormatMessage_Failure(t *testing.T) {
	svc := New(testLogger())

	msg := okMessage()
	msg.Command = "cat /etc/<hosts>"
	msg.SucceededHosts = 0
	msg.Failures = []models.TelegramFailure{
		{Host: "root@a:22", Error: "exit status 1"},
		{Host: "root@b:22", Error: "timeout"},
	}

	result := svc.formatMessage(msg)

	assert.Contains(t, result, "Dispatch Failed")
	assert.Contains(t, result, "0 of 2 succeeded")
	assert.Contains(t, result, "&lt;hosts&gt;")
	assert.Less(t, strings.Index(result, "root@a:22"), strings.Index(result, "root@b:22"))
}

func TestFormatMessage_CapsFailureList(t *testing.T) {
	svc := New(testLogger())

	msg := okMessage()
	for i := 0; i < maxListedFailures+3; i++ {
		msg.Failures = append(msg.Failures, models.TelegramFailure{Host: fmt.Sprintf("root@h%d:22", i), Error: "down"})
	}

	result := svc.formatMessage(msg)

	assert.Contains(t, result, "root@h9:22")
	assert.NotContains(t, result, "root@h10:22")
	assert.Contains(t, result, "...and 3 more")
}

func TestNewMessage(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := models.MustParseHost("root@a")
	b := models.MustParseHost("root@b")
	agg := &models.Aggregate{
		Command:   "uptime",
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		Results: []models.HostResult{
			{Host: a, Status: models.StatusSuccess},
			{Host: b, Status: models.StatusFailure, Error: models.NewTransportError(b, "connect", errors.New("refused"))},
		},
	}

	msg := NewMessage("run-command", agg)

	assert.Equal(t, "run-command", msg.Operation)
	assert.Equal(t, "uptime", msg.Command)
	assert.Equal(t, 2*time.Second, msg.Duration)
	assert.Equal(t, 2, msg.TotalHosts)
	assert.Equal(t, 1, msg.SucceededHosts)
	require.Len(t, msg.Failures, 1)
	assert.Equal(t, "root@b:22", msg.Failures[0].Host)
	assert.Contains(t, msg.Failures[0].Error, "refused")
	assert.False(t, msg.Success())
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
		{"normal text", "normal text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeHTML(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, testConfig(), okMessage())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
