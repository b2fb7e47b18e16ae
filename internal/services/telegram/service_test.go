package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero804/kup/internal/models"
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

	msg := models.TelegramMessage{
		Host:        "laptop",
		Plan:        "home",
		Destination: "/media/usb/kup",
		StartTime:   time.Now().Add(-5 * time.Minute),
		Duration:    5 * time.Minute,
		Outcome:     models.Outcome{Kind: models.Success},
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	// Verify request
	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	// Verify body
	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.True(t, capturedBody.DisableNotification)
	assert.Contains(t, capturedBody.Text, "Backup Successful")
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

	msg := models.TelegramMessage{
		Host:        "laptop",
		Destination: "/media/usb/kup",
		StartTime:   time.Now(),
		Duration:    1 * time.Minute,
		Outcome: models.Outcome{
			Kind:        models.ErrorWithLog,
			Failure:     models.FailureSave,
			Message:     "Failed to save backup. See log file for more details.",
			LogFilePath: "/home/user/.cache/kup/home.log",
		},
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)

	// Failures are delivered with sound.
	assert.False(t, capturedBody.DisableNotification)
	assert.Contains(t, capturedBody.Text, "Backup Failed")
	assert.Contains(t, capturedBody.Text, "Failure: save_failed")
	assert.Contains(t, capturedBody.Text, "Failed to save backup")
	assert.Contains(t, capturedBody.Text, "/home/user/.cache/kup/home.log")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Host:    "laptop",
		Outcome: models.Outcome{Kind: models.Success},
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

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
				Body:       io.NopCloser(strings.NewReader(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Host:    "laptop",
		Outcome: models.Outcome{Kind: models.Success},
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
	assert.Contains(t, result.Error.Error(), "chat not found")
}

func TestSendNotification_APIErrorWithoutBody(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadGateway,
				Body:       io.NopCloser(strings.NewReader("<html>bad gateway</html>")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{
		Outcome: models.Outcome{Kind: models.Success},
	})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Equal(t, "telegram API returned status 502", result.Error.Error())
}

func TestFormatMessage_Success(t *testing.T) {
	msg := models.TelegramMessage{
		RunID:       "0b7c8f0e-5a43-4f7c-9d55-6f1d2f0c8a11",
		Plan:        "home",
		Host:        "laptop",
		Destination: "/media/usb/kup",
		StartTime:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Duration:    3*time.Minute + 45*time.Second,
		Outcome:     models.Outcome{Kind: models.Success},
		Progress: models.ProgressSnapshot{
			CopiedBytes: 1024 * 1024 * 100,
			TotalBytes:  1024 * 1024 * 1024 * 2,
			CopiedFiles: 50,
			TotalFiles:  1060,
		},
		HarmlessErrors: 2,
	}

	result := formatMessage(msg)

	assert.Contains(t, result, "Backup Successful")
	assert.Contains(t, result, "laptop")
	assert.Contains(t, result, "Plan:</b> home")
	assert.Contains(t, result, "/media/usb/kup")
	assert.Contains(t, result, "2024-01-15 10:30:00")
	assert.Contains(t, result, "3m45s")
	assert.Contains(t, result, "Files: 50/1060")
	assert.Contains(t, result, "Data: 100.0 MiB/2.0 GiB")
	assert.Contains(t, result, "Skipped files: 2")
	assert.Contains(t, result, "0b7c8f0e-5a43-4f7c-9d55-6f1d2f0c8a11")
	assert.NotContains(t, result, "Error Details")
}

func TestFormatMessage_Failure(t *testing.T) {
	tests := []struct {
		name     string
		outcome  models.Outcome
		progress models.ProgressSnapshot
		title    string
		contains []string
		missing  []string
	}{
		{
			name: "tool missing has no log",
			outcome: models.Outcome{
				Kind:    models.ErrorWithoutLog,
				Failure: models.FailureToolMissing,
				Message: "The bup program is needed but could not be found, maybe it is not installed?",
			},
			title:    "Backup Failed",
			contains: []string{"Failure: tool_missing", "The bup program is needed"},
			missing:  []string{"Log file"},
		},
		{
			name: "integrity check suggests repair",
			outcome: models.Outcome{
				Kind:        models.ErrorSuggestRepair,
				Failure:     models.FailureIntegrityCheck,
				Message:     "Failed backup integrity check.",
				LogFilePath: "/var/log/kup/home.log",
			},
			title:    "Backup Needs Repair",
			contains: []string{"Failure: integrity_check_failed", "Log file: <code>/var/log/kup/home.log</code>"},
		},
		{
			name: "message is escaped",
			outcome: models.Outcome{
				Kind:    models.ErrorWithLog,
				Failure: models.FailureAborted,
				Message: "aborted <by user>",
			},
			title:    "Backup Failed",
			contains: []string{"aborted &lt;by user&gt;"},
		},
		{
			name: "save interrupted part way",
			outcome: models.Outcome{
				Kind:    models.ErrorWithLog,
				Failure: models.FailureSave,
				Message: "Failed to save backup. See log file for more details.",
			},
			progress: models.ProgressSnapshot{Percent: 45},
			title:    "Backup Failed",
			contains: []string{"Saved before failing: 45%"},
		},
		{
			name: "tool output is truncated",
			outcome: models.Outcome{
				Kind:    models.ErrorWithLog,
				Failure: models.FailureIndexing,
				Message: strings.Repeat("x", maxDetailRunes+100),
			},
			title:    "Backup Failed",
			contains: []string{strings.Repeat("x", maxDetailRunes) + "…"},
			missing:  []string{strings.Repeat("x", maxDetailRunes+1), "Saved before failing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatMessage(models.TelegramMessage{
				Host:      "laptop",
				StartTime: time.Now(),
				Duration:  time.Minute,
				Outcome:   tt.outcome,
				Progress:  tt.progress,
			})

			assert.Contains(t, result, tt.title)
			assert.Contains(t, result, "Error Details")
			assert.NotContains(t, result, "Saved:")
			for _, c := range tt.contains {
				assert.Contains(t, result, c)
			}
			for _, m := range tt.missing {
				assert.NotContains(t, result, m)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    uint64
		expected string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.0 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 2, "2.0 GiB"},
		{1536 * 1024, "1.5 MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatBytes(tt.bytes)
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

	msg := models.TelegramMessage{
		Host:    "laptop",
		Outcome: models.Outcome{Kind: models.Success},
	}

	result, err := svc.SendNotification(ctx, testConfig(), msg)

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
