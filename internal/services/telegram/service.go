// Package telegram sends backup outcome notifications through the Telegram bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zero804/kup/internal/models"
)

// maxDetailRunes caps the outcome message, which may quote tool output.
const maxDetailRunes = 1024

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendNotification reports the outcome of a backup run. Successful runs are
// delivered silently, failures with a notification sound.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Stringer("outcome", msg.Outcome.Kind).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:              cfg.ChatID,
		Text:                formatMessage(msg),
		ParseMode:           "HTML",
		DisableNotification: msg.Outcome.Kind == models.Success,
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		result.Error = err
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

// checkResponse turns a non-OK reply into an error carrying the API's description.
func checkResponse(resp *http.Response) error {
	var reply apiResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(data, &reply)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if reply.Description != "" {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, reply.Description)
	}
	return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
}

func title(o models.Outcome) string {
	switch o.Kind {
	case models.Success:
		return "✅ <b>Backup Successful</b>"
	case models.ErrorSuggestRepair:
		return "🛠 <b>Backup Needs Repair</b>"
	default:
		return "❌ <b>Backup Failed</b>"
	}
}

func formatMessage(msg models.TelegramMessage) string {
	o := msg.Outcome
	p := msg.Progress

	lines := []string{title(o), ""}
	field := func(label, value string) {
		lines = append(lines, fmt.Sprintf("<b>%s:</b> %s", label, value))
	}

	field("🖥 Host", html.EscapeString(msg.Host))
	if msg.Plan != "" {
		field("📋 Plan", html.EscapeString(msg.Plan))
	}
	field("📁 Destination", html.EscapeString(msg.Destination))
	field("⏰ Started", msg.StartTime.Format("2006-01-02 15:04:05"))
	field("⏱ Duration", msg.Duration.Round(time.Second).String())
	lines = append(lines, "")

	if o.Kind == models.Success {
		lines = append(lines,
			"<b>📊 Saved:</b>",
			fmt.Sprintf("  • Files: %d/%d", p.CopiedFiles, p.TotalFiles),
			fmt.Sprintf("  • Data: %s/%s", formatBytes(p.CopiedBytes), formatBytes(p.TotalBytes)),
		)
		if msg.HarmlessErrors > 0 {
			lines = append(lines, fmt.Sprintf("  • Skipped files: %d", msg.HarmlessErrors))
		}
	} else {
		lines = append(lines,
			"<b>⚠️ Error Details:</b>",
			fmt.Sprintf("  • Failure: %s", o.Failure),
			fmt.Sprintf("  • Error: <code>%s</code>", html.EscapeString(truncate(o.Message, maxDetailRunes))),
		)
		if p.Percent > 0 {
			lines = append(lines, fmt.Sprintf("  • Saved before failing: %d%%", p.Percent))
		}
		if o.LogFilePath != "" {
			lines = append(lines, fmt.Sprintf("  • Log file: <code>%s</code>", html.EscapeString(o.LogFilePath)))
		}
	}

	if msg.RunID != "" {
		lines = append(lines, "", fmt.Sprintf("🔖 <b>Run:</b> <code>%s</code>", html.EscapeString(msg.RunID)))
	}

	return strings.Join(lines, "\n") + "\n"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// formatBytes renders a size with binary units.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
