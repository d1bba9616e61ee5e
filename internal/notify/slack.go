package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"recon_automation/internal/apperrors"
)

const (
	colorSuccess = "#36a64f"
	colorError   = "#ff0000"
)

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

// Slack posts outcome messages to an incoming webhook.
type Slack struct {
	url    string
	client *http.Client
}

func NewSlack(url string, timeout time.Duration) *Slack {
	return &Slack{url: url, client: &http.Client{Timeout: timeout}}
}

func section(text string) slackBlock {
	return slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}}
}

func buildSlackPayload(msg Message) slackPayload {
	color := colorSuccess
	if msg.Status != StatusSuccess {
		color = colorError
	}
	blocks := []slackBlock{
		{Type: "divider"},
		section(fmt.Sprintf("New File Detected: *`%s`*", msg.FileName)),
		section(fmt.Sprintf("Status: *`%s`*", msg.Status)),
		section(fmt.Sprintf("TimeStamp: *`%s`*", msg.Timestamp)),
		section(fmt.Sprintf("Log: *`%s`*", msg.LogLocation)),
	}
	if msg.Status == StatusError && msg.Exception != "" {
		blocks = append(blocks, section(fmt.Sprintf("*Exception:* ```%s```", msg.Exception)))
	}
	blocks = append(blocks, slackBlock{Type: "divider"})
	return slackPayload{Attachments: []slackAttachment{{Color: color, Blocks: blocks}}}
}

// Notify posts msg. An unset webhook is a no-op.
func (s *Slack) Notify(ctx context.Context, msg Message) error {
	if s.url == "" {
		return nil
	}
	buf, err := json.Marshal(buildSlackPayload(msg))
	if err != nil {
		return apperrors.NotificationDeliveryFailed(err, "slack")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(buf))
	if err != nil {
		return apperrors.NotificationDeliveryFailed(err, "slack")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NotificationDeliveryFailed(err, "slack")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NotificationDeliveryFailed(fmt.Errorf("slack status %d: %s", resp.StatusCode, bytes.TrimSpace(body)), "slack")
	}
	return nil
}
