package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"recon_automation/internal/config"
)

const (
	StatusSuccess = "Success"
	StatusError   = "Error"
)

// Message is the outcome of one processed file.
type Message struct {
	ProcessName string `json:"process_name"`
	FileName    string `json:"file_name"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status"`
	LogLocation string `json:"log_location"`
	Exception   string `json:"exception,omitempty"`
}

// Text renders msg for sinks without rich formatting.
func (m Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] New File Detected: %s\n", m.ProcessName, m.FileName)
	fmt.Fprintf(&b, "Status: %s\n", m.Status)
	fmt.Fprintf(&b, "TimeStamp: %s\n", m.Timestamp)
	fmt.Fprintf(&b, "Log: %s", m.LogLocation)
	if m.Status == StatusError && m.Exception != "" {
		fmt.Fprintf(&b, "\nException: %s", m.Exception)
	}
	return b.String()
}

// Notifier delivers outcome messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every sink and joins their failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Router sends each message to the sink of its process plus any shared
// sinks.
type Router struct {
	routes map[string]Notifier
	shared Multi
}

// NewRouter builds the Slack webhook of each process and, when a bot
// token is configured, a Telegram sink shared by both processes.
func NewRouter(cfg config.Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Notify.Timeout()
	r := &Router{routes: map[string]Notifier{}}
	for _, p := range []config.ProcessConfig{cfg.Load, cfg.Update} {
		if p.WebhookURL == "" {
			logger.Warn("no webhook configured", zap.String("process", p.Name))
			continue
		}
		r.routes[p.Name] = NewSlack(p.WebhookURL, timeout)
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, timeout)
		if err != nil {
			logger.Warn("telegram sink disabled", zap.Error(err))
		} else {
			r.shared = append(r.shared, tg)
		}
	}
	return r
}

// Route registers n for process.
func (r *Router) Route(process string, n Notifier) {
	r.routes[process] = n
}

func (r *Router) Notify(ctx context.Context, msg Message) error {
	var sinks Multi
	if n, ok := r.routes[msg.ProcessName]; ok {
		sinks = append(sinks, n)
	}
	sinks = append(sinks, r.shared...)
	return sinks.Notify(ctx, msg)
}
