// Package notify delivers operator alerts for trading and health events.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"strategy-engine/pkg/logger"
)

// Message is one operator notification.
type Message struct {
	Title string
	Body  string
	At    time.Time
}

// Sink delivers messages somewhere an operator will see them.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogSink writes notifications to the structured log. Always configured,
// so alerts survive even with no external channel set up.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("notify")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.log.Info("notification",
		logger.String("title", msg.Title),
		logger.String("body", msg.Body))
	return nil
}

// TelegramSink posts HTML-formatted messages to a chat via the bot API.
type TelegramSink struct {
	client *resty.Client
	chatID string
}

func NewTelegramSink(botToken, chatID string) *TelegramSink {
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + botToken).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &TelegramSink{client: client, chatID: chatID}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, msg Message) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", msg.Title, msg.Body)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    s.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
