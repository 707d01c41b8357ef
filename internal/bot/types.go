// Package bot turns inbound chat events into back-office actions and rendered replies.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pharmacy-service/internal/util"

	"go.uber.org/zap"
)

// Event kinds
const (
	KindCommand  = "command"
	KindCallback = "callback"
	KindText     = "text"
	KindDocument = "document"
)

// Event is one inbound chat update
type Event struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id" binding:"required"`
	FirstName string `json:"first_name"`
	Kind      string `json:"kind" binding:"required"`
	// Command is the command name without the leading slash; Args is the rest of the line
	Command string `json:"command,omitempty"`
	Args    string `json:"args,omitempty"`
	// Data is a button callback token, optionally suffixed with ":<id>"
	Data     string `json:"data,omitempty"`
	Text     string `json:"text,omitempty"`
	FileName string `json:"file_name,omitempty"`
	File     []byte `json:"file,omitempty"`
}

// Button is an inline choice attached to a response
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Response is one outbound message to a chat user
type Response struct {
	UserID  int64    `json:"user_id"`
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Sink delivers rendered responses to the chat platform
type Sink interface {
	Send(ctx context.Context, r *Response) error
}

// HTTPSink posts responses as JSON to a webhook
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSink) Send(ctx context.Context, r *Response) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes responses to the log when no outbound webhook is configured
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: util.GetLogger()}
}

func (s *LogSink) Send(ctx context.Context, r *Response) error {
	s.logger.Info("Outbound message",
		zap.Int64("user_id", r.UserID),
		zap.String("text", r.Text),
		zap.Int("buttons", len(r.Buttons)))
	return nil
}
