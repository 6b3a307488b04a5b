// Package bus is a thin NATS wrapper: publish, subscribe, and an
// optional mirror of notable events for external consumers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// LogEvent mirrors a notable pipeline event onto the bus.
type LogEvent struct {
	Level   string `json:"level"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

type Client struct {
	conn       *nats.Conn
	subs       []*nats.Subscription
	logSubject string
	logEnabled bool
	logger     *slog.Logger
}

func NewClient(ctx context.Context, url, token, logSubject string, logEnabled bool, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{
		conn:       nc,
		logSubject: logSubject,
		logEnabled: logEnabled,
		logger:     logger,
	}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// PublishLog mirrors a pipeline event onto the log subject. It is a
// no-op when mirroring is disabled, and a failed publish is logged
// rather than surfaced: the event mirror is best effort.
func (c *Client) PublishLog(level, message string) {
	if !c.logEnabled {
		return
	}
	event := LogEvent{
		Level:   level,
		Time:    time.Now().Format("2006-01-02 15:04:05"),
		Message: message,
	}
	if err := c.Publish(c.logSubject, event); err != nil {
		c.logger.Warn("failed to mirror log event", "error", err)
	}
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
