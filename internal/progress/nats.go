package progress

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"storyloom/internal/config"
)

// Publisher is the subset of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes updates as JSON on a subject.
type NATSSink struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// DialNATS connects to url and returns a sink that owns the connection.
func DialNATS(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("storyloom"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSSink{pub: conn, subject: subject, conn: conn}, nil
}

// SinkFromConfig dials the configured NATS server. It returns nil without
// error when no server is configured.
func SinkFromConfig(cfg *config.Config) (*NATSSink, error) {
	if strings.TrimSpace(cfg.Events.NatsURL) == "" {
		return nil, nil
	}
	return DialNATS(cfg.Events.NatsURL, cfg.Events.Subject)
}

// Publish implements Sink.
func (s *NATSSink) Publish(u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode progress update: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	return nil
}

// Close drains the connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
