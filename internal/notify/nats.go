package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the root of every generation subject.
const DefaultSubjectPrefix = "narration.generations"

// ErrNoServers is returned by ConnectNATS when no server URL is given.
var ErrNoServers = errors.New("notify: no NATS servers configured")

// Compile-time check that NATSNotifier implements Notifier.
var _ Notifier = (*NATSNotifier)(nil)

// NATSNotifier publishes JSON events on <prefix>.<user>.<event>.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// ConnectNATS dials the given servers (comma separated) and returns a notifier
// that owns the connection.
func ConnectNATS(url string, timeout time.Duration, logger *slog.Logger) (*NATSNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoServers
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("narration-api"),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info("connected to NATS", slog.String("servers", url))
	return NewNATSNotifier(conn, logger), nil
}

// NewNATSNotifier publishes on an existing connection.
func NewNATSNotifier(conn *nats.Conn, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: logger,
		now:    time.Now,
	}
}

// Subject returns the subject an event for userID is published on.
func (n *NATSNotifier) Subject(userID, event string) string {
	return n.prefix + "." + subjectToken(userID) + "." + event
}

// Healthy reports whether the connection is up.
func (n *NATSNotifier) Healthy() bool {
	return n != nil && n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if n == nil || n.conn == nil {
		return
	}
	n.logger.Info("closing NATS connection")
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn("failed to drain NATS connection", slog.String("error", err.Error()))
	}
	n.conn.Close()
}

// NotifyStatus implements Notifier.
func (n *NATSNotifier) NotifyStatus(_ context.Context, userID, generationID, status string) error {
	return n.publish(Event{Type: EventStatus, UserID: userID, GenerationID: generationID, Status: status})
}

// NotifyProgress implements Notifier.
func (n *NATSNotifier) NotifyProgress(_ context.Context, userID, generationID string, p Progress) error {
	return n.publish(Event{Type: EventProgress, UserID: userID, GenerationID: generationID, Progress: &p})
}

// NotifyCompleted implements Notifier.
func (n *NATSNotifier) NotifyCompleted(_ context.Context, userID, generationID string, c Completion) error {
	return n.publish(Event{Type: EventCompleted, UserID: userID, GenerationID: generationID, Completion: &c})
}

// NotifyFailed implements Notifier.
func (n *NATSNotifier) NotifyFailed(_ context.Context, userID, generationID, message string) error {
	return n.publish(Event{Type: EventFailed, UserID: userID, GenerationID: generationID, Error: message})
}

func (n *NATSNotifier) publish(ev Event) error {
	ev.Timestamp = n.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := n.conn.Publish(n.Subject(ev.UserID, ev.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
