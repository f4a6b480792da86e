package trail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/secrets"
)

// DefaultSubject is the subject prefix entries are published under.
const DefaultSubject = "agenticbot.trail"

// Event is the message published for one trail entry.
type Event struct {
	ID        string                  `json:"id"`
	SessionID string                  `json:"session_id"`
	Entry     orchestrator.TrailEntry `json:"entry"`
	Published time.Time               `json:"published_at"`
}

// NATSSink publishes each entry as JSON to <subject>.<session_id>.
type NATSSink struct {
	nc       *nats.Conn
	subject  string
	scrubber *secrets.Scrubber
}

// NATSOption configures a NATSSink.
type NATSOption func(*NATSSink)

// WithScrubber redacts credentials from the rationale, parameters and error
// message of each entry before it is published.
func WithScrubber(s *secrets.Scrubber) NATSOption {
	return func(n *NATSSink) { n.scrubber = s }
}

// NewNATSSink returns a sink publishing on nc. An empty subject uses
// DefaultSubject.
func NewNATSSink(nc *nats.Conn, subject string, opts ...NATSOption) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	s := &NATSSink{nc: nc, subject: subject}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subject returns the subject entries of sessionID are published to. The
// session always occupies exactly one subject token.
func (s *NATSSink) Subject(sessionID string) string {
	return s.subject + "." + subjectToken(sessionID)
}

// subjectToken passes safe IDs through. IDs holding a separator, a wildcard,
// whitespace or the escape prefix become "~" plus their base64url form.
func subjectToken(id string) string {
	if id != "" && !strings.HasPrefix(id, "~") && !strings.ContainsAny(id, ".*> \t\r\n") {
		return id
	}
	return "~" + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Record implements orchestrator.TrailSink.
func (s *NATSSink) Record(_ context.Context, sessionID string, entry orchestrator.TrailEntry) error {
	data, err := json.Marshal(Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Entry:     Scrub(s.scrubber, entry),
		Published: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal trail event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(sessionID), data); err != nil {
		return fmt.Errorf("publish trail event: %w", err)
	}
	return nil
}

// Scrub returns a copy of entry with its free-text fields passed through
// sc. A nil sc returns entry unchanged.
func Scrub(sc *secrets.Scrubber, entry orchestrator.TrailEntry) orchestrator.TrailEntry {
	if sc == nil {
		return entry
	}
	entry.Rationale = sc.String(entry.Rationale)
	if entry.Parameters != nil {
		entry.Parameters = sc.Value(entry.Parameters).(map[string]any)
	}
	if entry.Error != nil {
		e := *entry.Error
		e.Message = sc.String(e.Message)
		entry.Error = &e
	}
	return entry
}

// Connect dials url with reconnects enabled.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("agenticbot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if logger != nil {
		logger.Info("connected to NATS", zap.String("url", url))
	}
	return nc, nil
}
