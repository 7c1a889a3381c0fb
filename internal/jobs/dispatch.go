package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/sha1n/mcp-tender-kb/internal/domain"
	"go.opentelemetry.io/otel"
)

// DefaultSubject is the NATS subject job ids are published on.
const DefaultSubject = "tenderkb.jobs"

// LocalDispatcher starts jobs on the runner of this process.
type LocalDispatcher struct {
	runner *Runner
}

// Dispatch starts the job in the background.
func (d LocalDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return d.runner.Start(ctx, jobID)
}

// Message is the payload published for a dispatched job.
type Message struct {
	JobID string `json:"job_id"`
}

// NATSDispatcher publishes job ids for a worker subscribed with Subscribe.
type NATSDispatcher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSDispatcher creates a dispatcher publishing on subject.
func NewNATSDispatcher(nc *nats.Conn, subject string) *NATSDispatcher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSDispatcher{conn: nc, subject: subject}
}

// Dispatch publishes the job id with the trace context of ctx.
func (d *NATSDispatcher) Dispatch(ctx context.Context, jobID string) error {
	data, err := json.Marshal(Message{JobID: jobID})
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: d.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := d.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Subscribe starts every job id received on subject. Messages that cannot be
// decoded and jobs that are already running are logged and dropped.
func (r *Runner) Subscribe(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil || m.JobID == "" {
			slog.Warn("Dropping malformed job message", "subject", msg.Subject)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		if err := r.Start(ctx, m.JobID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				slog.Info("Ignoring job message", "job_id", m.JobID, "reason", err)
				return
			}
			slog.Error("Failed to start job", "job_id", m.JobID, "error", err)
		}
	})
}

// headerCarrier adapts nats.Msg headers to a TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
