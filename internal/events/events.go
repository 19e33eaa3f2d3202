// Package events publishes job lifecycle transitions so other services can
// follow a bulk job without polling the orchestrator.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

var log = slog.Default()

// Event names, appended to the subject prefix.
const (
	EventCreated   = "created"
	EventPhase     = "phase"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "bulk.jobs"

// Event is one lifecycle transition.
type Event struct {
	Name      string          `json:"-"`
	JobID     types.JobID     `json:"jobId"`
	Status    types.JobStatus `json:"status"`
	Phase     types.Phase     `json:"phase"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// FromJob builds an event from a job snapshot.
func FromJob(name string, job *types.Job, at time.Time) Event {
	ev := Event{
		Name:      name,
		JobID:     job.ID,
		Status:    job.Status(),
		Phase:     job.Progress.CurrentPhase,
		Completed: job.Progress.Completed,
		Total:     job.Progress.Total,
		At:        at,
	}
	if msg, ok := job.FailureReason(); ok {
		ev.Error = msg
	}
	return ev
}

// Notifier receives lifecycle events. Implementations must not block the
// pipeline for long and must not fail it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// NATSPublisher publishes events as JSON on "<prefix>.<event name>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to url. An empty url uses nats.DefaultURL.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(url,
		nats.Name("bulk-translator"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(name string) string {
	return Subject(p.prefix, name)
}

// Notify publishes ev. Failures are logged only.
func (p *NATSPublisher) Notify(_ context.Context, ev Event) {
	if err := p.Publish(ev); err != nil {
		log.Warn("failed to publish job event", "jobID", ev.JobID, "event", ev.Name, "error", err)
	}
}

// Publish encodes and publishes ev.
func (p *NATSPublisher) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Name), data); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// Subject joins prefix and event name.
func Subject(prefix, name string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return strings.TrimSuffix(prefix, ".") + "." + name
}
