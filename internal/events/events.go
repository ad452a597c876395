// Package events publishes pattern run progress to NATS.
//
// Events are published to subjects:
//
//	{prefix}.{tenant}.{run_id}.{kind}
//
// where kind is one of started, progress, completed, rolled_back, failed or
// cancelled. Runs without a tenant publish under the "_" tenant token.
// Subscribers follow one run with "{prefix}.{tenant}.{run_id}.*".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/orchestrator"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "processd.runs"

// Kind classifies a run event.
type Kind string

const (
	KindStarted    Kind = "started"
	KindProgress   Kind = "progress"
	KindCompleted  Kind = "completed"
	KindRolledBack Kind = "rolled_back"
	KindFailed     Kind = "failed"
	KindCancelled  Kind = "cancelled"
)

// Final reports whether no further events follow for the run.
func (k Kind) Final() bool {
	switch k {
	case KindCompleted, KindRolledBack, KindFailed, KindCancelled:
		return true
	}
	return false
}

// RunEvent is the JSON payload of every published message.
type RunEvent struct {
	Kind Kind `json:"kind"`
	orchestrator.PlanProgressData
	Timestamp time.Time `json:"timestamp"`
}

// FromProgress classifies a progress snapshot. The first snapshot of a run,
// taken before any step starts, is a started event.
func FromProgress(p orchestrator.PlanProgressData) RunEvent {
	e := RunEvent{PlanProgressData: p, Timestamp: time.Now().UTC()}
	switch p.Status {
	case orchestrator.RunCompleted:
		e.Kind = KindCompleted
	case orchestrator.RunRolledBack:
		e.Kind = KindRolledBack
	case orchestrator.RunFailed:
		e.Kind = KindFailed
	case orchestrator.RunCancelled:
		e.Kind = KindCancelled
	default:
		e.Kind = KindProgress
		if untouched(p.Steps) {
			e.Kind = KindStarted
		}
	}
	return e
}

func untouched(steps []orchestrator.StepProgress) bool {
	for _, s := range steps {
		if s.Status != orchestrator.StepPending {
			return false
		}
	}
	return true
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, e RunEvent) error
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, RunEvent) error { return nil }

// NATSPublisher publishes run events as core NATS messages.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on nc. An empty prefix means
// DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: nc, prefix: prefix}
}

// Subject returns the subject an event is published to.
func (p *NATSPublisher) Subject(e RunEvent) string {
	return Subject(p.prefix, e.Tenant, e.RunID, string(e.Kind))
}

// Publish marshals e and publishes it.
func (p *NATSPublisher) Publish(_ context.Context, e RunEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	return nil
}

// Subject builds "{prefix}.{tenant}.{run_id}.{kind}". Tokens are sanitized
// so ids cannot inject extra subject levels or wildcards; kind may be "*".
func Subject(prefix, tenant, runID, kind string) string {
	if kind != "*" {
		kind = token(kind)
	}
	return strings.Join([]string{prefix, token(tenant), token(runID), kind}, ".")
}

// Filter returns the subscription subject for the events of one run, or of
// every run of tenant when runID is empty.
func Filter(prefix, tenant, runID string) string {
	run := "*"
	if runID != "" {
		run = token(runID)
	}
	return strings.Join([]string{prefix, token(tenant), run, "*"}, ".")
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', r <= ' ', r == 0x7f:
			return '_'
		}
		return r
	}, s)
}

// Hook adapts a publisher into an executor progress callback. Publish
// errors are logged and never affect the run.
func Hook(pub Publisher, logger *logging.Logger) orchestrator.ProgressCallback {
	return func(ctx context.Context, p orchestrator.PlanProgressData) {
		e := FromProgress(p)
		if err := pub.Publish(ctx, e); err != nil {
			logger.Warn(ctx, "failed to publish run event",
				zap.String("kind", string(e.Kind)),
				zap.Error(err),
			)
		}
	}
}
