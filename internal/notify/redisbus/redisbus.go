// Package redisbus publishes assessment and queue events to Redis pub/sub so
// department boards can refresh without polling.
//
// Channels:
//
//	<prefix>:assessments          every assessment, full event
//	<prefix>:queue:<department>   queue changes for one department
//
// Department names are lowercased with spaces replaced by underscores, so
// General Medicine publishes on <prefix>:queue:general_medicine.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

const (
	tracerName  = "github.com/linnemanlabs/intake/internal/notify/redisbus"
	pingTimeout = 5 * time.Second
)

// Publisher is the subset of the go-redis client used here.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// QueueMessage is published on a department channel for every entry an
// event touches.
type QueueMessage struct {
	Kind      intake.EventKind   `json:"kind"`
	At        time.Time          `json:"at"`
	VisitID   string             `json:"visit_id"`
	RiskLevel triage.RiskLevel   `json:"risk_level,omitempty"`
	Entry     *intake.QueueEntry `json:"entry"`
}

// Notifier publishes intake events to Redis.
type Notifier struct {
	pub    Publisher
	prefix string
	close  func() error
}

// New wraps an existing client.
func New(pub Publisher, prefix string) *Notifier {
	return &Notifier{pub: pub, prefix: prefix, close: func() error { return nil }}
}

// Dial connects to the Redis server at rawURL and verifies it with a ping.
func Dial(ctx context.Context, rawURL, prefix string) (*Notifier, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redisbus: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisbus: ping %s: %w", opts.Addr, err)
	}

	n := New(client, prefix)
	n.close = client.Close
	return n, nil
}

// Name implements intake.Notifier.
func (n *Notifier) Name() string { return "redis" }

// Close releases the client created by Dial.
func (n *Notifier) Close() error { return n.close() }

// AssessmentsChannel is the channel carrying every assessment.
func (n *Notifier) AssessmentsChannel() string {
	return n.prefix + ":assessments"
}

// QueueChannel is the channel for one department queue.
func (n *Notifier) QueueChannel(d triage.Department) string {
	return n.prefix + ":queue:" + strings.ReplaceAll(strings.ToLower(string(d)), " ", "_")
}

// Send publishes ev. Every channel is attempted; failures are joined.
func (n *Notifier) Send(ctx context.Context, ev *intake.Event) error {
	if ev == nil {
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "redisbus.Send", trace.WithAttributes(
		attribute.String("intake.event.kind", string(ev.Kind)),
		attribute.String("intake.visit.id", ev.VisitID),
		attribute.Int("intake.event.entries", len(ev.Entries)),
	))
	defer span.End()

	var errs []error
	if ev.Kind == intake.EventAssessed {
		errs = append(errs, n.publish(ctx, n.AssessmentsChannel(), ev))
	}
	for _, e := range ev.Entries {
		errs = append(errs, n.publish(ctx, n.QueueChannel(e.Department), QueueMessage{
			Kind:      ev.Kind,
			At:        ev.At,
			VisitID:   ev.VisitID,
			RiskLevel: ev.RiskLevel(),
			Entry:     e,
		}))
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (n *Notifier) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redisbus: marshal for %s: %w", channel, err)
	}
	if err := n.pub.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", channel, err)
	}
	return nil
}
