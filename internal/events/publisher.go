// Package events publishes learn outcomes to NATS so downstream consumers
// (content generators, analytics jobs) can react without polling the API.
//
// Publishing is fire-and-forget on a core NATS subject. Consumers that need
// durability bind a JetStream stream to the subject; the publisher does not
// care.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
)

// ErrInvalidConfig indicates an unusable publisher configuration.
var ErrInvalidConfig = errors.New("invalid events configuration")

var publishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "banditd",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total learn events published",
	},
	[]string{"platform", "result"},
)

// Publisher emits one message per applied learning pass. It implements
// bandit.LearnSink.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a learn-event publisher on the given subject.
func NewPublisher(nc *nats.Conn, subject string, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrInvalidConfig)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger}, nil
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// RecordLearn publishes the learn result as JSON.
func (p *Publisher) RecordLearn(ctx context.Context, res bandit.LearnResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(res)
	if err != nil {
		publishedTotal.WithLabelValues(res.Platform, "error").Inc()
		return fmt.Errorf("marshaling learn event: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		publishedTotal.WithLabelValues(res.Platform, "error").Inc()
		return fmt.Errorf("publishing learn event: %w", err)
	}

	publishedTotal.WithLabelValues(res.Platform, "success").Inc()
	p.logger.Debug("learn event published",
		zap.String("subject", p.subject),
		zap.String("post_id", res.PostID),
		zap.String("platform", res.Platform))
	return nil
}

var _ bandit.LearnSink = (*Publisher)(nil)
