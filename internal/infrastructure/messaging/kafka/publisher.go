package kafka

import (
	"context"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/event"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/common"
)

// BatchProducer is the slice of Producer the publisher needs.
type BatchProducer interface {
	PublishBatch(ctx context.Context, msgs []*common.ProducerMessage) (*common.BatchPublishResult, error)
}

// EventPublisher sends engine events to their per-type topics.
type EventPublisher struct {
	producer BatchProducer
	prefix   string
	source   string
	metrics  *prometheus.EngineMetrics
	logger   logging.Logger
}

// NewEventPublisher builds a publisher.  metrics may be nil.
func NewEventPublisher(p BatchProducer, topicPrefix, source string, metrics *prometheus.EngineMetrics, log logging.Logger) *EventPublisher {
	return &EventPublisher{producer: p, prefix: topicPrefix, source: source, metrics: metrics, logger: log.Named("events")}
}

var _ event.Publisher = (*EventPublisher)(nil)

// Publish validates and sends events as one batch.  Events that fail are
// counted and reported in a single MessagingError; the rest still go out.
func (p *EventPublisher) Publish(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*common.ProducerMessage, 0, len(events))
	sent := make([]event.Event, 0, len(events))
	var failed int
	for _, e := range events {
		msg, err := p.message(e)
		if err != nil {
			failed++
			p.metrics.RecordEvent(string(e.Type), err)
			p.logger.Warn("event dropped", logging.String("type", string(e.Type)), logging.String("id", e.ID), logging.Err(err))
			continue
		}
		msgs = append(msgs, msg)
		sent = append(sent, e)
	}

	if len(msgs) > 0 {
		res, err := p.producer.PublishBatch(ctx, msgs)
		if err != nil {
			for _, e := range sent {
				p.metrics.RecordEvent(string(e.Type), err)
			}
			return errors.Wrap(err, errors.ErrCodeMessagingError, "event publish failed")
		}
		bad := make(map[int]error, len(res.Errors))
		for _, be := range res.Errors {
			if be.Index < 0 {
				for i := range sent {
					bad[i] = be.Error
				}
				break
			}
			bad[be.Index] = be.Error
		}
		for i, e := range sent {
			p.metrics.RecordEvent(string(e.Type), bad[i])
		}
		failed += len(bad)
	}

	if failed > 0 {
		return errors.Newf(errors.ErrCodeMessagingError, "%d of %d events not published", failed, len(events))
	}
	return nil
}

func (p *EventPublisher) message(e event.Event) (*common.ProducerMessage, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	topic, err := EventTopic(e.Type)
	if err != nil {
		return nil, err
	}
	env, err := EnvelopeFromEvent(e, p.source)
	if err != nil {
		return nil, err
	}
	return env.ToMessage(p.prefix+topic, eventKey(e))
}

// eventKey keeps one unit's routes, and otherwise one engine's events, on a
// single partition.
func eventKey(e event.Event) string {
	switch pl := e.Payload.(type) {
	case event.PatrolRouteUpdate:
		if pl.UnitID != "" {
			return pl.UnitID
		}
	case *event.PatrolRouteUpdate:
		if pl != nil && pl.UnitID != "" {
			return pl.UnitID
		}
	}
	return e.Engine
}
