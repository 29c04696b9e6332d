// Package kafka carries engine events out and raw incidents in.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/event"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/common"
)

// Topic names before the configured prefix is applied.
const (
	TopicIncidentIngested  = "crime.incident.ingested"
	TopicZoneRiskUpdate    = "crime.zone_risk.updated"
	TopicNewHotspot        = "crime.hotspot.detected"
	TopicTacticalAlert     = "crime.alert.tactical"
	TopicPredictedCluster  = "crime.forecast.predicted_cluster"
	TopicPatrolRouteUpdate = "crime.patrol.route_updated"
	TopicDeadLetter        = "crime.dead_letter"
)

const (
	SchemaVersion       = "v1"
	EventTypeIngested   = "incident_ingested"
	HeaderEventType     = "event_type"
	HeaderSource        = "source_service"
	HeaderSchemaVersion = "schema_version"
	HeaderEngine        = "engine"
	HeaderOriginalTopic = "original_topic"
	HeaderError         = "error_message"
)

// EventTopic maps an event type onto its topic.
func EventTopic(t event.Type) (string, error) {
	switch t {
	case event.TypeZoneRiskUpdate:
		return TopicZoneRiskUpdate, nil
	case event.TypeNewHotspot:
		return TopicNewHotspot, nil
	case event.TypeTacticalAlert:
		return TopicTacticalAlert, nil
	case event.TypePredictedCluster:
		return TopicPredictedCluster, nil
	case event.TypePatrolRouteUpdate:
		return TopicPatrolRouteUpdate, nil
	}
	return "", errors.Newf(errors.ErrCodeValidation, "no topic for event type %q", t)
}

// EventEnvelope wraps every message on the wire.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Payload:       data,
	}, nil
}

// EnvelopeFromEvent keeps the event's identity and stamps the engine,
// configuration and snapshot that produced it into the metadata.
func EnvelopeFromEvent(e event.Event, source string) (*EventEnvelope, error) {
	env, err := NewEventEnvelope(string(e.Type), source, e.Payload)
	if err != nil {
		return nil, err
	}
	env.EventID = e.ID
	env.Timestamp = e.OccurredAt
	env.Metadata = map[string]string{
		"engine":           e.Engine,
		"config_version":   e.ConfigVersion,
		"snapshot_version": strconv.FormatUint(e.SnapshotVersion, 10),
	}
	return env, nil
}

// DecodePayload unmarshals the payload into target.  A missing payload is an
// error.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "envelope has no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal payload")
	}
	return nil
}

// ToMessage encodes the envelope for topic, keyed by key.
func (e *EventEnvelope) ToMessage(topic string, key string) (*common.ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		HeaderEventType:     e.EventType,
		HeaderSource:        e.Source,
		HeaderSchemaVersion: e.SchemaVersion,
	}
	if eng := e.Metadata["engine"]; eng != "" {
		headers[HeaderEngine] = eng
	}
	msg := &common.ProducerMessage{
		Topic:     topic,
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg, nil
}

func MessageToEventEnvelope(msg *common.ConsumerMessage) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// DecodeIncident reads an ingest message.  Producers may send either an
// envelope around the incident or the bare incident object.
func DecodeIncident(msg *common.ConsumerMessage) (incident.Incident, error) {
	var inc incident.Incident
	env, err := MessageToEventEnvelope(msg)
	if err != nil {
		return inc, err
	}
	if env.EventType != "" || len(env.Payload) > 0 {
		if env.EventType != "" && env.EventType != EventTypeIngested {
			return inc, errors.Newf(errors.ErrCodeValidation, "unexpected event type %q on ingest topic", env.EventType)
		}
		return inc, env.DecodePayload(&inc)
	}
	if err := json.Unmarshal(msg.Value, &inc); err != nil {
		return inc, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal incident")
	}
	return inc, nil
}

// IncidentMessage wraps inc for the ingest topic, keyed by jurisdiction.
func IncidentMessage(topic string, inc incident.Incident, source string) (*common.ProducerMessage, error) {
	env, err := NewEventEnvelope(EventTypeIngested, source, inc)
	if err != nil {
		return nil, err
	}
	return env.ToMessage(topic, inc.Jurisdiction)
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	Configs           map[string]string
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the engine's topics at startup.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessagingError, "failed to dial kafka")
	}
	return &TopicManager{conn: conn, logger: logger.Named("topics")}, nil
}

func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 || cfg.ReplicationFactor <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "topic %s: partitions and replication must be positive", cfg.Name)
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.RetentionMs)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessagingError, "create topic "+cfg.Name)
	}
	m.logger.Info("topic created", logging.String("topic", cfg.Name))
	return nil
}

func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every topic, stopping at the first failure.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, t := range topics {
		if err := m.CreateTopic(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) Close() error { return m.conn.Close() }

// DefaultTopics lists the engine's topics under prefix.
func DefaultTopics(prefix string, replication int) []TopicConfig {
	if replication <= 0 {
		replication = 1
	}
	const day = int64(24 * time.Hour / time.Millisecond)
	return []TopicConfig{
		{Name: prefix + TopicIncidentIngested, NumPartitions: 12, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: prefix + TopicZoneRiskUpdate, NumPartitions: 6, ReplicationFactor: replication, RetentionMs: 3 * day},
		{Name: prefix + TopicNewHotspot, NumPartitions: 6, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: prefix + TopicTacticalAlert, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 30 * day},
		{Name: prefix + TopicPredictedCluster, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 7 * day},
		{Name: prefix + TopicPatrolRouteUpdate, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 3 * day, CleanupPolicy: "compact"},
		{Name: prefix + TopicDeadLetter, NumPartitions: 3, ReplicationFactor: replication, RetentionMs: 30 * day},
	}
}
