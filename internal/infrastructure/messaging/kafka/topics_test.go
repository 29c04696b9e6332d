package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/event"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/common"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

type mockKafkaConn struct {
	createFunc func(topics ...kafka.TopicConfig) error
	readFunc   func(topics ...string) ([]kafka.Partition, error)
}

func (m *mockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.createFunc != nil {
		return m.createFunc(topics...)
	}
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if m.readFunc != nil {
		return m.readFunc(topics...)
	}
	return nil, nil
}

func (m *mockKafkaConn) Close() error { return nil }

func sampleIncident() incident.Incident {
	return incident.Incident{
		ID:           "inc-1",
		OccurredAt:   time.Date(2024, 3, 1, 22, 15, 0, 0, time.UTC),
		Location:     geo.Point{Lat: 40.7128, Lon: -74.006},
		Category:     incident.CategoryProperty,
		Severity:     0.4,
		Jurisdiction: "north",
	}
}

func TestEventTopic_CoversEveryType(t *testing.T) {
	seen := map[string]bool{}
	for _, typ := range event.Types() {
		topic, err := EventTopic(typ)
		require.NoError(t, err, typ)
		assert.False(t, seen[topic], "topic %s reused", topic)
		seen[topic] = true
	}
	_, err := EventTopic("bogus")
	assert.True(t, errors.IsValidation(err))
}

func TestEnvelopeFromEvent_StampsProvenance(t *testing.T) {
	at := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	e := event.Event{
		ID: "ev-1", Type: event.TypePatrolRouteUpdate, Engine: "city_brain",
		ConfigVersion: "v7", SnapshotVersion: 42, OccurredAt: at,
		Payload: event.PatrolRouteUpdate{UnitID: "unit-3"},
	}
	env, err := EnvelopeFromEvent(e, "crimesight-api")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", env.EventID)
	assert.Equal(t, at, env.Timestamp)
	assert.Equal(t, "42", env.Metadata["snapshot_version"])
	assert.Equal(t, "v7", env.Metadata["config_version"])

	msg, err := env.ToMessage("x."+TopicPatrolRouteUpdate, "unit-3")
	require.NoError(t, err)
	assert.Equal(t, []byte("unit-3"), msg.Key)
	assert.Equal(t, "city_brain", msg.Headers[HeaderEngine])
	assert.Equal(t, string(event.TypePatrolRouteUpdate), msg.Headers[HeaderEventType])

	back, err := MessageToEventEnvelope(&common.ConsumerMessage{Value: msg.Value})
	require.NoError(t, err)
	var pl event.PatrolRouteUpdate
	require.NoError(t, back.DecodePayload(&pl))
	assert.Equal(t, "unit-3", pl.UnitID)
}

func TestDecodeIncident(t *testing.T) {
	inc := sampleIncident()

	t.Run("envelope", func(t *testing.T) {
		msg, err := IncidentMessage(TopicIncidentIngested, inc, "feeder")
		require.NoError(t, err)
		assert.Equal(t, []byte("north"), msg.Key)
		got, err := DecodeIncident(&common.ConsumerMessage{Value: msg.Value})
		require.NoError(t, err)
		assert.Equal(t, inc, got)
	})

	t.Run("bare object", func(t *testing.T) {
		b, _ := json.Marshal(inc)
		got, err := DecodeIncident(&common.ConsumerMessage{Value: b})
		require.NoError(t, err)
		assert.Equal(t, inc, got)
	})

	t.Run("wrong event type", func(t *testing.T) {
		env, _ := NewEventEnvelope("new_hotspot", "x", inc)
		b, _ := json.Marshal(env)
		_, err := DecodeIncident(&common.ConsumerMessage{Value: b})
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeIncident(&common.ConsumerMessage{Value: []byte("{not json")})
		assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
		_, err = DecodeIncident(&common.ConsumerMessage{})
		assert.True(t, errors.IsValidation(err))
	})
}

func TestTopicManager_EnsureTopics(t *testing.T) {
	var created []string
	conn := &mockKafkaConn{
		createFunc: func(topics ...kafka.TopicConfig) error {
			for _, tc := range topics {
				created = append(created, tc.Topic)
			}
			return nil
		},
	}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}
	topics := DefaultTopics("dev.", 0)
	require.NoError(t, m.EnsureTopics(context.Background(), topics))
	assert.Len(t, created, len(topics))
	assert.Contains(t, created, "dev."+TopicIncidentIngested)
	assert.Equal(t, 1, topics[0].ReplicationFactor)
}

func TestTopicManager_CreateTopicExistingIsOK(t *testing.T) {
	conn := &mockKafkaConn{
		createFunc: func(...kafka.TopicConfig) error { return fmt.Errorf("topic already exists") },
		readFunc: func(...string) ([]kafka.Partition, error) {
			return []kafka.Partition{{Topic: "t", ID: 0}}, nil
		},
	}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1}))

	conn.readFunc = nil
	err := m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessagingError))

	err = m.CreateTopic(context.Background(), TopicConfig{Name: "t"})
	assert.True(t, errors.IsValidation(err))
}
