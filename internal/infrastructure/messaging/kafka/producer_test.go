package kafka

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/common"
)

func newTestProducer(w WriterInterface) *Producer {
	return newProducerWithWriter(w, ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 64}, logging.NewNopLogger())
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))
	assert.True(t, errors.IsValidation(ValidateProducerConfig(ProducerConfig{})))
	assert.True(t, errors.IsValidation(ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, MaxRetries: -1})))
}

func TestProducerConfigFrom(t *testing.T) {
	cfg := ProducerConfigFrom(config.KafkaConfig{Brokers: []string{"k1:9092", "k2:9092"}, MaxRetries: 5, BatchSize: 10})
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "all", cfg.Acks)
}

func TestProducer_Publish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	ctx := context.Background()

	err := p.Publish(ctx, &common.ProducerMessage{Topic: "t", Key: []byte("k"), Value: []byte("v"), Headers: map[string]string{"a": "b"}})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, "t", w.written[0].Topic)
	assert.Equal(t, []kafka.Header{{Key: "a", Value: []byte("b")}}, w.written[0].Headers)
	assert.False(t, w.written[0].Time.IsZero())
	assert.Equal(t, int64(1), p.Sent())

	assert.True(t, errors.IsValidation(p.Publish(ctx, &common.ProducerMessage{Value: []byte("v")})))
	assert.True(t, errors.IsValidation(p.Publish(ctx, &common.ProducerMessage{Topic: "t"})))
	assert.True(t, errors.IsValidation(p.Publish(ctx, &common.ProducerMessage{Topic: "t", Value: []byte(strings.Repeat("x", 65))})))
}

func TestProducer_PublishWriteError(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return fmt.Errorf("leader not available") }}
	err := newTestProducer(w).Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessagingError))
}

func TestProducer_PublishBatch(t *testing.T) {
	ctx := context.Background()
	msgs := []*common.ProducerMessage{
		{Topic: "a", Value: []byte("1")},
		{Topic: "", Value: []byte("2")},
		{Topic: "c", Value: []byte("3")},
	}

	t.Run("partial write errors map back to input index", func(t *testing.T) {
		w := &mockKafkaWriter{writeFunc: func(_ context.Context, km ...kafka.Message) error {
			require.Len(t, km, 2)
			return kafka.WriteErrors{nil, fmt.Errorf("message too large")}
		}}
		res, err := newTestProducer(w).PublishBatch(ctx, msgs)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 2, res.Failed)
		require.Len(t, res.Errors, 2)
		assert.Equal(t, 1, res.Errors[0].Index)
		assert.Equal(t, 2, res.Errors[1].Index)
		assert.Equal(t, "c", res.Errors[1].Topic)
	})

	t.Run("generic failure", func(t *testing.T) {
		w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return fmt.Errorf("dial tcp: refused") }}
		res, err := newTestProducer(w).PublishBatch(ctx, msgs[:1])
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, -1, res.Errors[0].Index)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := newTestProducer(&mockKafkaWriter{}).PublishBatch(ctx, nil)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)

	assert.Equal(t, ErrProducerClosed, p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("v")}))
	_, err := p.PublishBatch(context.Background(), []*common.ProducerMessage{{Topic: "t", Value: []byte("v")}})
	assert.Equal(t, ErrProducerClosed, err)
}
