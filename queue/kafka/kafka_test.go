// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/mouts-info/orderservice/config"
	"github.com/mouts-info/orderservice/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func noopProcessor() queue.Processor[Message] {
	return queue.ProcessorFunc[Message](func(ctx context.Context, msg Message) error {
		return nil
	})
}

func TestMessageLastHeader(t *testing.T) {
	t.Run("will return the last value", func(t *testing.T) {
		t.Run("if the header appears multiple times", func(t *testing.T) {
			msg := Message{
				Headers: []Header{
					{Key: "X-Idempotency-Key", Value: []byte("first")},
					{Key: "Other", Value: []byte("noise")},
					{Key: "X-Idempotency-Key", Value: []byte("second")},
				},
			}

			v, ok := msg.LastHeader("X-Idempotency-Key")
			require.True(t, ok)
			assert.Equal(t, []byte("second"), v)
		})
	})

	t.Run("will report absence", func(t *testing.T) {
		t.Run("if no header matches", func(t *testing.T) {
			msg := Message{
				Headers: []Header{
					{Key: "Other", Value: []byte("noise")},
				},
			}

			_, ok := msg.LastHeader("X-Idempotency-Key")
			assert.False(t, ok)
		})
	})
}

func TestMessageFromRecord(t *testing.T) {
	now := time.Now()

	record := &kgo.Record{
		Key:       []byte("key"),
		Value:     []byte("value"),
		Timestamp: now,
		Topic:     "orders.received",
		Partition: 3,
		Offset:    42,
		Headers: []kgo.RecordHeader{
			{Key: "X-Idempotency-Key", Value: []byte("abc")},
		},
	}

	msg := messageFromRecord(record)

	assert.Equal(t, []byte("key"), msg.Key)
	assert.Equal(t, []byte("value"), msg.Value)
	assert.Equal(t, now, msg.Timestamp)
	assert.Equal(t, "orders.received", msg.Topic)
	assert.Equal(t, int32(3), msg.Partition)
	assert.Equal(t, int64(42), msg.Offset)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "X-Idempotency-Key", msg.Headers[0].Key)
}

func TestBuild(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if no topics are configured", func(t *testing.T) {
			_, err := Build(Config{}, nil).Build(context.Background())
			assert.Error(t, err)
		})

		t.Run("if a topic has no processor", func(t *testing.T) {
			cfg := Config{
				Brokers: config.ReaderOf([]string{"localhost:9092"}),
				GroupID: config.ReaderOf("orderservice"),
			}

			_, err := Build(cfg, []TopicProcessor{{Topic: "orders.received"}}).Build(context.Background())
			assert.Error(t, err)
		})
	})

	t.Run("will apply defaults", func(t *testing.T) {
		t.Run("if optional settings are absent", func(t *testing.T) {
			cfg := Config{
				Brokers: config.ReaderOf([]string{"localhost:9092"}),
				GroupID: config.ReaderOf("orderservice"),
			}

			rt, err := Build(cfg, []TopicProcessor{
				{Topic: "orders.received", Processor: noopProcessor()},
			}).Build(context.Background())
			require.NoError(t, err)

			assert.Equal(t, []string{"localhost:9092"}, rt.brokers)
			assert.Equal(t, "orderservice", rt.groupID)
			assert.Equal(t, 45*time.Second, rt.sessionTimeout)
			assert.Equal(t, 30*time.Second, rt.rebalanceTimeout)
			assert.Equal(t, int32(50*1024*1024), rt.fetchMaxBytes)
			assert.Contains(t, rt.topics, "orders.received")
		})
	})
}

func TestBrokersFromEnv(t *testing.T) {
	t.Run("will split on commas", func(t *testing.T) {
		t.Run("if multiple brokers are exported", func(t *testing.T) {
			t.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")

			brokers, err := config.Read(context.Background(), BrokersFromEnv())
			require.NoError(t, err)
			assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, brokers)
		})
	})
}
