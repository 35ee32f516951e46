// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mouts-info/orderservice/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecords(topic string, partition int32, offsets ...int64) []*kgo.Record {
	records := make([]*kgo.Record, len(offsets))
	for i, offset := range offsets {
		records[i] = &kgo.Record{
			Topic:     topic,
			Partition: partition,
			Offset:    offset,
			Value:     []byte("payload"),
		}
	}
	return records
}

// sliceConsumer yields the given fetches in order, then signals end of
// queue.
type sliceConsumer struct {
	fetches []fetch
}

func (c *sliceConsumer) Consume(ctx context.Context) (fetch, error) {
	if len(c.fetches) == 0 {
		return fetch{}, queue.ErrEndOfQueue
	}
	f := c.fetches[0]
	c.fetches = c.fetches[1:]
	return f, nil
}

func TestPartitionWorkerProcessQueue(t *testing.T) {
	tp := topicPartition{topic: "orders.received", partition: 0}

	t.Run("will process records in offset order and commit", func(t *testing.T) {
		t.Run("if every record processes cleanly", func(t *testing.T) {
			consumer := &sliceConsumer{
				fetches: []fetch{
					{topicPartition: tp, records: testRecords(tp.topic, tp.partition, 1, 2)},
					{topicPartition: tp, records: testRecords(tp.topic, tp.partition, 3)},
				},
			}

			var processed []int64
			processor := queue.ProcessorFunc[Message](func(ctx context.Context, msg Message) error {
				processed = append(processed, msg.Offset)
				return nil
			})

			var committed []int64
			acknowledger := queue.AcknowledgerFunc[[]*kgo.Record](func(ctx context.Context, records []*kgo.Record) error {
				for _, record := range records {
					committed = append(committed, record.Offset)
				}
				return nil
			})

			w := newPartitionWorker(discardLogger(), tp, consumer, processor, acknowledger)

			err := w.ProcessQueue(context.Background())
			require.NoError(t, err)

			assert.Equal(t, []int64{1, 2, 3}, processed)
			assert.Equal(t, []int64{1, 2, 3}, committed)
		})
	})

	t.Run("will halt without committing", func(t *testing.T) {
		t.Run("if a record fails to process", func(t *testing.T) {
			consumer := &sliceConsumer{
				fetches: []fetch{
					{topicPartition: tp, records: testRecords(tp.topic, tp.partition, 1, 2, 3)},
				},
			}

			processErr := errors.New("gate unreachable")
			processor := queue.ProcessorFunc[Message](func(ctx context.Context, msg Message) error {
				if msg.Offset == 2 {
					return processErr
				}
				return nil
			})

			committed := false
			acknowledger := queue.AcknowledgerFunc[[]*kgo.Record](func(ctx context.Context, records []*kgo.Record) error {
				committed = true
				return nil
			})

			w := newPartitionWorker(discardLogger(), tp, consumer, processor, acknowledger)

			err := w.ProcessQueue(context.Background())
			assert.ErrorIs(t, err, processErr)
			assert.False(t, committed)
		})

		t.Run("if the commit itself fails", func(t *testing.T) {
			consumer := &sliceConsumer{
				fetches: []fetch{
					{topicPartition: tp, records: testRecords(tp.topic, tp.partition, 1)},
				},
			}

			commitErr := errors.New("not the group leader")
			acknowledger := queue.AcknowledgerFunc[[]*kgo.Record](func(ctx context.Context, records []*kgo.Record) error {
				return commitErr
			})

			w := newPartitionWorker(discardLogger(), tp, consumer, noopProcessor(), acknowledger)

			err := w.ProcessQueue(context.Background())
			assert.ErrorIs(t, err, commitErr)
		})
	})

	t.Run("will drain gracefully", func(t *testing.T) {
		t.Run("if the consumer reaches the end of the queue", func(t *testing.T) {
			w := newPartitionWorker(
				discardLogger(),
				tp,
				&sliceConsumer{},
				noopProcessor(),
				queue.AcknowledgerFunc[[]*kgo.Record](func(ctx context.Context, records []*kgo.Record) error {
					return nil
				}),
			)

			assert.NoError(t, w.ProcessQueue(context.Background()))
		})

		t.Run("if the context is cancelled", func(t *testing.T) {
			consumer := queue.ConsumerFunc[fetch](func(ctx context.Context) (fetch, error) {
				return fetch{}, context.Canceled
			})

			w := newPartitionWorker(
				discardLogger(),
				tp,
				consumer,
				noopProcessor(),
				queue.AcknowledgerFunc[[]*kgo.Record](func(ctx context.Context, records []*kgo.Record) error {
					return nil
				}),
			)

			assert.NoError(t, w.ProcessQueue(context.Background()))
		})
	})
}

func TestChannelConsumer(t *testing.T) {
	t.Run("will yield fetches", func(t *testing.T) {
		t.Run("if the channel is open", func(t *testing.T) {
			fetches := make(chan fetch, 1)
			fetches <- fetch{topicPartition: topicPartition{topic: "orders.received"}}

			c := &channelConsumer{fetches: fetches}

			f, err := c.Consume(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "orders.received", f.topic)
		})
	})

	t.Run("will signal end of queue", func(t *testing.T) {
		t.Run("if the channel is closed", func(t *testing.T) {
			fetches := make(chan fetch)
			close(fetches)

			c := &channelConsumer{fetches: fetches}

			_, err := c.Consume(context.Background())
			assert.ErrorIs(t, err, queue.ErrEndOfQueue)
		})
	})

	t.Run("will respect cancellation", func(t *testing.T) {
		t.Run("if the context is done", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			c := &channelConsumer{fetches: make(chan fetch)}

			_, err := c.Consume(ctx)
			assert.ErrorIs(t, err, context.Canceled)
		})
	})
}

func TestEventLoopHandleFetch(t *testing.T) {
	t.Run("will skip", func(t *testing.T) {
		t.Run("if the fetch carries no records", func(t *testing.T) {
			loop := newEventLoop(context.Background(), discardLogger(), nil)

			err := loop.handleFetch(context.Background(), kgo.FetchTopic{
				Topic: "orders.received",
				Partitions: []kgo.FetchPartition{
					{Partition: 0},
				},
			})
			assert.NoError(t, err)
		})

		t.Run("if no worker owns the partition", func(t *testing.T) {
			loop := newEventLoop(context.Background(), discardLogger(), nil)

			err := loop.handleFetch(context.Background(), kgo.FetchTopic{
				Topic: "orders.received",
				Partitions: []kgo.FetchPartition{
					{Partition: 0, Records: testRecords("orders.received", 0, 1)},
				},
			})
			assert.NoError(t, err)
		})
	})

	t.Run("will forward records to the partition worker", func(t *testing.T) {
		t.Run("if a worker owns the partition", func(t *testing.T) {
			loop := newEventLoop(context.Background(), discardLogger(), nil)

			tp := topicPartition{topic: "orders.received", partition: 0}
			records := make(chan fetch, 1)
			loop.topicPartitions[tp] = records

			err := loop.handleFetch(context.Background(), kgo.FetchTopic{
				Topic: "orders.received",
				Partitions: []kgo.FetchPartition{
					{Partition: 0, Records: testRecords("orders.received", 0, 1, 2)},
				},
			})
			require.NoError(t, err)

			f := <-records
			assert.Equal(t, tp, f.topicPartition)
			assert.Len(t, f.records, 2)
		})
	})
}

func TestEventLoopHandleUnassignedPartition(t *testing.T) {
	t.Run("will close the worker channel", func(t *testing.T) {
		t.Run("if the partition was assigned", func(t *testing.T) {
			loop := newEventLoop(context.Background(), discardLogger(), nil)

			tp := topicPartition{topic: "orders.received", partition: 0}
			records := make(chan fetch)
			loop.topicPartitions[tp] = records

			err := loop.handleUnassignedPartition(context.Background(), tp, "revoked")
			require.NoError(t, err)

			_, open := <-records
			assert.False(t, open)
			assert.NotContains(t, loop.topicPartitions, tp)
		})
	})

	t.Run("will do nothing", func(t *testing.T) {
		t.Run("if the partition was never assigned", func(t *testing.T) {
			loop := newEventLoop(context.Background(), discardLogger(), nil)

			err := loop.handleUnassignedPartition(
				context.Background(),
				topicPartition{topic: "orders.received", partition: 9},
				"lost",
			)
			assert.NoError(t, err)
		})
	})
}
