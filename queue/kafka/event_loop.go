// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mouts-info/orderservice/queue"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
)

type topicPartition struct {
	topic     string
	partition int32
}

type fetch struct {
	topicPartition

	records []*kgo.Record
}

type recordsCommitter interface {
	CommitRecords(context.Context, ...*kgo.Record) error
}

// eventLoop serializes group membership changes and fetched records onto
// a single goroutine, and owns the per-partition worker lifecycle.
type eventLoop struct {
	log *slog.Logger

	fetches            chan kgo.FetchTopic
	assignedPartitions chan assignedPartition
	lostPartitions     chan topicPartition
	revokedPartitions  chan topicPartition
	workerErrs         chan error

	topicProcessors map[string]queue.Processor[Message]
	topicPartitions map[topicPartition]chan fetch
	partitionPool   *pool.ContextPool
}

type assignedPartition struct {
	topicPartition

	committer recordsCommitter
}

func newEventLoop(ctx context.Context, log *slog.Logger, topics map[string]queue.Processor[Message]) *eventLoop {
	return &eventLoop{
		log:                log,
		fetches:            make(chan kgo.FetchTopic),
		assignedPartitions: make(chan assignedPartition),
		lostPartitions:     make(chan topicPartition),
		revokedPartitions:  make(chan topicPartition),
		workerErrs:         make(chan error, 1),
		topicProcessors:    topics,
		topicPartitions:    make(map[topicPartition]chan fetch),
		partitionPool:      pool.New().WithContext(ctx).WithCancelOnError(),
	}
}

type onPartitionCallback[C any] func(ctx context.Context, client C, partitions map[string][]int32)

func (loop *eventLoop) onPartitionsAssigned(ctx context.Context) onPartitionCallback[recordsCommitter] {
	return func(_ context.Context, client recordsCommitter, assigned map[string][]int32) {
		for topic, partitions := range assigned {
			for _, partition := range partitions {
				ap := assignedPartition{
					topicPartition: topicPartition{topic: topic, partition: partition},
					committer:      client,
				}

				select {
				case <-ctx.Done():
					return
				case loop.assignedPartitions <- ap:
				}
			}
		}
	}
}

func (loop *eventLoop) onPartitionsRevoked(ctx context.Context) onPartitionCallback[*kgo.Client] {
	return func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
		for topic, partitions := range revoked {
			for _, partition := range partitions {
				select {
				case <-ctx.Done():
					return
				case loop.revokedPartitions <- topicPartition{topic: topic, partition: partition}:
				}
			}
		}
	}
}

func (loop *eventLoop) onPartitionsLost(ctx context.Context) onPartitionCallback[*kgo.Client] {
	return func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
		for topic, partitions := range lost {
			for _, partition := range partitions {
				select {
				case <-ctx.Done():
					return
				case loop.lostPartitions <- topicPartition{topic: topic, partition: partition}:
				}
			}
		}
	}
}

type pollFetcher interface {
	PollFetches(context.Context) kgo.Fetches
}

func (loop *eventLoop) fetchRecords(client pollFetcher) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				loop.log.InfoContext(ctx, "stopped fetching", slog.Any("error", ctx.Err()))
				return nil
			default:
			}

			fetches := client.PollFetches(ctx)
			for _, f := range fetches {
				for _, topic := range f.Topics {
					select {
					case <-ctx.Done():
						loop.log.InfoContext(ctx, "stopped fetching", slog.Any("error", ctx.Err()))
						return nil
					case loop.fetches <- topic:
					}
				}
			}
		}
	}
}

func (loop *eventLoop) run(ctx context.Context) error {
	for {
		err := loop.tick(ctx)
		if err == nil {
			continue
		}

		loop.log.InfoContext(ctx, "shutting down event loop", slog.Any("error", err))

		shutdownErr := loop.shutdown()
		if errors.Is(err, context.Canceled) {
			return shutdownErr
		}
		return errors.Join(err, shutdownErr)
	}
}

func (loop *eventLoop) tick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-loop.workerErrs:
		return err
	case ap := <-loop.assignedPartitions:
		return loop.handleAssignedPartition(ctx, ap)
	case tp := <-loop.lostPartitions:
		return loop.handleUnassignedPartition(ctx, tp, "lost")
	case tp := <-loop.revokedPartitions:
		return loop.handleUnassignedPartition(ctx, tp, "revoked")
	case f := <-loop.fetches:
		return loop.handleFetch(ctx, f)
	}
}

func (loop *eventLoop) shutdown() error {
	for _, ch := range loop.topicPartitions {
		close(ch)
	}
	clear(loop.topicPartitions)

	return loop.partitionPool.Wait()
}

type channelConsumer struct {
	fetches <-chan fetch
}

func (c *channelConsumer) Consume(ctx context.Context) (fetch, error) {
	select {
	case <-ctx.Done():
		return fetch{}, ctx.Err()
	case f, ok := <-c.fetches:
		if !ok {
			return fetch{}, queue.ErrEndOfQueue
		}
		return f, nil
	}
}

type committerAcknowledger struct {
	committer recordsCommitter
}

func (a *committerAcknowledger) Acknowledge(ctx context.Context, records []*kgo.Record) error {
	return a.committer.CommitRecords(ctx, records...)
}

func (loop *eventLoop) handleAssignedPartition(ctx context.Context, ap assignedPartition) error {
	loop.log.InfoContext(
		ctx,
		"topic partition assigned",
		TopicAttr(ap.topic),
		PartitionAttr(ap.partition),
	)

	processor, exists := loop.topicProcessors[ap.topic]
	if !exists {
		loop.log.WarnContext(
			ctx,
			"no processor registered for assigned topic",
			TopicAttr(ap.topic),
			PartitionAttr(ap.partition),
		)
		return nil
	}

	records := make(chan fetch)
	loop.topicPartitions[ap.topicPartition] = records

	worker := newPartitionWorker(
		loop.log,
		ap.topicPartition,
		&channelConsumer{fetches: records},
		processor,
		&committerAcknowledger{committer: ap.committer},
	)

	loop.partitionPool.Go(func(workerCtx context.Context) error {
		err := worker.ProcessQueue(workerCtx)
		if err != nil {
			select {
			case loop.workerErrs <- err:
			default:
			}
		}
		return err
	})

	return nil
}

func (loop *eventLoop) handleUnassignedPartition(ctx context.Context, tp topicPartition, reason string) error {
	loop.log.InfoContext(
		ctx,
		"topic partition unassigned",
		TopicAttr(tp.topic),
		PartitionAttr(tp.partition),
		slog.String("reason", reason),
	)

	recordCh, exists := loop.topicPartitions[tp]
	if !exists {
		loop.log.WarnContext(
			ctx,
			"topic partition not found for unassigned partition",
			TopicAttr(tp.topic),
			PartitionAttr(tp.partition),
		)
		return nil
	}

	close(recordCh)
	delete(loop.topicPartitions, tp)

	return nil
}

func (loop *eventLoop) handleFetch(ctx context.Context, fetchTopic kgo.FetchTopic) error {
	for _, partition := range fetchTopic.Partitions {
		if len(partition.Records) == 0 {
			continue
		}

		tp := topicPartition{topic: fetchTopic.Topic, partition: partition.Partition}
		fetchCh, exists := loop.topicPartitions[tp]
		if !exists {
			loop.log.WarnContext(
				ctx,
				"topic partition not found for fetched records",
				TopicAttr(tp.topic),
				PartitionAttr(tp.partition),
			)
			continue
		}

		f := fetch{topicPartition: tp, records: partition.Records}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fetchCh <- f:
		}
	}

	return nil
}
