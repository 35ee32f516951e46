// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package event publishes order lifecycle events to Kafka.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mouts-info/orderservice"
	"github.com/mouts-info/orderservice/order"
	"github.com/mouts-info/orderservice/queue/kafka"
)

// localTimeLayout is the wire format downstream consumers expect for
// timestamps: an ISO-8601 local date-time without a zone offset.
const localTimeLayout = "2006-01-02T15:04:05"

// LocalTime is a [time.Time] that travels as an ISO-8601 local
// date-time, e.g. "2025-03-14T09:30:00".
type LocalTime time.Time

// MarshalJSON implements [json.Marshaler].
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(localTimeLayout) + `"`), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	parsed, err := time.Parse(`"`+localTimeLayout+`"`, string(data))
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}

// CompletionItem is a processed line item as carried on the wire.
type CompletionItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     json.RawMessage `json:"price"`
}

// CompletionEvent announces that an order reached a terminal PROCESSED
// state and is visible in the store. Monetary amounts are emitted as
// bare JSON numbers with scale 2.
type CompletionEvent struct {
	OrderID     string           `json:"orderId"`
	Status      string           `json:"status"`
	Total       json.RawMessage  `json:"total"`
	ProcessedAt LocalTime        `json:"processedAt"`
	Items       []CompletionItem `json:"items"`
}

// NewCompletionEvent builds the event payload for a processed order.
func NewCompletionEvent(o *order.Order) CompletionEvent {
	items := make([]CompletionItem, len(o.Items))
	for i, item := range o.Items {
		items[i] = CompletionItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     json.RawMessage(item.Price.String()),
		}
	}

	return CompletionEvent{
		OrderID:     o.ID.String(),
		Status:      string(o.Status),
		Total:       json.RawMessage(o.Total.StringFixed(2)),
		ProcessedAt: LocalTime(o.UpdatedAt),
		Items:       items,
	}
}

// Producer sends records to Kafka without waiting for acknowledgement.
type Producer interface {
	Produce(context.Context, kafka.Record)
}

// Publisher emits [CompletionEvent]s after the order row is committed.
// Publishing is fire-and-forget: a lost event never rolls back an
// already persisted order.
type Publisher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

// NewPublisher creates a [Publisher] emitting to topic.
func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{
		log:      orderservice.Logger("github.com/mouts-info/orderservice/event"),
		producer: producer,
		topic:    topic,
	}
}

// PublishCompleted emits a [CompletionEvent] for o, keyed by order id
// so events for one order stay in partition order.
func (p *Publisher) PublishCompleted(ctx context.Context, o *order.Order) error {
	ev := NewCompletionEvent(o)

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event: failed to marshal completion event: %w", err)
	}

	p.producer.Produce(ctx, kafka.Record{
		Topic: p.topic,
		Key:   []byte(ev.OrderID),
		Value: value,
	})

	p.log.InfoContext(
		ctx,
		"published order completion event",
		slog.String("order.id", ev.OrderID),
		kafka.TopicAttr(p.topic),
	)
	return nil
}
