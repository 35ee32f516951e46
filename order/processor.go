// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mouts-info/orderservice"

	"github.com/google/uuid"
)

// Store persists new order aggregates. Implementations must write the
// order and all of its items in a single transaction and return
// [ErrDuplicateKey] when the idempotency key is already present.
type Store interface {
	SaveNew(context.Context, *Order) error
}

// Processor turns validated order requests into persisted PROCESSED
// orders. The in-memory status walks RECEIVED -> PROCESSING -> PROCESSED
// within a single call; only the final state is ever persisted on the
// happy path.
type Processor struct {
	log   *slog.Logger
	store Store
}

// NewProcessor creates a [Processor] backed by the given store.
func NewProcessor(store Store) *Processor {
	return &Processor{
		log:   orderservice.Logger("github.com/mouts-info/orderservice/order"),
		store: store,
	}
}

// Process validates the request, computes the total with fixed-point
// arithmetic and saves the resulting PROCESSED order.
//
// Validation failures wrap [ErrInvalidRequest]. A save racing another
// consumer for the same idempotency key returns [ErrDuplicateKey].
// Everything else is considered transient. On any error no row is
// persisted; the store transaction rolls back.
func (p *Processor) Process(ctx context.Context, req Request, idempotencyKey string) (*Order, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key must not be empty", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o := &Order{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		Status:         StatusReceived,
		Items:          make([]OrderItem, len(req.Items)),
	}
	for i, item := range req.Items {
		o.Items[i] = OrderItem{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}

	if err := o.Transition(StatusProcessing); err != nil {
		return nil, err
	}

	o.Total = o.ComputeTotal()
	p.log.InfoContext(
		ctx,
		"calculated order total",
		slog.String("order.idempotency_key", idempotencyKey),
		slog.String("order.total", o.Total.String()),
	)

	if err := o.Transition(StatusProcessed); err != nil {
		return nil, err
	}

	err := p.store.SaveNew(ctx, o)
	if err != nil {
		return nil, err
	}

	p.log.InfoContext(
		ctx,
		"order processed and saved",
		slog.String("order.id", o.ID.String()),
		slog.String("order.idempotency_key", idempotencyKey),
	)

	return o, nil
}
