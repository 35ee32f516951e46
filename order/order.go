// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package order holds the order domain model and the processing state machine.
package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an [Order].
type Status string

const (
	StatusReceived   Status = "RECEIVED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further status change is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status machine permits moving
// from s to next. There are no backward transitions and terminal
// states admit none at all.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusReceived:
		return next == StatusProcessing || next == StatusFailed || next == StatusCancelled
	case StatusProcessing:
		return next == StatusProcessed || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// OrderItem is a single line of an [Order]. Items are value-owned by
// their order; the order_id relation only exists at the persistence
// boundary.
type OrderItem struct {
	ID        uuid.UUID
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns price multiplied by quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the aggregate persisted by the ingestion pipeline.
type Order struct {
	ID             uuid.UUID
	IdempotencyKey string
	Status         Status
	Total          decimal.Decimal
	Items          []OrderItem
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
}

// Transition moves the order to next, enforcing the status machine.
func (o *Order) Transition(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("order: invalid status transition %s -> %s", o.Status, next)
	}
	o.Status = next
	return nil
}

// ComputeTotal returns the sum of the item subtotals, half-up rounded
// to scale 2. Money never touches floating-point.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total.Round(2)
}
