// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package order

import "errors"

var (
	// ErrInvalidRequest marks an order request which failed validation.
	// It is never retryable.
	ErrInvalidRequest = errors.New("order: invalid request")

	// ErrDuplicateKey is returned by stores when an order with the same
	// idempotency key already exists. It is never retryable; another
	// consumer instance won the race.
	ErrDuplicateKey = errors.New("order: idempotency key already exists")

	// ErrNotFound is returned by stores when no order matches a lookup.
	ErrNotFound = errors.New("order: not found")

	// ErrStaleVersion is returned by stores when an optimistic update
	// loses against a concurrent writer.
	ErrStaleVersion = errors.New("order: stale version")
)
