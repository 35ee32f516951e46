// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package order

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureStore struct {
	saved *Order
	err   error
}

func (s *captureStore) SaveNew(ctx context.Context, o *Order) error {
	if s.err != nil {
		return s.err
	}
	s.saved = o
	return nil
}

func TestProcessorProcess(t *testing.T) {
	validRequest := Request{
		Items: []ItemRequest{
			{ProductID: "sku-1", Quantity: 2, Price: decimal.RequireFromString("10.50")},
			{ProductID: "sku-2", Quantity: 1, Price: decimal.RequireFromString("4.25")},
		},
	}

	t.Run("will persist a processed order", func(t *testing.T) {
		t.Run("if the request is valid", func(t *testing.T) {
			store := &captureStore{}
			p := NewProcessor(store)

			o, err := p.Process(context.Background(), validRequest, "key-1")
			require.NoError(t, err)

			assert.Same(t, store.saved, o)
			assert.Equal(t, StatusProcessed, o.Status)
			assert.Equal(t, "key-1", o.IdempotencyKey)
			assert.True(t, decimal.RequireFromString("25.25").Equal(o.Total))
			assert.NotEqual(t, o.ID.String(), "00000000-0000-0000-0000-000000000000")

			require.Len(t, o.Items, 2)
			for _, item := range o.Items {
				assert.NotEqual(t, item.ID.String(), "00000000-0000-0000-0000-000000000000")
			}
		})
	})

	t.Run("will return an invalid request error", func(t *testing.T) {
		t.Run("if the idempotency key is empty", func(t *testing.T) {
			store := &captureStore{}
			p := NewProcessor(store)

			_, err := p.Process(context.Background(), validRequest, "")
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, store.saved)
		})

		t.Run("if the request fails validation", func(t *testing.T) {
			store := &captureStore{}
			p := NewProcessor(store)

			_, err := p.Process(context.Background(), Request{}, "key-1")
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, store.saved)
		})
	})

	t.Run("will pass through store errors", func(t *testing.T) {
		t.Run("if the save hits a duplicate idempotency key", func(t *testing.T) {
			store := &captureStore{err: ErrDuplicateKey}
			p := NewProcessor(store)

			_, err := p.Process(context.Background(), validRequest, "key-1")
			assert.ErrorIs(t, err, ErrDuplicateKey)
		})

		t.Run("if the save fails transiently", func(t *testing.T) {
			saveErr := errors.New("connection reset")
			store := &captureStore{err: saveErr}
			p := NewProcessor(store)

			_, err := p.Process(context.Background(), validRequest, "key-1")
			assert.ErrorIs(t, err, saveErr)
		})
	})
}
