// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package order

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minPrice is the smallest accepted item price, 0.01.
var minPrice = decimal.New(1, -2)

// ItemRequest is a single requested line item as carried on the wire.
type ItemRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Request is the inbound order request payload.
type Request struct {
	Items []ItemRequest `json:"items"`
}

// DecodeRequest parses a JSON order request without validating it.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	if err != nil {
		return Request{}, fmt.Errorf("order: failed to decode request: %w", err)
	}
	return req, nil
}

// Validate checks the request against the ingestion constraints:
// at least one item, non-blank product ids, quantity >= 1 and
// price >= 0.01. Violations wrap [ErrInvalidRequest].
func (r Request) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: order must contain items", ErrInvalidRequest)
	}

	for i, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d has a blank product id", ErrInvalidRequest, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d has quantity %d, must be at least 1", ErrInvalidRequest, i, item.Quantity)
		}
		if item.Price.Cmp(minPrice) < 0 {
			return fmt.Errorf("%w: item %d has price %s, must be at least %s", ErrInvalidRequest, i, item.Price, minPrice)
		}
	}

	return nil
}
