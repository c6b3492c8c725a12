package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mangoweb/nexus-router/pkg/validation"
)

// PriceQuote is one observation of an asset's USD price. Quotes are
// superseded, never mutated: a refresh stores a new value.
type PriceQuote struct {
	Symbol    string    `json:"symbol" validate:"required,assetsym"`
	USDPrice  float64   `json:"usd_price" validate:"required,gt=0"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Source    string    `json:"source" validate:"required"`
}

// Age reports how old the quote is at the given instant.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Validate validates the PriceQuote struct
func (q PriceQuote) Validate() error {
	if errs := validation.ValidateStruct(q); len(errs) > 0 {
		return errs
	}
	return nil
}

// ToMap converts the quote for the redis mirror hash.
func (q PriceQuote) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"symbol":    q.Symbol,
		"usd_price": fmt.Sprintf("%.8f", q.USDPrice),
		"ts":        q.Timestamp.Format(time.RFC3339Nano),
		"source":    q.Source,
	}
}

// GasQuote is one observation of a chain's gas price. NativePrice is the
// price of one gas unit denominated in the chain's native token (wei
// divided out), so cost in native units is simply gasLimit × NativePrice.
type GasQuote struct {
	Chain       ChainID   `json:"chain" validate:"required,chainid"`
	NativePrice float64   `json:"native_price" validate:"required,gt=0"`
	Congestion  float64   `json:"congestion"` // z-score against recent window, 0 when unknown
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Source      string    `json:"source" validate:"required"`
}

// Age reports how old the quote is at the given instant.
func (q GasQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Validate validates the GasQuote struct
func (q GasQuote) Validate() error {
	if errs := validation.ValidateStruct(q); len(errs) > 0 {
		return errs
	}
	return nil
}

// ToMap converts the quote for the redis mirror hash.
func (q GasQuote) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"chain":        string(q.Chain),
		"native_price": strconv.FormatFloat(q.NativePrice, 'g', -1, 64),
		"congestion":   strconv.FormatFloat(q.Congestion, 'g', -1, 64),
		"ts":           q.Timestamp.Format(time.RFC3339Nano),
		"source":       q.Source,
	}
}

// QuoteEvent is the JSON payload published on the quotes pub/sub channel for
// external consumers (dashboard, archiver). One of Price or Gas is set.
type QuoteEvent struct {
	Key   string      `json:"key"`
	Price *PriceQuote `json:"price,omitempty"`
	Gas   *GasQuote   `json:"gas,omitempty"`
}

// ToJSON serializes the event for publishing.
func (e QuoteEvent) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("json marshal error: %w", err)
	}
	return string(data), nil
}

// QuoteEventFromJSON parses a published quote event.
func QuoteEventFromJSON(data string) (QuoteEvent, error) {
	var e QuoteEvent
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return e, fmt.Errorf("json unmarshal error: %w", err)
	}
	if e.Price == nil && e.Gas == nil {
		return e, fmt.Errorf("quote event %q carries no quote", e.Key)
	}
	return e, nil
}
