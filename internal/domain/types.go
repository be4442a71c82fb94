// Package domain defines the core value types shared across factorlab:
// assets, daily bars, pricing fields, data types and corporate-action events.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifies the exchange group a dataset belongs to.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Asset is a tradable security. SID is the stable integer identifier used by
// the adjustments database and as the column label of every 2D array.
type Asset struct {
	SID    int64
	Symbol string
}

func (a Asset) String() string {
	return fmt.Sprintf("%s(%d)", a.Symbol, a.SID)
}

// SIDs returns the integer identifiers of assets in order.
func SIDs(assets []Asset) []int64 {
	out := make([]int64, len(assets))
	for i, a := range assets {
		out[i] = a.SID
	}
	return out
}

// Bar is one daily OHLCV observation.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Field names a pricing column of a daily bar.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(s)); f {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		return f, nil
	}
	return "", fmt.Errorf("unknown pricing field %q", s)
}

// IsVolume reports whether f is the share volume field.
func (f Field) IsVolume() bool { return f == FieldVolume }

// DType is the element type carried by the field's arrays.
func (f Field) DType() DType {
	if f.IsVolume() {
		return Int64
	}
	return Float64
}

// Value extracts the field from a bar.
func (f Field) Value(b Bar) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldVolume:
		return float64(b.Volume)
	}
	return 0
}

// DType is the logical element type of an array. Every array is stored as
// float64; the DType decides how values are interpreted and what the missing
// value defaults to.
type DType uint8

const (
	InvalidDType DType = iota
	Float64
	Int64
	Bool
	// Datetime values are unix seconds; NaN is the null date.
	Datetime
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case Datetime:
		return "datetime"
	}
	return "invalid"
}

// Valid reports whether d is one of the supported element types.
func (d DType) Valid() bool {
	return d >= Float64 && d <= Datetime
}

// AdjustmentKind names a family of corporate actions.
type AdjustmentKind string

const (
	Mergers   AdjustmentKind = "mergers"
	Dividends AdjustmentKind = "dividends"
	Splits    AdjustmentKind = "splits"
)

// AdjustmentKinds lists the kinds in the order they are scheduled.
var AdjustmentKinds = []AdjustmentKind{Mergers, Dividends, Splits}

// AdjustmentEvent is one corporate action for a security: the effective date
// and the ratio (or amount) that historical values are multiplied by.
type AdjustmentEvent struct {
	SID   int64
	Date  time.Time
	Ratio float64
}

// Event is a point-in-time fact about a security: on KnowledgeDate we learn
// that something happens (or happened) on EventDate, carrying Value.
type Event struct {
	SID           int64
	KnowledgeDate time.Time
	EventDate     time.Time
	Value         float64
}

// AsOf is the first date the event may be acted upon: it cannot be known
// before it is announced nor before it happens.
func (e Event) AsOf() time.Time {
	if e.KnowledgeDate.After(e.EventDate) {
		return e.KnowledgeDate
	}
	return e.EventDate
}
