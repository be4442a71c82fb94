package pipeline

import (
	"math"

	"factorlab/internal/domain"
)

// Column is a loadable dataset column: the leaf data of a pipeline.
type Column struct {
	Dataset string
	Name    string
	DType   domain.DType
	Missing float64
}

// Key identifies the column across datasets, e.g. "equity_pricing.close".
func (c Column) Key() string { return c.Dataset + "." + c.Name }

func (c Column) String() string { return c.Key() }

// EquityPricingDataset is the dataset name of daily OHLCV columns.
const EquityPricingDataset = "equity_pricing"

// PricingColumn returns the pricing column for f. Every pricing column is
// float64 with NaN missing, volume included.
func PricingColumn(f domain.Field) Column {
	return Column{Dataset: EquityPricingDataset, Name: string(f), DType: domain.Float64, Missing: math.NaN()}
}

// EquityPricing holds the daily pricing columns.
var EquityPricing = struct {
	Open, High, Low, Close, Volume Column
}{
	Open:   PricingColumn(domain.FieldOpen),
	High:   PricingColumn(domain.FieldHigh),
	Low:    PricingColumn(domain.FieldLow),
	Close:  PricingColumn(domain.FieldClose),
	Volume: PricingColumn(domain.FieldVolume),
}

// Event dataset column names.
const (
	NextEventDate     = "next_event_date"
	PreviousEventDate = "previous_event_date"
	PreviousValue     = "previous_value"
)

// EventColumns are the columns an event dataset exposes.
type EventColumns struct {
	NextDate      Column
	PreviousDate  Column
	PreviousValue Column
}

// EventDataset returns the columns of the point-in-time event dataset name.
// Dates are datetime columns; the previous value is float64.
func EventDataset(name string) EventColumns {
	return EventColumns{
		NextDate:      Column{Dataset: name, Name: NextEventDate, DType: domain.Datetime, Missing: math.NaN()},
		PreviousDate:  Column{Dataset: name, Name: PreviousEventDate, DType: domain.Datetime, Missing: math.NaN()},
		PreviousValue: Column{Dataset: name, Name: PreviousValue, DType: domain.Float64, Missing: math.NaN()},
	}
}
