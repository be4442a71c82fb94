package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// Verify enum constants are defined correctly.
	if MarketUS != "us" || MarketCN != "cn" {
		t.Error("Market constants have unexpected values")
	}
	if FieldVolume.DType() != Int64 {
		t.Errorf("FieldVolume.DType() = %v, want int64", FieldVolume.DType())
	}
	if FieldClose.DType() != Float64 {
		t.Errorf("FieldClose.DType() = %v, want float64", FieldClose.DType())
	}
	if InvalidDType.Valid() {
		t.Error("InvalidDType should not be valid")
	}
	if len(AdjustmentKinds) != 3 || AdjustmentKinds[0] != Mergers || AdjustmentKinds[2] != Splits {
		t.Errorf("AdjustmentKinds = %v, want [mergers dividends splits]", AdjustmentKinds)
	}
}

func TestParseField(t *testing.T) {
	f, err := ParseField("Close")
	if err != nil {
		t.Fatalf("ParseField(Close): %v", err)
	}
	if f != FieldClose {
		t.Errorf("ParseField(Close) = %q, want %q", f, FieldClose)
	}
	if _, err := ParseField("price"); err == nil {
		t.Error("ParseField(price) should fail")
	}
}

func TestFieldValue(t *testing.T) {
	b := Bar{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 300}
	cases := map[Field]float64{
		FieldOpen:   1,
		FieldHigh:   2,
		FieldLow:    0.5,
		FieldClose:  1.5,
		FieldVolume: 300,
	}
	for f, want := range cases {
		if got := f.Value(b); got != want {
			t.Errorf("%s.Value = %v, want %v", f, got, want)
		}
	}
}

func TestEventAsOf(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	before := Event{KnowledgeDate: d1, EventDate: d2}
	if !before.AsOf().Equal(d2) {
		t.Errorf("announced before event: AsOf = %v, want %v", before.AsOf(), d2)
	}
	after := Event{KnowledgeDate: d2, EventDate: d1}
	if !after.AsOf().Equal(d2) {
		t.Errorf("learned after event: AsOf = %v, want %v", after.AsOf(), d2)
	}
}

func TestSIDs(t *testing.T) {
	got := SIDs([]Asset{{SID: 3, Symbol: "C"}, {SID: 1, Symbol: "A"}})
	if len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Errorf("SIDs = %v, want [3 1]", got)
	}
}
