package decimalutil

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToDecimalFromFloat(t *testing.T) {
	d, err := ToDecimal(0.1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected 0.1, got %s", d)
	}
}

func TestToDecimalInvalidWithDefault(t *testing.T) {
	def := decimal.NewFromInt(5)
	d, err := ToDecimal("not-a-number", &def)
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if !d.Equal(def) {
		t.Fatalf("expected default 5, got %s", d)
	}
}

func TestToDecimalInvalidNoDefault(t *testing.T) {
	_, err := ToDecimal("not-a-number", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestToWeiFromWeiRoundTrip(t *testing.T) {
	cases := []string{"1.5", "0.000001", "123456.999999", "0", "0.1"}
	for _, c := range cases {
		d, err := decimal.NewFromString(c)
		if err != nil {
			t.Fatalf("bad fixture %s: %v", c, err)
		}
		wei := ToWei(d)
		back := FromWei(wei)
		if !back.Equal(d) {
			t.Errorf("round trip mismatch for %s: got %s", c, back)
		}
	}
}

func TestToWeiRoundsHalfUp(t *testing.T) {
	d := decimal.RequireFromString("1.0000005")
	wei := ToWei(d)
	if !wei.Equal(decimal.NewFromInt(1000001)) {
		t.Fatalf("expected 1000001, got %s", wei)
	}
}

func TestQuantizeSpread(t *testing.T) {
	d := decimal.RequireFromString("0.12345")
	got := QuantizeSpread(d)
	if !got.Equal(decimal.RequireFromString("0.1235")) {
		t.Fatalf("expected 0.1235, got %s", got)
	}
}
