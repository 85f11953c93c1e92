package validation

import (
	"testing"
	"time"
)

func TestValidators(t *testing.T) {
	v := Violations{}
	Required("payment_reference", "  ", v)
	PositiveFloat("amount", 0, v)
	NonNegativeFloat("adjusted_amount", -1, v)
	RangeFloat("threshold", 2, 0, 1, v)
	IndexInRange("line_index", 3, 3, v)
	RequiredTime("expiry_date", time.Time{}, v)
	OneOf("format", false, v)

	want := map[string]string{
		"payment_reference": "required",
		"amount":            "must_be_positive",
		"adjusted_amount":   "must_not_be_negative",
		"threshold":         "out_of_range",
		"line_index":        "out_of_range",
		"expiry_date":       "required",
		"format":            "invalid_value",
	}
	for field, code := range want {
		if v[field] != code {
			t.Errorf("v[%q] = %q, want %q", field, v[field], code)
		}
	}
}

func TestValidators_Pass(t *testing.T) {
	v := Violations{}
	Required("reference", "PAY-1", v)
	PositiveFloat("amount", 1, v)
	NonNegativeFloat("adjusted_amount", 0, v)
	RangeFloat("threshold", 0.01, 0, 1, v)
	IndexInRange("line_index", 0, 1, v)
	RequiredTime("expiry_date", time.Now(), v)
	OneOf("format", true, v)
	if !v.Empty() {
		t.Errorf("expected no violations, got %v", v)
	}
}

func TestViolations_Error(t *testing.T) {
	v := Violations{"b": "required", "a": "out_of_range"}
	if got := v.Error(); got != "a: out_of_range, b: required" {
		t.Errorf("Error() = %q", got)
	}
}
