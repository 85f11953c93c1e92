package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Error joins the violations in key order so the message is stable.
func (v Violations) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v[k]))
	}
	return strings.Join(parts, ", ")
}

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func PositiveFloat(field string, val float64, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

func NonNegativeFloat(field string, val float64, v Violations) {
	if val < 0 {
		v[field] = "must_not_be_negative"
	}
}

func RangeFloat(field string, val, minVal, maxVal float64, v Violations) {
	if val < minVal || val > maxVal {
		v[field] = "out_of_range"
	}
}

func IndexInRange(field string, idx, length int, v Violations) {
	if idx < 0 || idx >= length {
		v[field] = "out_of_range"
	}
}

func RequiredTime(field string, t time.Time, v Violations) {
	if t.IsZero() {
		v[field] = "required"
	}
}

// OneOf flags value when it is not a recognised option.
func OneOf(field string, ok bool, v Violations) {
	if !ok {
		v[field] = "invalid_value"
	}
}
