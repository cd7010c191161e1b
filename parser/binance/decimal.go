package binance

import (
	"fmt"
	"math"
	"strconv"
)

// parseDecimal parses a vendor decimal string into a float64, later
// scaled to the canonical fixed-point representation during
// canonicalization. The float intermediate here is the last
// floating-point value Pointline ever computes with this number
// before schema.Scale.Encode fixes it. strconv.ParseFloat accepts the
// non-finite literals ("NaN", "Inf", "Infinity", ...) with a nil
// error; those are rejected here, matching how an overflowing finite
// literal already fails with ErrRange.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
