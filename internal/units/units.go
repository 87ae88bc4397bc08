// Package units converts between decimal-string prices/quantities and the
// integer unit amounts used at persistence and order-placement boundaries,
// backed by github.com/shopspring/decimal for lossless fixed-point parsing.
package units

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NumStrToIntUnits converts a decimal string to an integer at the given
// precision, e.g. "1.2345" at precision 8 becomes 123450000. The string may
// have fewer fractional digits than precision; it is zero-padded. It must
// not have more.
func NumStrToIntUnits(numStr string, precision int) (int64, error) {
	d, err := decimal.NewFromString(numStr)
	if err != nil {
		return 0, fmt.Errorf("units: parse %q: %w", numStr, err)
	}
	if -d.Exponent() > int32(precision) {
		return 0, fmt.Errorf("units: %q has more than %d fractional digits", numStr, precision)
	}

	scaled := d.Shift(int32(precision))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("units: %q does not scale to an integer at precision %d", numStr, precision)
	}
	return scaled.IntPart(), nil
}

// IntUnitsToNumStr converts an integer unit amount back to a decimal string
// at the given precision, the inverse of NumStrToIntUnits.
func IntUnitsToNumStr(intVal int64, precision int) string {
	d := decimal.New(intVal, -int32(precision))
	return d.StringFixed(int32(precision))
}
