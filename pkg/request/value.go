package request

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// CastQueryValue casts a query parameter value to string.
// Strings, finite numbers and booleans are accepted, anything else is an ErrInvalidValue.
func CastQueryValue(value any, param string) (string, error) {
	if v, ok := castScalar(value); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: unexpected value for `%s` param", ErrInvalidValue, param)
}

// CastHeaderValue casts a header value to a list of strings.
//
// Strings, finite numbers and booleans are cast to a one item list.
// A slice or an array is cast item by item, the items cannot be slices again.
func CastHeaderValue(value any, header string) ([]string, error) {
	return castHeaderValue(value, header, false)
}

func castHeaderValue(value any, header string, inArray bool) ([]string, error) {
	if v, ok := castScalar(value); ok {
		return []string{v}, nil
	}

	if !inArray && isArray(value) {
		items := reflect.ValueOf(value)
		out := make([]string, 0, items.Len())
		for i := range items.Len() {
			v, err := castHeaderValue(items.Index(i).Interface(), header, true)
			if err != nil {
				return nil, err
			}
			out = append(out, v...)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: unexpected value for `%s` header", ErrInvalidValue, header)
}

// castScalar converts string, finite number and bool to string.
func castScalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return formatNumber(v, 64)
	case float32:
		return formatNumber(float64(v), 32)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
	default:
		return "", false
	}

	out, err := cast.ToStringE(value)
	if err != nil {
		return "", false
	}
	return out, true
}

// formatNumber formats a finite float the same way as Number.prototype.toString.
// The exponent notation is used below 1e-6 and from 1e21, e.g. "1e-7" and "1e+21".
func formatNumber(v float64, bitSize int) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	if v == 0 {
		// Negative zero too
		return "0", true
	}

	if abs := math.Abs(v); abs >= 1e21 || abs < 1e-6 {
		// Exponent without leading zeros, "1e-07" -> "1e-7"
		out := strconv.FormatFloat(v, 'e', -1, bitSize)
		mantissa, exponent, _ := strings.Cut(out, "e")
		sign, digits := exponent[:1], strings.TrimLeft(exponent[1:], "0")
		return mantissa + "e" + sign + digits, true
	}

	return strconv.FormatFloat(v, 'f', -1, bitSize), true
}

// isArray returns true for slices and arrays, except []byte, it is a raw buffer, not a list.
func isArray(value any) bool {
	if _, ok := value.([]byte); ok {
		return false
	}
	kind := reflect.ValueOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
