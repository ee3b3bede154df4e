package tax

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidInput is matched by every *InvalidInputError via errors.Is.
var ErrInvalidInput = errors.New("tax: invalid input")

// InvalidInputError reports an amount that cannot be interpreted as a real number.
type InvalidInputError struct {
	Field string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tax: %s must be numeric, got %q", e.Field, e.Value)
}

// Unwrap exposes the underlying parse failure.
func (e *InvalidInputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets callers match on ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ParseAmount converts raw into a finite float64. Surrounding whitespace is
// ignored and hexadecimal notation is rejected.
func ParseAmount(field, raw string) (float64, error) {
	text := strings.TrimSpace(raw)
	if isHex(text) {
		return 0, &InvalidInputError{Field: field, Value: raw, Err: errors.New("hexadecimal values are not accepted")}
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &InvalidInputError{Field: field, Value: raw, Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &InvalidInputError{Field: field, Value: raw, Err: errors.New("value is not finite")}
	}
	return value, nil
}

func isHex(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// ParseInput parses both amounts. Negative values are accepted; non-negativity
// is the caller's concern.
func ParseInput(income, relief string) (Input, error) {
	in, err := ParseAmount("income", income)
	if err != nil {
		return Input{}, err
	}
	rel, err := ParseAmount("relief", relief)
	if err != nil {
		return Input{}, err
	}
	return Input{Income: in, Relief: rel}, nil
}
