package jsonutil

import (
	"errors"
	"fmt"
)

// ErrInvalidOutput is returned when Unmarshal is given a nil destination.
var ErrInvalidOutput = errors.New(ErrNilValue)

// ErrValueTooLarge is returned when input data exceeds MaxJSONSize.
var ErrValueTooLarge = errors.New("jsonutil: value exceeds maximum JSON size")

func wrapError(context string, err error) error {
	return fmt.Errorf("%s: %w", context, err)
}
