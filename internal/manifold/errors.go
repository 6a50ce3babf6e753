package manifold

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is wrapped by every error caused by a bad vector or point.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfiguration is wrapped by errors caused by an unusable curvature or space setup.
	ErrConfiguration = errors.New("configuration error")
)

// DimensionError indicates a vector or point of the wrong length.
//
// It unwraps to ErrInvalidInput.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrInvalidInput }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
