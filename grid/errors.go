package grid

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPrecision is returned for precision tags other than single or double.
	ErrUnsupportedPrecision = errors.New("unsupported precision")
	// ErrShapeMismatch is returned when two fields that must share a grid do not.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrPrecisionMismatch is returned when two fields that must share a precision do not.
	ErrPrecisionMismatch = errors.New("precision mismatch")
	// ErrNotContiguous is returned when an operation requires C-contiguous storage.
	// Inputs are never copied silently to satisfy this.
	ErrNotContiguous = errors.New("field is not contiguous")
	// ErrNotImplemented marks a permanent capability gap. It is not a
	// numerical failure and retrying cannot succeed.
	ErrNotImplemented = errors.New("not implemented")
)

// DimensionError reports a spatial rank outside of the supported set {2, 3}.
type DimensionError struct {
	Dimension int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// CheckDimension returns a *DimensionError unless dim is 2 or 3
func CheckDimension(dim int) error {
	if dim != 2 && dim != 3 {
		return &DimensionError{Dimension: dim}
	}
	return nil
}

// IsDimensionError reports whether err wraps a *DimensionError
func IsDimensionError(err error) bool {
	var de *DimensionError
	return errors.As(err, &de)
}
