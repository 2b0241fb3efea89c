package grid

import (
	"fmt"
)

// Precision selects the floating point width of field and spectrum storage
type Precision uint8

const (
	Single Precision = iota + 1 // float32 / complex64
	Double                      // float64 / complex128
)

// ParsePrecision maps the configuration tags "single" and "double" to a Precision
func ParsePrecision(tag string) (Precision, error) {
	switch tag {
	case "single":
		return Single, nil
	case "double":
		return Double, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPrecision, tag)
	}
}

func (p Precision) String() string {
	switch p {
	case Single:
		return "single"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("Precision(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the supported precisions
func (p Precision) Valid() bool {
	return p == Single || p == Double
}

// RealSize returns the size in bytes of one real value
func (p Precision) RealSize() int {
	if p == Single {
		return 4
	}
	return 8
}
