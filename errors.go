package proxima

import (
	"errors"
	"fmt"

	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/vectorstore"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotFound is returned when an id is not present in the engine.
	ErrNotFound = errors.New("id not found")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch = distance.ErrDimensionMismatch

// ErrInvalidValue indicates a NaN or infinite vector component.
type ErrInvalidValue = vectorstore.ErrInvalidValue

// ErrInvalidDimension indicates an invalid configured dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

// ErrSnapshotMismatch indicates that an imported snapshot was written with
// an incompatible engine configuration.
type ErrSnapshotMismatch struct {
	Field    string
	Expected string
	Actual   string
}

func (e *ErrSnapshotMismatch) Error() string {
	return fmt.Sprintf("snapshot %s mismatch: engine has %s, snapshot has %s", e.Field, e.Expected, e.Actual)
}
