package timeline

import (
	"github.com/tphakala/arstream/internal/errors"
)

// Component identifier for timeline errors
const ComponentTimeline = "timeline"

// Sentinel errors. Errors returned by this package match these with errors.Is
// through their category.
var (
	// ErrConfig is returned for invalid configuration or reconfiguration while buffers are outstanding
	ErrConfig = errors.New(errors.NewStd("invalid timeline configuration")).
		Component(ComponentTimeline).
		Category(errors.CategoryConfiguration).
		Build()

	// ErrIndexOutOfRange is returned when an element index is not below MaxElements
	ErrIndexOutOfRange = errors.New(errors.NewStd("element index out of range")).
		Component(ComponentTimeline).
		Category(errors.CategoryIndexRange).
		Build()

	// ErrCapacityExceeded is returned when the pool or a buffer's element slots are exhausted
	ErrCapacityExceeded = errors.New(errors.NewStd("capacity exceeded")).
		Component(ComponentTimeline).
		Category(errors.CategoryLimit).
		Build()

	// ErrNonMonotonicTimestamp is returned when a push is not newer than the last commit
	ErrNonMonotonicTimestamp = errors.New(errors.NewStd("non-monotonic timestamp")).
		Component(ComponentTimeline).
		Category(errors.CategoryOrdering).
		Build()

	// ErrInvalidTimestamp is returned when a buffer timestamp is zero, negative or not finite
	ErrInvalidTimestamp = errors.New(errors.NewStd("invalid timestamp")).
		Component(ComponentTimeline).
		Category(errors.CategoryValidation).
		Build()

	// ErrStaleReference is returned when a handle was committed, discarded, released or recycled
	ErrStaleReference = errors.New(errors.NewStd("stale buffer reference")).
		Component(ComponentTimeline).
		Category(errors.CategoryStaleReference).
		Build()

	// ErrNotConfigured is returned by producer operations before Configure
	ErrNotConfigured = errors.New(errors.NewStd("timeline not configured")).
		Component(ComponentTimeline).
		Category(errors.CategoryState).
		Build()

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New(errors.NewStd("timeline closed")).
		Component(ComponentTimeline).
		Category(errors.CategoryClosed).
		Build()
)
