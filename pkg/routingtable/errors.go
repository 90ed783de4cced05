package routingtable

import "errors"

var (
	// ErrInvalidArgument is returned for malformed or out-of-range input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAllocate is returned when growing storage would exceed the
	// configured limits. The table is left unchanged.
	ErrAllocate = errors.New("cannot allocate filter storage")

	// ErrArrayTooSmall is returned by Lookup when the output slice filled up
	// before every match was written.
	ErrArrayTooSmall = errors.New("output array too small")

	// ErrNotFound is returned when a node, filter or pattern does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNodeInactive is returned when mutating a node that was never added.
	ErrNodeInactive = errors.New("node is not active")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("routing table is closed")
)
