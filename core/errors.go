package core

import "errors"

var (
	// ErrPropagation indicates the orbit model could not produce a usable
	// state for the requested instant (library failure, non-finite output,
	// implausible radius, or elements too far from their epoch).
	ErrPropagation = errors.New("propagation failed")
	// ErrInvalidInstant indicates a missing instant or one without an explicit zone.
	ErrInvalidInstant = errors.New("invalid instant")
	// ErrInvalidElements indicates element lines that cannot be handed to SGP4.
	ErrInvalidElements = errors.New("invalid element set")
	// ErrInvalidWindow indicates a history window with a non-positive step or negative span.
	ErrInvalidWindow = errors.New("invalid history window")
)
