package core

import "errors"

// The engine reports failures through these sentinel values; all are
// local, recoverable conditions and never abort the hosting process.
var (
	// ErrInvalidStat flags an allocation request naming an unknown stat,
	// or one whose category does not match the catalogue.
	ErrInvalidStat = errors.New("unknown stat in allocation request")
	// ErrInvalidValue flags a malformed (negative) investment value.
	ErrInvalidValue = errors.New("investment value must be non-negative")
	// ErrLimitExceeded flags a requested investment above the stat's cap.
	ErrLimitExceeded = errors.New("investment exceeds stat limit")
	// ErrInsufficientPoints flags an allocation whose point delta exceeds
	// the subject's available points.
	ErrInsufficientPoints = errors.New("not enough available points")
	// ErrMissingRewardConfig flags an experience source with neither a
	// specific nor a universal reward configured.
	ErrMissingRewardConfig = errors.New("no experience reward configured for source")
	// ErrNotFound indicates a requested record is missing. Callers
	// hydrating subject state treat it as "use defaults", not a failure.
	ErrNotFound = errors.New("record not found")
)
