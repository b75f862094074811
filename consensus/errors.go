package consensus

import "errors"

// Engine error taxonomy. All failures are synchronous and leave engine state
// untouched; none are retried internally.
var (
	// ErrNotFound means the proposal or agent id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation is not valid for the proposal's
	// current status, e.g. voting on a finalized proposal.
	ErrInvalidState = errors.New("invalid proposal state")
	// ErrIneligible means the agent is not in the proposal's eligible set.
	ErrIneligible = errors.New("agent not eligible for proposal")
	// ErrDeadlinePassed means the voting window has closed.
	ErrDeadlinePassed = errors.New("voting deadline passed")
	// ErrShuttingDown means the engine no longer accepts new proposals.
	ErrShuttingDown = errors.New("engine is shutting down")
)
