package domain

import "errors"

var (
	// ErrNotFound indicates that a requested credential record was not found.
	ErrNotFound = errors.New("credential not found")
	// ErrConflict indicates the conditional update lost a race: the record was
	// assigned or released concurrently and its state no longer matches the
	// expected pre-state.
	ErrConflict = errors.New("credential assignment conflict")
	// ErrPoolExhausted indicates no available credential remained after all
	// candidates were attempted.
	ErrPoolExhausted = errors.New("credential pool exhausted")
)
