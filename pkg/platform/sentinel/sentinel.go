package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: optimistic version check failed, someone else wrote first
// - ErrDuplicate: unique business key already taken
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrImmutable: field locked by the entity's current lifecycle state
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidState = errors.New("invalid state")
	ErrImmutable    = errors.New("immutable")
	ErrUnavailable  = errors.New("unavailable")
)
