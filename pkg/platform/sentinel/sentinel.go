package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a uniqueness rule was violated (document number, token id)
//   - ErrUnavailable: dependency is down or short-circuited
//   - ErrIndeterminate: a remote call may or may not have taken effect
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnavailable   = errors.New("unavailable")
	ErrIndeterminate = errors.New("indeterminate outcome")
)
