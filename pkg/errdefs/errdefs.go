package errdefs

import (
	"net/http"

	"github.com/zeebo/errs"
)

// Error classes for the coordination core. Every error that crosses a
// component boundary is wrapped in exactly one of these so the HTTP layer
// can map it to a status code and wire token without string matching.
var (
	// Validation marks bad input or a broken precondition. Never retried.
	Validation = errs.Class("validation")

	// NotFound marks a lookup for an entity that does not exist.
	NotFound = errs.Class("not found")

	// Auth marks a missing or invalid bearer token.
	Auth = errs.Class("unauthorized")

	// Forbidden marks an authenticated caller acting outside its scope.
	Forbidden = errs.Class("forbidden")

	// Conflict marks a single-flight violation or unique constraint hit.
	Conflict = errs.Class("conflict")

	// Storage marks a transient database failure. Retried once with
	// backoff inside the storage layer before surfacing.
	Storage = errs.Class("storage")

	// Mutator marks a failure reported by the external package mutator.
	// Recorded on the operation row, never propagated to the process.
	Mutator = errs.Class("mutator")

	// Internal is the catch-all for unexpected failures.
	Internal = errs.Class("internal")
)

// Code returns the wire token for the error body schema.
func Code(err error) string {
	switch {
	case Validation.Has(err):
		return "VALIDATION_ERROR"
	case NotFound.Has(err):
		return "NOT_FOUND"
	case Auth.Has(err):
		return "UNAUTHORIZED"
	case Forbidden.Has(err):
		return "FORBIDDEN"
	case Conflict.Has(err):
		return "CONFLICT"
	case Storage.Has(err):
		return "STORAGE_ERROR"
	case Mutator.Has(err):
		return "MUTATOR_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps an error class to its response status code.
func HTTPStatus(err error) int {
	switch {
	case Validation.Has(err):
		return http.StatusBadRequest
	case NotFound.Has(err):
		return http.StatusNotFound
	case Auth.Has(err):
		return http.StatusUnauthorized
	case Forbidden.Has(err):
		return http.StatusForbidden
	case Conflict.Has(err):
		return http.StatusConflict
	case Storage.Has(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
