// Package embed turns text into dense vectors by calling a remote
// inference endpoint. The backing models encode documents and queries
// asymmetrically, so every call is tagged with a Role that selects the
// task prefix prepended to the text.
package embed

import (
	"context"
	"errors"
)

// Role selects the task prefix applied before a text is embedded.
type Role int

const (
	// RoleDocument marks corpus passages being indexed.
	RoleDocument Role = iota
	// RoleQuery marks search queries.
	RoleQuery
)

// Prefix returns the task prefix for the role.
func (r Role) Prefix() string {
	if r == RoleQuery {
		return "query: "
	}
	return "passage: "
}

func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "document"
}

// Embedder produces a single vector for a text in the given role.
type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
}

// Failure kinds for a single embedding call. All are per-item recoverable:
// callers skip the item and continue.
var (
	// ErrTimeout means the endpoint did not answer within the call timeout.
	ErrTimeout = errors.New("embed: request timed out")
	// ErrStatus means the endpoint answered with a non-2xx status.
	ErrStatus = errors.New("embed: non-2xx status")
	// ErrDecode means the response body was not valid JSON.
	ErrDecode = errors.New("embed: malformed response")
	// ErrMissingKey means the configured vector key was absent.
	ErrMissingKey = errors.New("embed: vector key missing from response")
	// ErrNotVector means the extracted value was not a numeric sequence.
	ErrNotVector = errors.New("embed: response value is not a vector")
	// ErrDimensionMismatch means the vector length differs from the
	// configured dimensionality. Seeing this on the startup probe is a
	// configuration error and fatal.
	ErrDimensionMismatch = errors.New("embed: vector dimension mismatch")
)
