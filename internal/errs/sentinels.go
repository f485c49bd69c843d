// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist in the caller's scope.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but not a member of the venue.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the sync quota for (user, venue) is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamAuth indicates the OAuth provider rejected the refresh grant.
	ErrUpstreamAuth = errors.New("upstream auth failed")

	// ErrUpstream indicates the calendar provider rejected an event operation.
	ErrUpstream = errors.New("upstream call failed")
)
