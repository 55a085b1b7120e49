// Package status exports errors produced by the filestore packages.
//
// Callers serving HTTP translate ErrGateway into a gateway error response,
// and ErrFormat or ErrValidation into client or server errors.
package status

import (
	"github.com/oneconcern/relstore/pkg/errors"
)

var (
	// ErrFormat indicates a malformed hash spec or link shape
	ErrFormat = errors.New("format error")

	// ErrLookup indicates an unknown key or relative path
	ErrLookup = errors.New("lookup failure")

	// ErrValidation indicates a checksum or length mismatch
	ErrValidation = errors.New("validation error")

	// ErrGateway indicates that the remote origin or the primary returned a failure,
	// or that promised replicated content never arrived
	ErrGateway = errors.New("bad gateway")

	// ErrPrecondition indicates an operation invoked on an entry missing required prior state
	ErrPrecondition = errors.New("precondition violation")
)
