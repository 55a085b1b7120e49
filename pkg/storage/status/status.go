// Copyright © 2018 One Concern

// Package status holds the sentinel errors of blob stores, apart from
// pkg/storage so that backends and callers may import them without cycles.
//
// Backends wrap the underlying cause: match with errors.Is.
package status

import "github.com/oneconcern/relstore/pkg/errors"

// Missing objects
var (
	// ErrNotExists is returned for a key with no object
	ErrNotExists = errors.New("object doesn't exist")

	// ErrNotFound is returned when the backend cannot find some other resource, e.g. an upload
	ErrNotFound = errors.New("not found")
)

// Refused requests
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidResource = errors.New("invalid storage resource name")
	ErrExists          = errors.New("exists already")
	ErrNotSupported    = errors.New("not supported")
	ErrObjectTooBig    = errors.New("object too big to be read into memory")
)

// ErrStorageAPI wraps any other backend failure
var ErrStorageAPI = errors.New("storage API error")
