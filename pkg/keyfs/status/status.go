// Package status exports errors produced by the keyfs package.
package status

import (
	"github.com/oneconcern/relstore/pkg/errors"
)

var (
	// ErrKeyNotFound indicates that no record is stored under a key or relative path
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnknownKey indicates that a relative path or a set of parameters does not fit any key pattern
	ErrUnknownKey = errors.New("unknown key")

	// ErrReadOnly indicates a mutation attempted on a read transaction
	ErrReadOnly = errors.New("read-only transaction")

	// ErrTxClosed indicates an operation on a committed or rolled back transaction
	ErrTxClosed = errors.New("transaction closed")

	// ErrSerialMismatch indicates an import at a serial which does not follow the last committed serial
	ErrSerialMismatch = errors.New("serial mismatch")

	// ErrDirtyRefresh indicates a refresh of a write transaction with staged changes
	ErrDirtyRefresh = errors.New("cannot refresh a transaction with pending changes")
)
