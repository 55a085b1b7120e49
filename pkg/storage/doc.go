// Copyright © 2018 One Concern

// Package storage provides interface to handle backend storage objects.
//
// Release file contents (blobs) are kept in such a store, under a path
// derived from their logical key.
//
// This package supports the following backends:
//   - S3 (AWS)
//   - local file system
package storage
