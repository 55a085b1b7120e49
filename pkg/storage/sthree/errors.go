// Copyright © 2018 One Concern

package sthree

import (
	"net/http"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/storage/status"
)

// S3 error codes with a sentinel of their own.
// See: https://docs.aws.amazon.com/AmazonS3/latest/API/ErrorResponses.html#ErrorCodeList
var codeSentinels = map[string]*errors.Error{
	"NoSuchKey":         status.ErrNotExists,
	"NoSuchBucket":      status.ErrNotExists,
	"NotFound":          status.ErrNotExists, // HEAD requests and minio
	"InvalidBucketName": status.ErrInvalidResource,
}

var statusSentinels = map[int]*errors.Error{
	http.StatusUnauthorized: status.ErrUnauthorized,
	http.StatusForbidden:    status.ErrForbidden,
	http.StatusNotFound:     status.ErrNotFound,
}

// toSentinelErrors maps S3 request failures to storage sentinels, leaving other errors untouched
func toSentinelErrors(err error) error {
	var failure awserr.RequestFailure
	if err == nil || !errors.As(err, &failure) {
		return err
	}
	if sentinel, ok := codeSentinels[failure.Code()]; ok {
		return sentinel.Wrap(failure)
	}
	if sentinel, ok := statusSentinels[failure.StatusCode()]; ok {
		return sentinel.Wrap(failure)
	}
	return status.ErrStorageAPI.Wrap(failure)
}

// filterErrNotExists tells apart a missing object from a failed request
func filterErrNotExists(err error) error {
	if errors.Is(err, status.ErrNotExists) || errors.Is(err, status.ErrNotFound) {
		return nil
	}
	return err
}
