// Package trackererrors contains generic errors returned by the import tracker's service layer.
// The HTTP API looks for the error types defined in this file and sets the response status
// accordingly.
//
// If multiple errors occur in some function (e.g., several publishes failing), that function
// should return an error of type multierror.Error from package github.com/hashicorp/go-multierror
// that encapsulates those individual errors.
package trackererrors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrAlreadyExists is returned whenever some resource is already present, e.g. an import
// is already running for a target. Type and Message are optional.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "target" or "token"
	Value   string // Resource name, e.g., "http://uri.suomi.fi/terminology/foo"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "target"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrUnsupported is returned when a request names something this service does not handle,
// e.g. a subsystem outside the allow-list.
type ErrUnsupported struct {
	Name      string
	Value     string
	Supported []string
}

func (err *ErrUnsupported) Error() string {
	return fmt.Sprintf("unsupported %s %q (currently supported: %v)", err.Name, err.Value, err.Supported)
}

// ErrTransport wraps a failure to publish to, or receive from, a channel.
type ErrTransport struct {
	Channel string
	Op      string // "publish" or "receive"
	Cause   error
}

func (err *ErrTransport) Error() string {
	return fmt.Sprintf("transport %s on channel %q failed: %v", err.Op, err.Channel, err.Cause)
}

func (err *ErrTransport) Unwrap() error {
	return err.Cause
}

// ErrStaleUpdate is returned when a status update is older than what is already recorded for a job.
type ErrStaleUpdate struct {
	Token    string
	Incoming int64 // epoch millis of the rejected update
	Current  int64 // epoch millis already stored
	// Set when the update is rejected for a reason other than its timestamp.
	Reason string
}

func (err *ErrStaleUpdate) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("stale update for token %q: %s", err.Token, err.Reason)
	}
	return fmt.Sprintf("stale update for token %q: incoming timestamp %d is older than stored %d", err.Token, err.Incoming, err.Current)
}

// IsStaleUpdate reports whether err, or any error it wraps, is an *ErrStaleUpdate.
func IsStaleUpdate(err error) bool {
	var e *ErrStaleUpdate
	return errors.As(err, &e)
}

// HttpStatusFromError maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func HttpStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *ErrUnsupported
		if errors.As(err, &e) {
			return http.StatusNotAcceptable
		}
	}
	{
		var e *ErrTransport
		if errors.As(err, &e) {
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}
