// Package rfserr defines the error taxonomy shared across rss-fuse.
package rfserr

import "fmt"

// Kind is a closed taxonomy of error categories surfaced by rss-fuse
// components. The FUSE callbacks return POSIX errnos of their own and the
// CLI prints the error and exits with status 1; neither maps a Kind to an
// errno, exit code or hint.
type Kind string

const (
	FeedParse         Kind = "feed_parse"
	Network           Kind = "network"
	InvalidUrl        Kind = "invalid_url"
	Timeout           Kind = "timeout"
	Io                Kind = "io"
	Serialization     Kind = "serialization"
	Config            Kind = "config"
	Fuse              Kind = "fuse"
	Cache             Kind = "cache"
	ContentExtraction Kind = "content_extraction"
	Storage           Kind = "storage"
	PermissionDenied  Kind = "permission_denied"
	NotFound          Kind = "not_found"
	AlreadyExists     Kind = "already_exists"
	InvalidState      Kind = "invalid_state"
	ResourceExhausted Kind = "resource_exhausted"
	Unknown           Kind = "unknown"
)

// Error is the error type used throughout rss-fuse whenever a failure
// belongs to one of the Kinds above. It wraps an optional underlying cause
// so callers can still use errors.Is/errors.As/errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the stable code string for this error's Kind.
func (e *Error) Code() string {
	return string(e.Kind)
}

// IsTemporary reports whether a retry of the same operation might succeed.
func (e *Error) IsTemporary() bool {
	switch e.Kind {
	case Network, Timeout, Io:
		return true
	default:
		return false
	}
}

// IsUserError reports whether the failure is caused by user input or
// environment rather than an internal bug.
func (e *Error) IsUserError() bool {
	switch e.Kind {
	case InvalidUrl, Config, PermissionDenied:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// Unknown.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// As walks err's Unwrap chain and stores the first *Error it finds in
// target. It follows single-error Unwrap only, not Unwrap() []error.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
