package model

import (
	"errors"
	"fmt"
)

// BodyReadErrorKind tags the way a response body stream terminated abnormally.
type BodyReadErrorKind int

const (
	BodyReadClient BodyReadErrorKind = iota
	BodyReadIO
	BodyReadTimedOut
	BodyReadTooLarge
)

func (k BodyReadErrorKind) String() string {
	switch k {
	case BodyReadClient:
		return "client"
	case BodyReadIO:
		return "io"
	case BodyReadTimedOut:
		return "timed_out"
	case BodyReadTooLarge:
		return "body_too_large"
	default:
		return "unknown"
	}
}

// BodyReadError is the terminal value a body broadcast stream delivers to its
// consumers when it cannot continue. It is shared (never copied) so that every
// fan-out consumer observes the identical error value.
type BodyReadError struct {
	Kind BodyReadErrorKind
	Err  error
}

func (e *BodyReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("body read error (%s): %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("body read error: %s", e.Kind)
}

func (e *BodyReadError) Unwrap() error { return e.Err }

// ErrBodyTooLarge is returned (wrapped in a BodyReadError) when a response
// body exceeds the configured max_body_length.
var ErrBodyTooLarge = errors.New("response body exceeded configured limit")

// ErrTimedOut is returned when the HTTP header phase exceeds its timeout.
var ErrTimedOut = errors.New("response timed out")

// Kind tags a top level Evergarden error for the purposes of §7 propagation.
type Kind int

const (
	KindIO Kind = iota
	KindBodyRead
	KindJSON
	KindCache
	KindCompression
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindBodyRead:
		return "body_read"
	case KindJSON:
		return "json"
	case KindCache:
		return "cache"
	case KindCompression:
		return "compression"
	default:
		return "unknown"
	}
}

// Error is the shared error envelope returned by actors in the fetch/scrape
// pipeline. It carries a Kind so callers can make coarse-grained decisions
// (e.g. "was this a body error vs a storage error") without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func WrapIO(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Err: err}
}

func WrapJSON(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindJSON, Err: err}
}

func WrapCache(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindCache, Err: err}
}

func WrapCompression(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindCompression, Err: err}
}

func WrapBodyRead(err *BodyReadError) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindBodyRead, Err: err}
}
