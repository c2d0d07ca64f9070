// Package apierr defines the closed error taxonomy surfaced to callers and
// the classifier that turns raw remote failures into it.
package apierr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies an error category.
type Kind int

const (
	KindSessionNotInitialized Kind = iota + 1
	KindPeerNotFound
	KindMessageNotFound
	KindQuotaExceeded
	KindRateLimited
	KindRemoteCallFailed
	KindLocalIoFailed
	KindInvalidArgument
)

var kindNames = map[Kind]string{
	KindSessionNotInitialized: "session_not_initialized",
	KindPeerNotFound:          "peer_not_found",
	KindMessageNotFound:       "message_not_found",
	KindQuotaExceeded:         "quota_exceeded",
	KindRateLimited:           "rate_limited",
	KindRemoteCallFailed:      "remote_call_failed",
	KindLocalIoFailed:         "local_io_failed",
	KindInvalidArgument:       "invalid_argument",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// DefaultRetryAfter is used when a rate-limit reply carries no wait value.
const DefaultRetryAfter = 60

// Error is the structured error returned by drive operations.
type Error struct {
	Kind    Kind
	Message string

	PeerID     int64 // PeerNotFound
	MessageID  int   // MessageNotFound
	Limit      int64 // QuotaExceeded
	Attempted  int64 // QuotaExceeded: used + requested
	RetryAfter int   // RateLimited, seconds

	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSessionNotInitialized) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrSessionNotInitialized = &Error{Kind: KindSessionNotInitialized}
	ErrPeerNotFound          = &Error{Kind: KindPeerNotFound}
	ErrMessageNotFound       = &Error{Kind: KindMessageNotFound}
	ErrQuotaExceeded         = &Error{Kind: KindQuotaExceeded}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrRemoteCallFailed      = &Error{Kind: KindRemoteCallFailed}
	ErrLocalIoFailed         = &Error{Kind: KindLocalIoFailed}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
)

// SessionNotInitialized reports that no live session exists.
func SessionNotInitialized() *Error {
	return &Error{Kind: KindSessionNotInitialized, Message: "client not initialized"}
}

// PeerNotFound reports a folder or chat id missing from the dialog list.
func PeerNotFound(id int64) *Error {
	return &Error{Kind: KindPeerNotFound, PeerID: id, Message: fmt.Sprintf("folder/chat %d not found", id)}
}

// MessageNotFound reports a missing message or a message without media.
func MessageNotFound(id int) *Error {
	return &Error{Kind: KindMessageNotFound, MessageID: id, Message: fmt.Sprintf("message %d not found", id)}
}

// QuotaExceeded reports a transfer that would cross the daily ceiling.
// message carries the human readable form built by the accountant.
func QuotaExceeded(limit, attempted int64, message string) *Error {
	return &Error{Kind: KindQuotaExceeded, Limit: limit, Attempted: attempted, Message: message}
}

// RateLimited reports a remote flood wait.
func RateLimited(seconds int) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: seconds, Message: fmt.Sprintf("FLOOD_WAIT_%d", seconds)}
}

// RemoteCallFailed wraps any other remote failure.
func RemoteCallFailed(msg string, err error) *Error {
	return &Error{Kind: KindRemoteCallFailed, Message: msg, Err: err}
}

// LocalIoFailed wraps a local filesystem failure.
func LocalIoFailed(msg string, err error) *Error {
	return &Error{Kind: KindLocalIoFailed, Message: msg, Err: err}
}

// InvalidArgument reports bad caller input.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

const floodMarker = "FLOOD_WAIT"

var floodValue = regexp.MustCompile(`\(value:\s*(\d+)\)`)

// Classify normalizes a failure from the remote backend. Errors already in
// the taxonomy pass through unchanged; nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	c := ClassifyText(err.Error())
	c.Err = err
	return c
}

// ClassifyText maps raw error text to RateLimited when it carries the flood
// marker, else to RemoteCallFailed with the text preserved.
func ClassifyText(text string) *Error {
	if !strings.Contains(text, floodMarker) {
		return RemoteCallFailed(text, nil)
	}
	seconds := DefaultRetryAfter
	if m := floodValue.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			seconds = n
		}
	}
	return RateLimited(seconds)
}
