package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a remote send failed.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindRateLimited      ErrorKind = "rate_limited"
	KindTransientNetwork ErrorKind = "transient_network"
	KindChannelNotFound  ErrorKind = "channel_not_found"
	KindUnknown          ErrorKind = "unknown"
)

// SendError wraps a transport failure with its classification. The original
// adapter/API error stays reachable through Unwrap.
type SendError struct {
	Kind       ErrorKind
	Channel    Channel
	RetryAfter time.Duration // only set for rate_limited, when the API reports it
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: chat %s: %v", e.Kind, e.Channel, e.Err)
	}
	return fmt.Sprintf("%s: chat %s", e.Kind, e.Channel)
}

func (e *SendError) Unwrap() error { return e.Err }

func NewSendError(kind ErrorKind, to Channel, err error) *SendError {
	return &SendError{Kind: kind, Channel: to, Err: err}
}

func PermissionDenied(to Channel, err error) *SendError {
	return NewSendError(KindPermissionDenied, to, err)
}

func RateLimited(to Channel, retryAfter time.Duration, err error) *SendError {
	return &SendError{Kind: KindRateLimited, Channel: to, RetryAfter: retryAfter, Err: err}
}

func TransientNetwork(to Channel, err error) *SendError {
	return NewSendError(KindTransientNetwork, to, err)
}

func ChannelNotFound(to Channel, err error) *SendError {
	return NewSendError(KindChannelNotFound, to, err)
}

// KindOf extracts the classification from an error chain. Unclassified
// non-nil errors report KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func IsPermissionDenied(err error) bool { return KindOf(err) == KindPermissionDenied }
func IsRateLimited(err error) bool      { return KindOf(err) == KindRateLimited }
func IsTransientNetwork(err error) bool { return KindOf(err) == KindTransientNetwork }
func IsChannelNotFound(err error) bool  { return KindOf(err) == KindChannelNotFound }

// RetryAfterOf reports the API-provided cooldown for rate_limited errors,
// zero otherwise.
func RetryAfterOf(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
