// Package crawlerr defines the crawl core's error taxonomy. Every
// Fetch Result's error is one of these kinds rather than a bare error,
// so downstream retry/classification logic never has to re-derive
// what kind of failure occurred.
package crawlerr

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies why an operation failed.
type Kind string

const (
	NetworkTransient  Kind = "network_transient"
	NetworkPermanent  Kind = "network_permanent"
	HTTPClientError   Kind = "http_client_error"
	HTTPServerError   Kind = "http_server_error"
	ParseError        Kind = "parse_error"
	EncodingError     Kind = "encoding_error"
	Timeout           Kind = "timeout"
	TooLarge          Kind = "too_large"
	DisallowedByPolicy Kind = "disallowed_by_policy"
	TrapDetected      Kind = "trap_detected"
	Cancelled         Kind = "cancelled"
	StoreError        Kind = "store_error"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind    Kind
	Cause   error
	Message string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the fetcher/scheduler should attempt this
// operation again. Matches the fetcher's retryable-condition set:
// connect errors, read timeouts, 408, 425, 429, and 5xx.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case NetworkTransient, Timeout, HTTPServerError:
		return true
	case HTTPClientError:
		return e.statusRetryable()
	default:
		return false
	}
}

func (e *Error) statusRetryable() bool {
	return strings.Contains(e.Message, "408") || strings.Contains(e.Message, "425") || strings.Contains(e.Message, "429")
}

// New wraps cause as kind with a message.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Cause: cause, Message: message}
}

// FromHTTPStatus classifies an HTTP response status code.
func FromHTTPStatus(status int) *Error {
	switch {
	case status == 408 || status == 425 || status == 429:
		return New(HTTPClientError, fmt.Sprintf("status %d", status), nil)
	case status >= 400 && status < 500:
		return New(HTTPClientError, fmt.Sprintf("status %d", status), nil)
	case status >= 500 && status < 600:
		return New(HTTPServerError, fmt.Sprintf("status %d", status), nil)
	default:
		return nil
	}
}

// FromNetError classifies a network-layer error (connect/read/DNS),
// ported from the fetcher's categorizeError/isRetryableError pair.
func FromNetError(err error) *Error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(Timeout, "network timeout", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return New(NetworkPermanent, "dns error", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return New(NetworkTransient, "connection failed", err)
	}

	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate") {
		return New(NetworkPermanent, "tls error", err)
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "no such host", "eof", "broken pipe"} {
		if strings.Contains(errStr, pattern) {
			return New(NetworkTransient, "transient network error", err)
		}
	}

	return New(NetworkPermanent, "network error", err)
}

// As reports whether err is a *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
