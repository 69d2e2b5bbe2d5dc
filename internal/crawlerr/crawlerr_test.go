package crawlerr_test

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/crawlerr"
)

func TestError_ErrorStringIncludesKindAndMessage(t *testing.T) {
	e := crawlerr.New(crawlerr.Timeout, "request timed out", nil)
	assert.Contains(t, e.Error(), "timeout")
	assert.Contains(t, e.Error(), "request timed out")
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("underlying")
	e := crawlerr.New(crawlerr.NetworkTransient, "failed", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestError_RetryableByKind(t *testing.T) {
	cases := []struct {
		kind      crawlerr.Kind
		retryable bool
	}{
		{crawlerr.NetworkTransient, true},
		{crawlerr.Timeout, true},
		{crawlerr.HTTPServerError, true},
		{crawlerr.NetworkPermanent, false},
		{crawlerr.ParseError, false},
		{crawlerr.DisallowedByPolicy, false},
	}

	for _, tc := range cases {
		e := crawlerr.New(tc.kind, "x", nil)
		assert.Equal(t, tc.retryable, e.Retryable(), "kind %s", tc.kind)
	}
}

func TestFromHTTPStatus_ClassifiesClientAndServerErrors(t *testing.T) {
	e := crawlerr.FromHTTPStatus(404)
	require.NotNil(t, e)
	assert.Equal(t, crawlerr.HTTPClientError, e.Kind)
	assert.False(t, e.Retryable())

	e = crawlerr.FromHTTPStatus(500)
	require.NotNil(t, e)
	assert.Equal(t, crawlerr.HTTPServerError, e.Kind)
	assert.True(t, e.Retryable())

	e = crawlerr.FromHTTPStatus(429)
	require.NotNil(t, e)
	assert.Equal(t, crawlerr.HTTPClientError, e.Kind)
	assert.True(t, e.Retryable(), "429 is a retryable client error")
}

func TestFromHTTPStatus_SuccessReturnsNil(t *testing.T) {
	assert.Nil(t, crawlerr.FromHTTPStatus(200))
}

func TestFromNetError_NilReturnsNil(t *testing.T) {
	assert.Nil(t, crawlerr.FromNetError(nil))
}

func TestFromNetError_DNSErrorIsPermanent(t *testing.T) {
	e := crawlerr.FromNetError(&net.DNSError{Err: "no such host", Name: "example.invalid"})
	require.NotNil(t, e)
	assert.Equal(t, crawlerr.NetworkPermanent, e.Kind)
}

func TestFromNetError_ConnectionResetIsTransient(t *testing.T) {
	e := crawlerr.FromNetError(errors.New("read: connection reset by peer"))
	require.NotNil(t, e)
	assert.Equal(t, crawlerr.NetworkTransient, e.Kind)
}

func TestAs_ExtractsWrappedError(t *testing.T) {
	original := crawlerr.New(crawlerr.Timeout, "x", nil)
	wrapped := errors.New("context: " + original.Error())
	_, ok := crawlerr.As(wrapped)
	assert.False(t, ok, "a plain error wrapping only a string is not a *crawlerr.Error")

	e, ok := crawlerr.As(fmt.Errorf("context: %w", original))
	require.True(t, ok)
	assert.Equal(t, crawlerr.Timeout, e.Kind)
}
