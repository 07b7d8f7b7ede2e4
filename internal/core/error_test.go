package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()
	base := NewError(KindTransport, "log-query", "dial tcp: connection refused")
	wrapped := fmt.Errorf("searching: %w", base)

	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsAuth(wrapped))
	assert.Equal(t, "log-query: dial tcp: connection refused", base.Error())

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "log-query", e.Op)

	plain := errors.New("boom")
	assert.Equal(t, KindOther, KindOf(plain))
	assert.False(t, IsRetryable(plain))
	assert.Nil(t, WrapError(KindAuth, "x", nil))

	cause := errors.New("eof")
	w := WrapError(KindTransport, "commit", cause)
	assert.ErrorIs(t, w, cause)
	assert.ErrorIs(t, fmt.Errorf("ctx: %w", ErrNoTerms), ErrNoTerms)
	assert.True(t, IsValidation(ErrInvalidAction))
}

func TestClassifyMessage(t *testing.T) {
	t.Parallel()
	cases := map[string]Kind{
		"Get https://fw/api: context deadline exceeded": KindTransport,
		"read tcp: i/o timeout":                         KindTransport,
		"dial tcp 10.0.0.1:443: connection refused":     KindTransport,
		"lookup fw: no such host":                       KindTransport,
		"unexpected EOF":                                KindTransport,
		"Invalid credentials.":                          KindAuth,
		"403 Forbidden":                                 KindAuth,
		"Unauthorized":                                  KindAuth,
		"Invalid query syntax":                          KindOther,
	}
	for msg, want := range cases {
		assert.Equal(t, want, ClassifyMessage(msg), msg)
	}
}

func TestReason(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Reason(nil))
	assert.Equal(t, "request timeout: i/o timeout", Reason(NewError(KindTransport, "log-query", "i/o timeout")))
	assert.Equal(t, "connection error: connection refused", Reason(NewError(KindTransport, "", "connection refused")))
	assert.Equal(t, "authentication error: key expired", Reason(NewError(KindAuth, "keygen", "key expired")))
	assert.Equal(t, "commit: locked", Reason(NewError(KindRemote, "commit", "locked")))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
}
