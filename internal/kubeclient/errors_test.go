package kubeclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := newErr(ConnectionError, "dial failed", inner)

	assert.Contains(t, e.Error(), "ConnectionError")
	assert.Contains(t, e.Error(), "dial failed")
	assert.Contains(t, e.Error(), "boom")
	assert.Equal(t, inner, errors.Unwrap(e))
	assert.True(t, errors.Is(e, inner))
}

func TestError_WithoutWrappedErr(t *testing.T) {
	e := newErr(ConfigError, "bad config", nil)
	assert.Equal(t, "ConfigError: bad config", e.Error())
	assert.Nil(t, e.Unwrap())
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{ConfigError, "ConfigError"},
		{ConnectionError, "ConnectionError"},
		{AuthError, "AuthError"},
		{ProxyError, "ProxyError"},
		{Kind(999), "UnknownError"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
