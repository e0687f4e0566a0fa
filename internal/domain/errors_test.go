package domain

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendErrorKinds(t *testing.T) {
	t.Run("transient status", func(t *testing.T) {
		err := NewStatusError("embedding", "embed", 503, "unavailable")
		assert.True(t, errors.Is(err, ErrTransientBackend))
		assert.False(t, errors.Is(err, ErrPermanentBackend))
		assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", err)))
	})

	t.Run("permanent status", func(t *testing.T) {
		err := NewStatusError("embedding", "embed", 401, "bad key")
		assert.True(t, errors.Is(err, ErrPermanentBackend))
		assert.False(t, IsTransient(err))
		assert.Contains(t, err.Error(), "status 401")
	})

	t.Run("transport errors", func(t *testing.T) {
		assert.True(t, NewBackendError("x", "op", context.DeadlineExceeded).Transient)
		assert.True(t, NewBackendError("x", "op", fmt.Errorf("read: %w", syscall.ECONNRESET)).Transient)
		assert.False(t, NewBackendError("x", "op", errors.New("malformed")).Transient)
	})
}

func TestClassifyHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 425, 429, 500, 502, 503, 504} {
		assert.True(t, ClassifyHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		assert.False(t, ClassifyHTTPStatus(code), "status %d", code)
	}
}

func TestConfigError(t *testing.T) {
	err := ConfigError("dimension %d != %d", 3, 4)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "dimension 3 != 4")
}

func TestAccessFilterAllows(t *testing.T) {
	c := Chunk{DocID: "d1", AccessLevel: 2}
	assert.True(t, AccessFilter{MaxAccessLevel: 2}.Allows(c))
	assert.False(t, AccessFilter{MaxAccessLevel: 1}.Allows(c))
	assert.True(t, AccessFilter{MaxAccessLevel: 5, DocIDs: []string{"d0", "d1"}}.Allows(c))
	assert.False(t, AccessFilter{MaxAccessLevel: 5, DocIDs: []string{"d0"}}.Allows(c))
}
