package acmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidf(t *testing.T) {
	err := Invalidf("bad input %d", 42)
	require.Error(t, err)
	assert.Equal(t, "bad input 42", err.Error())
	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsNotFound(err))
}

func TestNotFoundf(t *testing.T) {
	err := NotFoundf("could not find object %s", "deadbeef")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindObjectNotFound, KindOf(err))
}

func TestWrapPassesDomainErrorsThrough(t *testing.T) {
	inner := Invalidf("nope")
	wrapped := Wrap(fmt.Errorf("while doing things: %w", inner))

	assert.True(t, IsInvalidRequest(wrapped))
	assert.ErrorContains(t, wrapped, "nope")
}

func TestWrapConvertsUntypedErrors(t *testing.T) {
	wrapped := Wrap(errors.New("disk on fire"))

	assert.Equal(t, KindInternal, KindOf(wrapped))
	assert.Equal(t, "internal error", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "disk on fire")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "InvalidRequest", KindInvalidRequest.String())
	assert.Equal(t, "ObjectNotFound", KindObjectNotFound.String())
	assert.Equal(t, "SystemInternalError", KindInternal.String())
}
