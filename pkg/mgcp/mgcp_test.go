package mgcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointID(t *testing.T) {
	id, err := ParseEndpointID("mobicents/ivr/1@127.0.0.1:2427")
	require.NoError(t, err)
	assert.Equal(t, "mobicents/ivr/1", id.LocalName)
	assert.Equal(t, "127.0.0.1:2427", id.Domain)
	assert.Equal(t, "mobicents/ivr/1@127.0.0.1:2427", id.String())

	for _, bad := range []string{"", "no-domain", "@domain", "name@"} {
		_, err := ParseEndpointID(bad)
		assert.Error(t, err, bad)
	}
}

func TestEventStringSortsParameters(t *testing.T) {
	e := NewEvent("AU", "oc").With("rc", "100").With("na", "1")

	assert.Equal(t, "AU/oc(na=1 rc=100)", e.String())
	assert.Equal(t, "AU/of", NewEvent("AU", "of").String())
	assert.True(t, Event{}.IsZero())

	rc, ok := e.Parameter("rc")
	assert.True(t, ok)
	assert.Equal(t, "100", rc)
}

func TestEventWithDoesNotMutateOriginal(t *testing.T) {
	base := NewEvent("AU", "oc").With("rc", "100")
	_ = base.With("na", "2")

	_, ok := base.Parameter("na")
	assert.False(t, ok)
}

func TestCallbackOnceDeliversExactlyOnce(t *testing.T) {
	calls := 0
	var got error
	cb := Once(Callback[int](func(_ int, err error) {
		calls++
		got = err
	}))

	boom := errors.New("boom")
	cb.Fail(boom)
	cb.Succeed(42)

	assert.Equal(t, 1, calls)
	assert.Equal(t, boom, got)

	var nilCallback Callback[int]
	assert.NotPanics(t, func() { nilCallback.Succeed(1) })
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("no ports")
	err := WrapError(CategoryNegotiation, CodeInsufficientResources, cause, "allocation failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInsufficientResources, CodeOf(err, 0))
	assert.Equal(t, 510, CodeOf(errors.New("plain"), 510))
	assert.Equal(t, "[NEGOTIATION:502] allocation failed: no ports", err.Error())
}
