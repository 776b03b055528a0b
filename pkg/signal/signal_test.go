package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/media_control/pkg/mgcp"
)

func onlyIP(name string) bool { return name == "ip" }

func TestNewBaseAcceptsWhitelistedParameters(t *testing.T) {
	b, err := NewBase("1", "AU", "pa", map[string]string{"ip": "hello.wav"}, onlyIP)
	require.NoError(t, err)

	assert.Equal(t, "1", b.RequestID())
	assert.Equal(t, "AU/pa", b.String())
	v, ok := b.Parameter("ip")
	assert.True(t, ok)
	assert.Equal(t, "hello.wav", v)
	assert.True(t, b.IsParameterSupported("ip"))
	assert.False(t, b.IsParameterSupported("xx"))

	params := b.Parameters()
	params["ip"] = "changed"
	v, _ = b.Parameter("ip")
	assert.Equal(t, "hello.wav", v, "Parameters возвращает копию")
}

func TestNewBaseRejectsUnsupportedParameters(t *testing.T) {
	_, err := NewBase("1", "AU", "pa", map[string]string{"ip": "a", "zz": "1", "qq": "2"}, onlyIP)
	require.Error(t, err)

	assert.ErrorIs(t, err, mgcp.ErrUnsupportedParameter)
	var mgcpErr *mgcp.Error
	require.ErrorAs(t, err, &mgcpErr)
	assert.Equal(t, mgcp.CategoryParameter, mgcpErr.Category)
	assert.Equal(t, mgcp.CodeEventSignalParameterError, mgcpErr.Code)
	assert.Contains(t, err.Error(), "[qq zz]")
}
