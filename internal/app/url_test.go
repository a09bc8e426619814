package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpointAllInterfaces(t *testing.T) {
	ep, err := NormalizeEndpoint("http://0.0.0.0:9090", "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", ep.Loopback)
	assert.Equal(t, "http://192.168.1.5:9090", ep.LAN)
}

func TestNormalizeEndpointAllInterfacesNoLANAddress(t *testing.T) {
	ep, err := NormalizeEndpoint("http://0.0.0.0:9090", "")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", ep.Loopback)
	assert.Empty(t, ep.LAN)
}

func TestNormalizeEndpointIPv6Unspecified(t *testing.T) {
	ep, err := NormalizeEndpoint("http://[::]:9090", "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", ep.Loopback)
	assert.Equal(t, "http://10.0.0.7:9090", ep.LAN)
}

func TestNormalizeEndpointConcreteHostUnchanged(t *testing.T) {
	ep, err := NormalizeEndpoint("https://example.com:8443", "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443", ep.Loopback)
	assert.Empty(t, ep.LAN)
}

func TestNormalizeEndpointTrimsWhitespace(t *testing.T) {
	ep, err := NormalizeEndpoint("  http://127.0.0.1:9090 ", "")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", ep.Loopback)
}

func TestNormalizeEndpointRejectsIncomplete(t *testing.T) {
	_, err := NormalizeEndpoint("", "")
	assert.Error(t, err)

	_, err = NormalizeEndpoint("no-scheme-here", "")
	assert.Error(t, err)
}

func TestClassifyCrash(t *testing.T) {
	assert.Equal(t, CrashOOM, ClassifyCrash("oom"))
	assert.Equal(t, CrashOOM, ClassifyCrash("out-of-memory"))
	assert.Equal(t, CrashCrashed, ClassifyCrash("crashed"))
	assert.Equal(t, CrashKilled, ClassifyCrash("was-killed"))
	assert.Equal(t, CrashUnknown, ClassifyCrash("something-else"))
}
