package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetShared() {
	sharedClientLock.Lock()
	sharedClient = nil
	clientInitialized = false
	sharedClientLock.Unlock()
}

func TestInitHTTPClientFillsDefaults(t *testing.T) {
	resetShared()

	InitHTTPClient(&Config{})
	c := GetHTTPClient()

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok, "expected *http.Transport, got %T", c.Transport)
	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultRequestTimeout, c.Timeout)
	assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
}

func TestConfigureForFirewall(t *testing.T) {
	resetShared()

	ConfigureForFirewall(true, 45*time.Second)
	c := GetHTTPClient()

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, 45*time.Second, c.Timeout)

	ConfigureForFirewall(false, 0)
	assert.NotSame(t, c, GetHTTPClient())
	assert.Equal(t, defaultRequestTimeout, GetHTTPClient().Timeout)
}

func TestGetHTTPClientLazyInit(t *testing.T) {
	resetShared()
	c := GetHTTPClient()
	require.NotNil(t, c)
	assert.Same(t, c, GetHTTPClient())
}

func TestNewHTTPClientDoesNotTouchShared(t *testing.T) {
	resetShared()
	c := NewHTTPClient(&Config{MaxConnsPerHost: 3, InsecureSkipVerify: true})
	tr := c.Transport.(*http.Transport)
	assert.Equal(t, 3, tr.MaxConnsPerHost)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)

	sharedClientLock.RLock()
	defer sharedClientLock.RUnlock()
	assert.False(t, clientInitialized)
}
