package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RoundTrip(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Set("polaris", "vpnplus", []byte("secret")))

	got, err := m.Get("polaris", "vpnplus")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()

	_, err := m.Get("polaris", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set("polaris", "vpnplus", []byte("secret")))
	require.NoError(t, m.Delete("polaris", "vpnplus"))

	_, err := m.Get("polaris", "vpnplus")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, m.Delete("polaris", "vpnplus"))
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	original := []byte("secret")
	require.NoError(t, m.Set("polaris", "vpnplus", original))

	got, err := m.Get("polaris", "vpnplus")
	require.NoError(t, err)
	got[0] = 'X'

	again, err := m.Get("polaris", "vpnplus")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), again)
}
