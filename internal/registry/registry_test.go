package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/orchestrator/internal/vault"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(make([]byte, 32))
	require.NoError(t, err)
	return v
}

func writeChannelsFile(t *testing.T, v *vault.Vault, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func sealCredential(t *testing.T, v *vault.Vault, plaintext string) string {
	t.Helper()
	ct, err := v.Seal(plaintext)
	require.NoError(t, err)
	return ct
}

func TestLoad_ParsesAndDecryptsChannels(t *testing.T) {
	v := testVault(t)
	token := sealCredential(t, v, "secret-token")

	body := `
channels:
  - id: chA
    name: Channel A
    active: true
    max_concurrent: 2
    max_concurrent_video: 1
    voice_id: voice-1
    storage_strategy: filesystem
    credentials:
      youtube: "` + token + `"
`
	path := writeChannelsFile(t, v, body)

	reg, err := Load(path, v)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	ch, ok := reg.Get("chA")
	require.True(t, ok)
	assert.Equal(t, "Channel A", ch.Name)
	assert.True(t, ch.Active)

	cred, ok := ch.Credential("youtube")
	require.True(t, ok)
	assert.Equal(t, "secret-token", cred)
}

func TestLoad_RejectsMissingID(t *testing.T) {
	v := testVault(t)
	body := `
channels:
  - name: No ID
    active: true
    max_concurrent: 1
    storage_strategy: filesystem
`
	path := writeChannelsFile(t, v, body)

	_, err := Load(path, v)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidStorageStrategy(t *testing.T) {
	v := testVault(t)
	body := `
channels:
  - id: chA
    max_concurrent: 1
    storage_strategy: not_a_real_strategy
`
	path := writeChannelsFile(t, v, body)

	_, err := Load(path, v)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "validation error"))
}

func TestLoad_RejectsMaxConcurrentBelowOne(t *testing.T) {
	v := testVault(t)
	body := `
channels:
  - id: chA
    max_concurrent: 0
    storage_strategy: filesystem
`
	path := writeChannelsFile(t, v, body)

	_, err := Load(path, v)
	require.Error(t, err)
}

func TestLoad_RejectsDuplicateChannelID(t *testing.T) {
	v := testVault(t)
	body := `
channels:
  - id: chA
    max_concurrent: 1
    storage_strategy: filesystem
  - id: chA
    max_concurrent: 1
    storage_strategy: filesystem
`
	path := writeChannelsFile(t, v, body)

	_, err := Load(path, v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate channel id")
}

func TestLoad_RejectsUndecryptableCredential(t *testing.T) {
	v := testVault(t)
	body := `
channels:
  - id: chA
    max_concurrent: 1
    storage_strategy: filesystem
    credentials:
      youtube: "not-valid-ciphertext"
`
	path := writeChannelsFile(t, v, body)

	_, err := Load(path, v)
	require.Error(t, err)
}

func TestGet_UnknownChannelReturnsFalse(t *testing.T) {
	v := testVault(t)
	path := writeChannelsFile(t, v, "channels: []\n")

	reg, err := Load(path, v)
	require.NoError(t, err)

	_, ok := reg.Get("missing")
	assert.False(t, ok)
}

func TestActive_OnlyReturnsActiveChannels(t *testing.T) {
	v := testVault(t)
	body := `
channels:
  - id: chA
    active: true
    max_concurrent: 1
    storage_strategy: filesystem
  - id: chB
    active: false
    max_concurrent: 1
    storage_strategy: filesystem
`
	path := writeChannelsFile(t, v, body)

	reg, err := Load(path, v)
	require.NoError(t, err)

	active := reg.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "chA", active[0].ID)
}

func TestReload_BadReloadLeavesPreviousSnapshotLive(t *testing.T) {
	v := testVault(t)
	good := `
channels:
  - id: chA
    active: true
    max_concurrent: 1
    storage_strategy: filesystem
`
	path := writeChannelsFile(t, v, good)

	reg, err := Load(path, v)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	bad := `
channels:
  - id: chB
    max_concurrent: 0
    storage_strategy: filesystem
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	err = reg.Reload()
	require.Error(t, err)

	// Previous snapshot must still be the one served.
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("chA")
	assert.True(t, ok)
}

func TestLen_EmptyRegistryIsZero(t *testing.T) {
	v := testVault(t)
	path := writeChannelsFile(t, v, "channels: []\n")

	reg, err := Load(path, v)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}
