package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
uid: A
peers:
  - uid: A
    address: 127.0.0.1:9001
  - uid: B
    address: 127.0.0.1:9002
  - uid: C
    address: 127.0.0.1:9003
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	c, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, "A", c.UID)
	require.Equal(t, 10*time.Second, c.SyncDelay)
	require.Equal(t, 5*time.Millisecond, c.BackoffInitial)
	require.Equal(t, 2000*time.Millisecond, c.BackoffCap)
	require.Equal(t, 3000*time.Millisecond, c.DriveSilenceTimeout)
	require.Equal(t, 1*time.Second, c.RetransmitInterval)
	require.Equal(t, 10*time.Second, c.LeaseWindow)
	require.Equal(t, "A.state.json", c.StatePath)
	require.Equal(t, 2, c.QuorumSize())
	require.ElementsMatch(t, []string{"B", "C"}, c.PeerUIDs())
}

func TestLoadFileRejectsUnknownSelf(t *testing.T) {
	path := writeConfig(t, `
uid: Z
peers:
  - uid: A
    address: 127.0.0.1:9001
`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsDuplicatePeers(t *testing.T) {
	path := writeConfig(t, `
uid: A
peers:
  - uid: A
    address: 127.0.0.1:9001
  - uid: A
    address: 127.0.0.1:9002
`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestAddressOf(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	c, err := LoadFile(path)
	require.NoError(t, err)

	addr, ok := c.AddressOf("B")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9002", addr)

	_, ok = c.AddressOf("nope")
	require.False(t, ok)
}
