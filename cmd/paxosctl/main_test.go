package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/kvchain/multipaxos/internal/wire"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func TestRunSendsProposeDatagram(t *testing.T) {
	addr := freePort(t)
	laddr, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	listener, err := net.ListenUDP("udp", laddr)
	require.NoError(t, err)
	defer listener.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "peers.yaml")
	body := "peers:\n  - uid: A\n    address: " + addr + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	require.NoError(t, run(cfgPath, "A", "hello"))

	buf := make([]byte, 1024)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	env, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.TypePropose, env.Type)
	require.Equal(t, []byte("hello"), env.ProposeVal)
}

func TestRunRejectsUnknownPeer(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "peers.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("peers:\n  - uid: A\n    address: 127.0.0.1:1\n"), 0o644))

	err := run(cfgPath, "Z", "hello")
	require.Error(t, err)
}
