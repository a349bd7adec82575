package transport

import (
	"net"
	"testing"
	"time"

	"github.com/kvchain/multipaxos/internal/config"
	"github.com/kvchain/multipaxos/internal/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// freePort reserves an ephemeral UDP port on 127.0.0.1 and releases it,
// so the returned address is very likely free for the caller to rebind.
func freePort(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func twoPeerConf(t *testing.T, self string) (config.Conf, config.Conf) {
	addrA := freePort(t)
	addrB := freePort(t)
	peers := []config.Peer{
		{UID: "A", Address: addrA},
		{UID: "B", Address: addrB},
	}
	confA := config.Conf{UID: "A", Peers: peers}
	confB := config.Conf{UID: "B", Peers: peers}
	return confA, confB
}

func TestSendAndReceivePrepare(t *testing.T) {
	confA, confB := twoPeerConf(t, "A")
	log := zap.NewNop()

	ta, err := New(confA, log)
	require.NoError(t, err)
	defer ta.Close()

	tb, err := New(confB, log)
	require.NoError(t, err)
	defer tb.Close()

	msg := wire.Prepare{InstanceNumber: 1}
	raw, err := wire.EncodePrepare(msg)
	require.NoError(t, err)

	require.NoError(t, ta.Send("B", raw))

	select {
	case in := <-tb.Inbound():
		require.Equal(t, "A", in.From)
		require.Equal(t, wire.TypePrepare, in.Env.Type)
		require.Equal(t, msg.InstanceNumber, in.Env.Prepare.InstanceNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestBroadcastReachesEveryPeerIncludingSelf(t *testing.T) {
	confA, confB := twoPeerConf(t, "A")
	log := zap.NewNop()

	ta, err := New(confA, log)
	require.NoError(t, err)
	defer ta.Close()

	tb, err := New(confB, log)
	require.NoError(t, err)
	defer tb.Close()

	raw := wire.EncodePropose([]byte("v"))
	errs := ta.Broadcast(raw)
	require.Empty(t, errs)

	received := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case in := <-ta.Inbound():
			received[in.From] = true
			_ = in
		case in := <-tb.Inbound():
			received[in.From] = true
			_ = in
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for broadcast datagram %d", i)
		}
	}
	require.True(t, received["A"])
}

func TestSendToUnknownPeerFails(t *testing.T) {
	confA, _ := twoPeerConf(t, "A")
	log := zap.NewNop()

	ta, err := New(confA, log)
	require.NoError(t, err)
	defer ta.Close()

	err = ta.Send("nope", []byte("x"))
	require.Error(t, err)
}
