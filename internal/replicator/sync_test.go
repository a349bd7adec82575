package replicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSync(t *testing.T, self string, peers []string) (*Sync, *fakeSender, *fakeTimers) {
	t.Helper()
	reg, sender, _ := newTestRegister(t, self, peers)
	timers := newFakeTimers()
	s := NewSync(reg, timers, sender, SyncConfig{SyncDelay: 10 * time.Second}, noopLogger())
	s.setTop(s)
	return s, sender, timers
}

func TestNewSyncArmsRecurringSyncTimerImmediately(t *testing.T) {
	_, sender, timers := newTestSync(t, "a", []string{"b", "c"})
	require.True(t, timers.isArmed(SlotSync))
	assert.Equal(t, 10*time.Second, timers.intervalOf(SlotSync))
	assert.Equal(t, 1, sender.peerCount("b")+sender.peerCount("c"))
}

func TestReceiveSyncRequestFromAheadPeerIsIgnored(t *testing.T) {
	s, sender, _ := newTestSync(t, "a", []string{"b", "c"})
	sender.toPeer = map[string][][]byte{} // clear the constructor's own sync_request

	s.ReceiveSyncRequest("b", 5) // requester claims instance 5, we're at 0
	assert.Equal(t, 0, sender.peerCount("b"))
}

func TestReceiveSyncRequestFromBehindPeerSendsCatchup(t *testing.T) {
	s, sender, _ := newTestSync(t, "a", []string{"b", "c"})
	s.AdvanceInstance(3, []byte("decided"), false)
	sender.toPeer = map[string][][]byte{}

	s.ReceiveSyncRequest("b", 0)
	assert.Equal(t, 1, sender.peerCount("b"))
}

func TestReceiveCatchupFromBehindPeerIsIgnored(t *testing.T) {
	s, _, _ := newTestSync(t, "a", []string{"b", "c"})
	s.AdvanceInstance(3, []byte("decided"), false)

	s.ReceiveCatchup("b", 1, []byte("stale"))
	assert.Equal(t, uint64(3), s.InstanceNumber())
}

func TestReceiveCatchupFromAheadPeerAdvancesPastGap(t *testing.T) {
	s, _, _ := newTestSync(t, "a", []string{"b", "c"})
	s.ReceiveCatchup("b", 9, []byte("far ahead"))

	assert.Equal(t, uint64(9), s.InstanceNumber())
	assert.Equal(t, []byte("far ahead"), s.CurrentValue())
}

func TestSyncTimerFiresAgainAgainstRandomPeer(t *testing.T) {
	s, sender, timers := newTestSync(t, "a", []string{"b", "c"})
	before := sender.peerCount("b") + sender.peerCount("c")

	timers.trigger(SlotSync)

	after := sender.peerCount("b") + sender.peerCount("c")
	assert.Equal(t, before+1, after)
}
