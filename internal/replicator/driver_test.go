package replicator

import (
	"testing"
	"time"

	"github.com/kvchain/multipaxos/internal/consensus"
	"github.com/stretchr/testify/assert"
)

func newTestDriver(t *testing.T, self string, peers []string) (*Driver, *fakeSender, *fakeTimers) {
	t.Helper()
	reg, sender, _ := newTestRegister(t, self, peers)
	timers := newFakeTimers()
	driver := NewDriver(reg, timers, DriverConfig{
		BackoffInitial:      5 * time.Millisecond,
		BackoffCap:          2 * time.Second,
		DriveSilenceTimeout: 3 * time.Second,
		RetransmitInterval:  time.Second,
	}, noopLogger())
	driver.setTop(driver)
	return driver, sender, timers
}

func TestDriveToResolutionBroadcastsPrepareAndArmsRetransmit(t *testing.T) {
	d, sender, timers := newTestDriver(t, "a", []string{"b", "c"})

	d.DriveToResolution()

	assert.Equal(t, 1, sender.broadcastCount())
	assert.True(t, timers.isArmed(SlotRetransmit))
	assert.Equal(t, time.Second, timers.intervalOf(SlotRetransmit))
}

func TestRetransmitTimerResendsPrepare(t *testing.T) {
	d, sender, timers := newTestDriver(t, "a", []string{"b", "c"})
	d.DriveToResolution()
	assert.Equal(t, 1, sender.broadcastCount())

	timers.trigger(SlotRetransmit)
	assert.Equal(t, 2, sender.broadcastCount())
}

func TestProposeUpdateDrivesToResolution(t *testing.T) {
	d, sender, _ := newTestDriver(t, "a", []string{"b", "c"})
	d.ProposeUpdate([]byte("v1"), true)
	assert.Equal(t, 1, sender.broadcastCount())
	assert.Equal(t, []byte("v1"), d.Instance().ProposedValue())
}

func TestReceiveNackDoublesBackoffAndReschedules(t *testing.T) {
	d, _, timers := newTestDriver(t, "a", []string{"b", "c"})
	d.DriveToResolution()

	pid := d.Instance().ProposalID()
	d.ReceiveNack("b", 0, pid, consensus.ProposalID{Number: 9, ProposerUID: "b"})

	assert.True(t, timers.isArmed(SlotDrive))
	assert.False(t, timers.isArmed(SlotRetransmit))
	assert.Equal(t, 10*time.Millisecond, d.backoffWindow)
}

func TestReceiveNackBackoffWindowCapsAtConfiguredMax(t *testing.T) {
	d, _, _ := newTestDriver(t, "a", []string{"b", "c"})
	d.DriveToResolution()
	pid := d.Instance().ProposalID()

	for i := 0; i < 20; i++ {
		d.ReceiveNack("b", 0, pid, consensus.ProposalID{Number: 9, ProposerUID: "b"})
	}
	assert.Equal(t, d.cfg.BackoffCap, d.backoffWindow)
}

func TestReceiveAcceptArmsSilentTakeoverTimer(t *testing.T) {
	d, _, timers := newTestDriver(t, "a", []string{"b", "c"})
	d.ReceiveAccept("b", 0, consensus.ProposalID{Number: 1, ProposerUID: "b"}, []byte("v1"))

	assert.True(t, timers.isArmed(SlotDrive))
	assert.Equal(t, 3*time.Second, timers.intervalOf(SlotDrive))
}

func TestAdvanceInstanceResetsBackoffWindow(t *testing.T) {
	d, _, timers := newTestDriver(t, "a", []string{"b", "c"})
	d.DriveToResolution()
	pid := d.Instance().ProposalID()
	d.ReceiveNack("b", 0, pid, consensus.ProposalID{Number: 9, ProposerUID: "b"})
	assert.NotEqual(t, d.cfg.BackoffInitial, d.backoffWindow)

	d.AdvanceInstance(1, []byte("decided"), false)

	assert.Equal(t, d.cfg.BackoffInitial, d.backoffWindow)
	assert.False(t, timers.isArmed(SlotRetransmit))
	assert.False(t, timers.isArmed(SlotDrive))
}
