package replicator

import (
	"math/rand"
	"time"

	"github.com/kvchain/multipaxos/internal/consensus"
	"go.uber.org/zap"
)

// DriverConfig carries the tunables of spec.md §4.4.
type DriverConfig struct {
	BackoffInitial      time.Duration
	BackoffCap          time.Duration
	DriveSilenceTimeout time.Duration
	RetransmitInterval  time.Duration
}

// Driver is the Resolution Driver layer (spec.md §4.4): it adds liveness on
// top of the Replicated Register — exponential backoff on contention, and a
// silent-takeover timer that steps in if the current driver seems to have
// failed.
type Driver struct {
	inner Core
	top   Core

	timers Timers
	log    *zap.Logger
	rng    *rand.Rand

	cfg           DriverConfig
	backoffWindow time.Duration
}

// NewDriver wraps inner with resolution-driving liveness.
func NewDriver(inner Core, timers Timers, cfg DriverConfig, log *zap.Logger) *Driver {
	return &Driver{
		inner:         inner,
		top:           inner,
		timers:        timers,
		log:           log,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg:           cfg,
		backoffWindow: cfg.BackoffInitial,
	}
}

func (d *Driver) setTop(top Core) {
	d.top = top
	if ts, ok := d.inner.(topSetter); ok {
		ts.setTop(top)
	}
}

func (d *Driver) NetworkUID() string          { return d.inner.NetworkUID() }
func (d *Driver) InstanceNumber() uint64      { return d.inner.InstanceNumber() }
func (d *Driver) CurrentValue() []byte        { return d.inner.CurrentValue() }
func (d *Driver) Peers() []string             { return d.inner.Peers() }
func (d *Driver) QuorumSize() int             { return d.inner.QuorumSize() }
func (d *Driver) Instance() *consensus.Instance { return d.inner.Instance() }

// rescheduleNextDriveAttempt replaces whatever delayed drive attempt is
// pending with one that fires in delay, calling top.DriveToResolution so a
// Master-Lease layer above this one, if present, gets first say.
func (d *Driver) rescheduleNextDriveAttempt(delay time.Duration) {
	d.timers.ArmOnce(SlotDrive, delay, func() { d.top.DriveToResolution() })
}

// DriveToResolution implements spec.md §4.4's base driving behavior: stop
// whatever was in flight, advance to a new proposal number, and broadcast +
// retransmit the Prepare until superseded.
func (d *Driver) DriveToResolution() {
	d.StopDriving()

	prep := d.Instance().Prepare()

	d.timers.ArmRepeating(SlotRetransmit, d.cfg.RetransmitInterval, func() {
		d.top.SendPrepare(prep.ProposalID)
	})
	d.top.SendPrepare(prep.ProposalID)
}

// StopDriving cancels both of this layer's timers.
func (d *Driver) StopDriving() {
	d.timers.Cancel(SlotRetransmit)
	d.timers.Cancel(SlotDrive)
}

// ProposeUpdate forwards to the register, then kicks off driving — the
// call goes through top so a Master-Lease layer's override runs instead,
// if present.
func (d *Driver) ProposeUpdate(value []byte, applicationLevel bool) {
	d.inner.ProposeUpdate(value, applicationLevel)
	d.top.DriveToResolution()
}

// AdvanceInstance forwards to the register and then resets this layer's
// driving state for the new instance.
func (d *Driver) AdvanceInstance(newInstanceNumber uint64, newCurrentValue []byte, catchup bool) {
	d.inner.AdvanceInstance(newInstanceNumber, newCurrentValue, catchup)
	d.StopDriving()
	d.backoffWindow = d.cfg.BackoffInitial
}

// SendPrepare is a pure passthrough: nothing at this layer changes how a
// Prepare is transmitted, only how it gets retransmitted (see
// DriveToResolution).
func (d *Driver) SendPrepare(pid consensus.ProposalID) { d.inner.SendPrepare(pid) }

// SendAccept replaces any retransmission already in flight with one that
// resends this exact Accept until advancement or contention forces a new
// round (spec.md §4.4's Accept retransmission, resolved per the Open
// Question to share retransmit_interval with the Prepare retransmit loop).
func (d *Driver) SendAccept(pid consensus.ProposalID, value []byte) {
	d.timers.Cancel(SlotRetransmit)
	d.timers.ArmRepeating(SlotRetransmit, d.cfg.RetransmitInterval, func() {
		d.inner.SendAccept(pid, value)
	})
	d.inner.SendAccept(pid, value)
}

// SendAccepted is a pure passthrough.
func (d *Driver) SendAccepted(pid consensus.ProposalID, value []byte) {
	d.inner.SendAccepted(pid, value)
}

// ReceivePrepare is a pure passthrough: this layer adds no behavior to
// handling an inbound Prepare.
func (d *Driver) ReceivePrepare(fromUID string, instanceNumber uint64, pid consensus.ProposalID) {
	d.inner.ReceivePrepare(fromUID, instanceNumber, pid)
}

// ReceivePromise is a pure passthrough.
func (d *Driver) ReceivePromise(fromUID string, instanceNumber uint64, pid consensus.ProposalID, lastAcceptedID consensus.ProposalID, lastAcceptedValue []byte) {
	d.inner.ReceivePromise(fromUID, instanceNumber, pid, lastAcceptedID, lastAcceptedValue)
}

// ReceiveAccept forwards to the register, then arms the silent-takeover
// timer: if no further Accept for this instance arrives before
// drive_silence_timeout elapses, this peer assumes the current driver has
// failed and steps in. Each further Accept re-arms the timer.
func (d *Driver) ReceiveAccept(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	if instanceNumber != d.InstanceNumber() {
		return
	}
	d.inner.ReceiveAccept(fromUID, instanceNumber, pid, value)
	d.rescheduleNextDriveAttempt(d.cfg.DriveSilenceTimeout)
}

// ReceiveAccepted is a pure passthrough.
func (d *Driver) ReceiveAccepted(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	d.inner.ReceiveAccepted(fromUID, instanceNumber, pid, value)
}

// ReceiveNack forwards to the register, stops any in-flight drive, and
// schedules a new attempt after a randomized exponential backoff — this is
// what breaks lockstep duelling proposers (spec.md §4.4).
func (d *Driver) ReceiveNack(fromUID string, instanceNumber uint64, pid consensus.ProposalID, promisedID consensus.ProposalID) {
	if instanceNumber != d.InstanceNumber() {
		return
	}
	d.inner.ReceiveNack(fromUID, instanceNumber, pid, promisedID)

	d.StopDriving()

	d.backoffWindow *= 2
	if d.backoffWindow > d.cfg.BackoffCap {
		d.backoffWindow = d.cfg.BackoffCap
	}

	delay := time.Duration(d.rng.Int63n(int64(d.backoffWindow)))
	d.rescheduleNextDriveAttempt(delay)
}

func (d *Driver) ReceiveSyncRequest(fromUID string, instanceNumber uint64) {
	d.inner.ReceiveSyncRequest(fromUID, instanceNumber)
}

func (d *Driver) ReceiveCatchup(fromUID string, instanceNumber uint64, currentValue []byte) {
	d.inner.ReceiveCatchup(fromUID, instanceNumber, currentValue)
}
