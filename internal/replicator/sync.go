package replicator

import (
	"math/rand"
	"time"

	"github.com/kvchain/multipaxos/internal/consensus"
	"go.uber.org/zap"
)

// SyncConfig carries the tunable of spec.md §4.5.
type SyncConfig struct {
	SyncDelay time.Duration
}

// Sync is the Synchronization layer (spec.md §4.5): a peer that has fallen
// behind catches up without replaying every intermediate decision. It adds
// no behavior to any operation but the two it defines outright.
type Sync struct {
	inner Core
	top   Core

	timers Timers
	send   Sender
	log    *zap.Logger
	rng    *rand.Rand

	cfg SyncConfig
}

// NewSync wraps inner with periodic catch-up synchronization and arms its
// recurring sync_request timer immediately, mirroring the original's
// set_messenger-time LoopingCall start.
func NewSync(inner Core, timers Timers, send Sender, cfg SyncConfig, log *zap.Logger) *Sync {
	s := &Sync{
		inner:  inner,
		top:    inner,
		timers: timers,
		send:   send,
		log:    log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg:    cfg,
	}
	s.timers.ArmRepeating(SlotSync, s.cfg.SyncDelay, s.sendSyncRequest)
	s.sendSyncRequest()
	return s
}

func (s *Sync) setTop(top Core) {
	s.top = top
	if ts, ok := s.inner.(topSetter); ok {
		ts.setTop(top)
	}
}

func (s *Sync) sendSyncRequest() {
	peers := s.Peers()
	if len(peers) == 0 {
		return
	}
	uid := peers[s.rng.Intn(len(peers))]

	payload, err := encodeSyncRequest(s.InstanceNumber())
	if err != nil {
		s.log.Warn("replicator: failed to encode sync_request", zap.Error(err))
		return
	}
	if err := s.send.SendToPeer(uid, payload); err != nil {
		s.log.Debug("replicator: sync_request send failed", zap.String("to", uid), zap.Error(err))
	}
}

func (s *Sync) NetworkUID() string          { return s.inner.NetworkUID() }
func (s *Sync) InstanceNumber() uint64      { return s.inner.InstanceNumber() }
func (s *Sync) CurrentValue() []byte        { return s.inner.CurrentValue() }
func (s *Sync) Peers() []string             { return s.inner.Peers() }
func (s *Sync) QuorumSize() int             { return s.inner.QuorumSize() }
func (s *Sync) Instance() *consensus.Instance { return s.inner.Instance() }

func (s *Sync) ProposeUpdate(value []byte, applicationLevel bool) {
	s.inner.ProposeUpdate(value, applicationLevel)
}

func (s *Sync) AdvanceInstance(newInstanceNumber uint64, newCurrentValue []byte, catchup bool) {
	s.inner.AdvanceInstance(newInstanceNumber, newCurrentValue, catchup)
}

func (s *Sync) DriveToResolution() { s.inner.DriveToResolution() }
func (s *Sync) StopDriving()       { s.inner.StopDriving() }

func (s *Sync) SendPrepare(pid consensus.ProposalID)                { s.inner.SendPrepare(pid) }
func (s *Sync) SendAccept(pid consensus.ProposalID, value []byte)   { s.inner.SendAccept(pid, value) }
func (s *Sync) SendAccepted(pid consensus.ProposalID, value []byte) { s.inner.SendAccepted(pid, value) }

func (s *Sync) ReceivePrepare(fromUID string, instanceNumber uint64, pid consensus.ProposalID) {
	s.inner.ReceivePrepare(fromUID, instanceNumber, pid)
}

func (s *Sync) ReceivePromise(fromUID string, instanceNumber uint64, pid consensus.ProposalID, lastAcceptedID consensus.ProposalID, lastAcceptedValue []byte) {
	s.inner.ReceivePromise(fromUID, instanceNumber, pid, lastAcceptedID, lastAcceptedValue)
}

func (s *Sync) ReceiveAccept(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	s.inner.ReceiveAccept(fromUID, instanceNumber, pid, value)
}

func (s *Sync) ReceiveAccepted(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	s.inner.ReceiveAccepted(fromUID, instanceNumber, pid, value)
}

func (s *Sync) ReceiveNack(fromUID string, instanceNumber uint64, pid consensus.ProposalID, promisedID consensus.ProposalID) {
	s.inner.ReceiveNack(fromUID, instanceNumber, pid, promisedID)
}

// ReceiveSyncRequest implements spec.md §4.5: if the requester is behind,
// send it a catchup with our current instance number and value. Otherwise
// nothing to do — there's no inner layer that needs to see this message.
func (s *Sync) ReceiveSyncRequest(fromUID string, instanceNumber uint64) {
	if instanceNumber >= s.InstanceNumber() {
		return
	}

	payload, err := encodeCatchup(s.InstanceNumber(), s.CurrentValue())
	if err != nil {
		s.log.Warn("replicator: failed to encode catchup", zap.Error(err))
		return
	}
	if err := s.send.SendToPeer(fromUID, payload); err != nil {
		s.log.Debug("replicator: catchup send failed", zap.String("to", fromUID), zap.Error(err))
	}
}

// ReceiveCatchup implements spec.md §4.5's catch-up advancement: if the
// sender is further ahead, jump straight to its instance number and value,
// skipping any intermediate decisions by design.
func (s *Sync) ReceiveCatchup(fromUID string, instanceNumber uint64, currentValue []byte) {
	if instanceNumber <= s.InstanceNumber() {
		return
	}
	s.top.AdvanceInstance(instanceNumber, currentValue, true)
}
