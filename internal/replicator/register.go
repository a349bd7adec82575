package replicator

import (
	"github.com/kvchain/multipaxos/internal/consensus"
	"github.com/kvchain/multipaxos/internal/storage"
	"go.uber.org/zap"
)

// Register is the innermost layer (spec.md §4.3): it bridges the wire to
// the Paxos Instance for the current link, persists before ever replying
// with a Promise or Accepted, and advances the multi-paxos chain on
// resolution. It has no layer beneath it, so every operation it implements
// is the base case the outer layers add behavior around.
type Register struct {
	networkUID string
	peers      []string
	quorumSize int

	store storage.Store
	send  Sender
	log   *zap.Logger

	instanceNumber uint64
	currentValue   []byte
	paxos          *consensus.Instance

	top Core
}

// NewRegister boots a Register from whatever record the store holds —
// a fresh zero record on first boot, or the durable state of a crashed and
// restarted peer (spec.md §4.1, §4.3).
func NewRegister(networkUID string, peers []string, quorumSize int, store storage.Store, send Sender, log *zap.Logger) (*Register, error) {
	rec, err := store.Load()
	if err != nil {
		return nil, err
	}

	r := &Register{
		networkUID:     networkUID,
		peers:          peers,
		quorumSize:     quorumSize,
		store:          store,
		send:           send,
		log:            log,
		instanceNumber: rec.InstanceNumber,
		currentValue:   rec.CurrentValue,
	}
	r.paxos = consensus.NewInstance(networkUID, quorumSize, rec.PromisedOrZero(), rec.AcceptedOrZero(), rec.AcceptedValue)
	r.top = r
	return r, nil
}

func (r *Register) setTop(top Core) { r.top = top }

func (r *Register) NetworkUID() string          { return r.networkUID }
func (r *Register) InstanceNumber() uint64       { return r.instanceNumber }
func (r *Register) CurrentValue() []byte         { return r.currentValue }
func (r *Register) Peers() []string              { return r.peers }
func (r *Register) QuorumSize() int              { return r.quorumSize }
func (r *Register) Instance() *consensus.Instance { return r.paxos }

// saveState persists the full mutable record (spec.md §4.1's save_state):
// the caller must not send the reply this save is gating until it returns
// nil.
func (r *Register) saveState(promisedID, acceptedID consensus.ProposalID, acceptedValue []byte) error {
	rec := storage.Record{
		InstanceNumber: r.instanceNumber,
		CurrentValue:   r.currentValue,
	}
	if !promisedID.IsZero() {
		p := promisedID
		rec.PromisedID = &p
	}
	if !acceptedID.IsZero() {
		a := acceptedID
		rec.AcceptedID = &a
		rec.AcceptedValue = acceptedValue
	}
	return r.store.Save(rec)
}

// ProposeUpdate forwards v to the Paxos Instance only if no value has yet
// been proposed for this instance (spec.md §4.3's propose_update).
func (r *Register) ProposeUpdate(value []byte, applicationLevel bool) {
	if r.paxos.ProposedValue() == nil {
		r.paxos.ProposeValue(value)
	}
}

// AdvanceInstance implements spec.md §4.3's advancement: persist a fresh
// record at the new instance number, replace the Paxos Instance, and log.
func (r *Register) AdvanceInstance(newInstanceNumber uint64, newCurrentValue []byte, catchup bool) {
	r.instanceNumber = newInstanceNumber
	r.currentValue = newCurrentValue

	if err := r.saveState(consensus.ProposalID{}, consensus.ProposalID{}, nil); err != nil {
		r.log.Fatal("replicator: persist failure on advance, cannot safely continue", zap.Error(err))
	}

	r.paxos = consensus.NewInstance(r.networkUID, r.quorumSize, consensus.ProposalID{}, consensus.ProposalID{}, nil)

	r.log.Debug("replicator: advanced instance",
		zap.Uint64("instance", newInstanceNumber),
		zap.Bool("catchup", catchup))
}

// DriveToResolution / StopDriving have no meaning at this layer; the
// Resolution Driver is the layer that defines liveness. The base layer's
// implementation is a no-op so tests can exercise Register alone.
func (r *Register) DriveToResolution() {}
func (r *Register) StopDriving()       {}

// SendPrepare/SendAccept/SendAccepted are the broadcast primitives of
// spec.md §4.3: transmit to every peer. Higher layers wrap these to add
// retransmission.
func (r *Register) SendPrepare(pid consensus.ProposalID) {
	r.broadcastEncoded(encodePrepare(r.instanceNumber, pid))
}

func (r *Register) SendAccept(pid consensus.ProposalID, value []byte) {
	r.broadcastEncoded(encodeAccept(r.instanceNumber, pid, value))
}

func (r *Register) SendAccepted(pid consensus.ProposalID, value []byte) {
	r.broadcastEncoded(encodeAccepted(r.instanceNumber, pid, value))
}

func (r *Register) broadcastEncoded(payload []byte, err error) {
	if err != nil {
		r.log.Warn("replicator: failed to encode outbound message", zap.Error(err))
		return
	}
	r.send.SendToAllPeers(payload)
}

// ReceivePrepare implements spec.md §4.3's inbound policy: drop messages
// for any instance but the current one, otherwise forward into the Paxos
// Instance and persist before replying.
func (r *Register) ReceivePrepare(fromUID string, instanceNumber uint64, pid consensus.ProposalID) {
	if instanceNumber != r.instanceNumber {
		return
	}

	promise, nack := r.paxos.ReceivePrepare(consensus.Prepare{From: fromUID, ProposalID: pid})
	if nack != nil {
		r.sendNack(fromUID, pid, nack.PromisedID)
		return
	}

	if err := r.saveState(promise.ProposalID, promise.LastAcceptedID, promise.LastAcceptedValue); err != nil {
		r.log.Fatal("replicator: persist failure before promise, cannot safely continue", zap.Error(err))
	}

	payload, err := encodePromise(r.instanceNumber, promise.ProposalID, promise.LastAcceptedID, promise.LastAcceptedValue)
	if err != nil {
		r.log.Warn("replicator: failed to encode promise", zap.Error(err))
		return
	}
	if err := r.send.SendToPeer(fromUID, payload); err != nil {
		r.log.Warn("replicator: send promise failed", zap.String("to", fromUID), zap.Error(err))
	}
}

// ReceivePromise forwards the promise into the Paxos Instance, and if a
// quorum has now been reached, sends the resulting Accept through top so
// outer layers (retransmission) can wrap it.
func (r *Register) ReceivePromise(fromUID string, instanceNumber uint64, pid consensus.ProposalID, lastAcceptedID consensus.ProposalID, lastAcceptedValue []byte) {
	if instanceNumber != r.instanceNumber {
		return
	}

	accept := r.paxos.ReceivePromise(consensus.Promise{
		From: fromUID, To: r.networkUID, ProposalID: pid,
		LastAcceptedID: lastAcceptedID, LastAcceptedValue: lastAcceptedValue,
	})
	if accept != nil {
		r.top.SendAccept(accept.ProposalID, accept.Value)
	}
}

// ReceiveAccept persists the acceptance before replying, per spec.md §4.3's
// safety rule.
func (r *Register) ReceiveAccept(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	if instanceNumber != r.instanceNumber {
		return
	}

	accepted, nack := r.paxos.ReceiveAccept(consensus.Accept{From: fromUID, ProposalID: pid, Value: value})
	if nack != nil {
		r.sendNack(fromUID, pid, nack.PromisedID)
		return
	}

	if err := r.saveState(r.paxos.PromisedID(), pid, value); err != nil {
		r.log.Fatal("replicator: persist failure before accepted, cannot safely continue", zap.Error(err))
	}

	r.top.SendAccepted(accepted.ProposalID, accepted.Value)
}

// ReceiveAccepted counts the acceptance; once a quorum agrees, advances the
// chain through top so outer layers observe the transition.
func (r *Register) ReceiveAccepted(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	if instanceNumber != r.instanceNumber {
		return
	}

	res := r.paxos.ReceiveAccepted(consensus.Accepted{From: fromUID, ProposalID: pid, Value: value})
	if res != nil {
		r.top.AdvanceInstance(r.instanceNumber+1, res.Value, false)
	}
}

// ReceiveNack just records the rejection; liveness reactions belong to the
// Resolution Driver.
func (r *Register) ReceiveNack(fromUID string, instanceNumber uint64, pid consensus.ProposalID, promisedID consensus.ProposalID) {
	if instanceNumber != r.instanceNumber {
		return
	}
	r.paxos.ReceiveNack(consensus.Nack{From: fromUID, To: r.networkUID, ProposalID: pid, PromisedID: promisedID})
}

// ReceiveSyncRequest/ReceiveCatchup have no meaning at this layer;
// Synchronization defines catch-up.
func (r *Register) ReceiveSyncRequest(fromUID string, instanceNumber uint64) {}
func (r *Register) ReceiveCatchup(fromUID string, instanceNumber uint64, currentValue []byte) {}

func (r *Register) sendNack(toUID string, pid, promisedID consensus.ProposalID) {
	payload, err := encodeNack(r.instanceNumber, pid, promisedID)
	if err != nil {
		r.log.Warn("replicator: failed to encode nack", zap.Error(err))
		return
	}
	if err := r.send.SendToPeer(toUID, payload); err != nil {
		r.log.Warn("replicator: send nack failed", zap.String("to", toUID), zap.Error(err))
	}
}
