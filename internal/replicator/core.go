// Package replicator composes the four layers spec.md §4.3–§4.6 describe
// into a single replicated register: the Replicated Register persists state
// and bridges the wire to the Paxos Instance; the Resolution Driver adds
// liveness (backoff, retransmission, silent-takeover); Synchronization adds
// catch-up for peers that fall behind; the Master-Lease strategy is an
// optional outermost layer that routes proposals through one peer at a time.
//
// The Python original composes these as mixins and relies on dynamic `self`
// dispatch through Python's MRO: a method on an inner layer that calls
// `self.send_accept` reaches whatever the outermost class overrode, even if
// the inner layer has no idea the outer one exists. Go structs have no
// equivalent of that dispatch through embedding, so each layer here holds
// two references instead of one: `inner` (the next layer down, for behavior
// it doesn't override) and `top` (the outermost composed object, for any
// call that the Python mixins resolved dynamically). Getters no layer ever
// overrides go straight to `inner`; every named operation a layer might
// override — SendPrepare, SendAccept, SendAccepted, AdvanceInstance,
// DriveToResolution — goes through `top`.
package replicator

import "github.com/kvchain/multipaxos/internal/consensus"

// Core is the set of named operations every layer implements. A layer that
// doesn't need to change an operation's behavior simply forwards it to its
// inner layer.
type Core interface {
	// Read-only state, never overridden.
	NetworkUID() string
	InstanceNumber() uint64
	CurrentValue() []byte
	Peers() []string
	QuorumSize() int
	Instance() *consensus.Instance

	// ProposeUpdate is the entry point for a new value to replicate.
	// applicationLevel distinguishes a client-submitted value (true) from
	// an internal master-candidacy proposal (false); non-master layers
	// ignore the distinction.
	ProposeUpdate(value []byte, applicationLevel bool)

	// AdvanceInstance is called once a value has been decided, either by
	// local resolution (catchup=false) or by learning of a more advanced
	// peer (catchup=true).
	AdvanceInstance(newInstanceNumber uint64, newCurrentValue []byte, catchup bool)

	// DriveToResolution starts (or restarts) an attempt to get this
	// peer's proposal decided: Prepare, broadcast, and arrange for
	// retransmission until resolved or superseded.
	DriveToResolution()
	StopDriving()

	SendPrepare(pid consensus.ProposalID)
	SendAccept(pid consensus.ProposalID, value []byte)
	SendAccepted(pid consensus.ProposalID, value []byte)

	ReceivePrepare(fromUID string, instanceNumber uint64, pid consensus.ProposalID)
	ReceivePromise(fromUID string, instanceNumber uint64, pid consensus.ProposalID, lastAcceptedID consensus.ProposalID, lastAcceptedValue []byte)
	ReceiveAccept(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte)
	ReceiveAccepted(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte)
	ReceiveNack(fromUID string, instanceNumber uint64, pid consensus.ProposalID, promisedID consensus.ProposalID)

	ReceiveSyncRequest(fromUID string, instanceNumber uint64)
	ReceiveCatchup(fromUID string, instanceNumber uint64, currentValue []byte)
}

// topSetter is implemented by every layer so the engine can, after building
// the full stack, tell each layer which object is outermost. setTop must
// cascade: a layer's setTop sets its own top reference and then calls its
// inner layer's setTop with the same value, so one call at construction
// time wires every layer in the chain.
type topSetter interface {
	setTop(top Core)
}

// Sender is the narrow transport surface every layer's SendX method needs:
// addressing every peer uid (broadcast primitives are implementation-defined
// with respect to self-delivery, per spec.md §4.3; this engine loops
// self-addressed sends back through the same path as remote ones) or a
// single peer (unicast Nack/Promise).
type Sender interface {
	SendToPeer(uid string, payload []byte) error
	SendToAllPeers(payload []byte)
}
