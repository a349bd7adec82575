package consensus

// Prepare is the event sent by a proposer opening phase 1, and also the
// message emitted locally by Prepare() for the driver to broadcast.
type Prepare struct {
	From       string
	ProposalID ProposalID
}

// Promise is emitted in reply to a Prepare that this peer accepts, and is
// also the inbound event a proposer feeds back into its own Instance.
type Promise struct {
	From              string
	To                string
	ProposalID        ProposalID
	LastAcceptedID    ProposalID
	LastAcceptedValue []byte
}

// Nack is emitted when a Prepare or Accept is rejected because a higher
// proposal has already been promised.
type Nack struct {
	From       string
	To         string
	ProposalID ProposalID
	PromisedID ProposalID
}

// Accept is phase 2's request: accept ProposalID with Value.
type Accept struct {
	From       string
	ProposalID ProposalID
	Value      []byte
}

// Accepted is the reply to an Accept this peer honored.
type Accepted struct {
	From       string
	ProposalID ProposalID
	Value      []byte
}

// Resolution is emitted once a quorum of Accepted messages agree on the
// same (ProposalID, Value) — the instance is decided.
type Resolution struct {
	Value []byte
}

// Instance is the pure state machine for one link of the multi-paxos chain.
// It performs no I/O and owns no timers; everything it needs is passed in
// as an event and everything it produces is returned as a typed output.
type Instance struct {
	networkUID string
	quorumSize int

	promisedID    ProposalID
	acceptedID    ProposalID
	acceptedValue []byte

	proposedValue []byte
	proposalID    ProposalID

	promisesReceived  map[string]promiseRecord
	nacksSeen         ProposalID // highest ProposalID observed via any Nack or ObserveProposal, for proposal-number selection
	trackedAcceptedID ProposalID // highest ProposalID seen via any Accepted, independent of who proposed it
	acceptedCount     map[string]bool
}

type promiseRecord struct {
	lastAcceptedID    ProposalID
	lastAcceptedValue []byte
}

// NewInstance builds the in-memory reflection of a link, seeded from the
// persistent record's promised/accepted fields (spec.md §3's "Paxos
// Instance state ... Created from the persistent record on boot").
func NewInstance(networkUID string, quorumSize int, promisedID, acceptedID ProposalID, acceptedValue []byte) *Instance {
	return &Instance{
		networkUID:       networkUID,
		quorumSize:       quorumSize,
		promisedID:       promisedID,
		acceptedID:       acceptedID,
		acceptedValue:    acceptedValue,
		promisesReceived: make(map[string]promiseRecord),
		acceptedCount:    make(map[string]bool),
	}
}

// NetworkUID returns the proposer-uid namespace this instance uses for its
// own proposal numbers.
func (i *Instance) NetworkUID() string { return i.networkUID }

// PromisedID returns the highest proposal ID this peer has promised.
func (i *Instance) PromisedID() ProposalID { return i.promisedID }

// AcceptedID returns the proposal ID of the highest accepted proposal.
func (i *Instance) AcceptedID() ProposalID { return i.acceptedID }

// AcceptedValue returns the value accompanying AcceptedID.
func (i *Instance) AcceptedValue() []byte { return i.acceptedValue }

// ProposedValue returns the value this peer is currently trying to get
// accepted, or nil if none has been proposed yet.
func (i *Instance) ProposedValue() []byte { return i.proposedValue }

// ProposalID returns the proposal ID currently being driven by this peer.
func (i *Instance) ProposalID() ProposalID { return i.proposalID }

// ProposeValue records v as the value to propose, if one hasn't already
// been set (spec.md §4.2, local ProposeValue event).
func (i *Instance) ProposeValue(v []byte) {
	if i.proposedValue == nil {
		i.proposedValue = v
	}
}

// highestSeen returns the highest ProposalID this instance has observed
// anywhere: its own promised id, its own proposal id, and anything learned
// via Nack replies. Prepare() must choose a number strictly above this.
func (i *Instance) highestSeen() ProposalID {
	h := i.promisedID
	if i.proposalID.GreaterThan(h) {
		h = i.proposalID
	}
	if i.nacksSeen.GreaterThan(h) {
		h = i.nacksSeen
	}
	return h
}

// Prepare advances this peer's own proposal number strictly above every
// ProposalID seen for this instance and emits the Prepare to broadcast.
// This is the local "Prepare()" event of spec.md §4.2.
func (i *Instance) Prepare() Prepare {
	i.proposalID = ProposalID{Number: i.highestSeen().Number + 1, ProposerUID: i.networkUID}
	i.promisesReceived = make(map[string]promiseRecord)
	return Prepare{From: i.networkUID, ProposalID: i.proposalID}
}

// ObserveProposal records pid as seen without running a full Prepare round,
// so that a subsequent local Prepare() picks a number above it. Used by the
// master-lease layer when it learns of the master's fixed ProposalID(1, uid)
// so its own next proposal doesn't collide (spec.md §4.6).
func (i *Instance) ObserveProposal(pid ProposalID) {
	if pid.GreaterThan(i.nacksSeen) {
		i.nacksSeen = pid
	}
}

// ReceivePrepare implements spec.md §4.2's Prepare rule: promise if pid is
// higher than anything promised so far, else Nack.
func (i *Instance) ReceivePrepare(e Prepare) (Promise, *Nack) {
	if e.ProposalID.GreaterThan(i.promisedID) {
		i.promisedID = e.ProposalID
		return Promise{
			From:              i.networkUID,
			To:                e.From,
			ProposalID:        e.ProposalID,
			LastAcceptedID:    i.acceptedID,
			LastAcceptedValue: i.acceptedValue,
		}, nil
	}
	return Promise{}, &Nack{From: i.networkUID, To: e.From, ProposalID: e.ProposalID, PromisedID: i.promisedID}
}

// ReceivePromise collects promises for the proposal this peer is currently
// driving. Once a quorum has replied, it chooses the value accompanying the
// highest accepted proposal among them (falling back to the proposed value)
// and emits the Accept to broadcast.
func (i *Instance) ReceivePromise(e Promise) *Accept {
	if !e.ProposalID.Equal(i.proposalID) {
		return nil
	}

	i.promisesReceived[e.From] = promiseRecord{lastAcceptedID: e.LastAcceptedID, lastAcceptedValue: e.LastAcceptedValue}

	if len(i.promisesReceived) < i.quorumSize {
		return nil
	}

	var highest ProposalID
	chosen := i.proposedValue
	for _, rec := range i.promisesReceived {
		if !rec.lastAcceptedID.IsZero() && rec.lastAcceptedID.GreaterThan(highest) {
			highest = rec.lastAcceptedID
			chosen = rec.lastAcceptedValue
		}
	}

	return &Accept{From: i.networkUID, ProposalID: i.proposalID, Value: chosen}
}

// ReceiveAccept implements spec.md §4.2's Accept rule: accept if pid is at
// least as high as what's been promised, else Nack.
func (i *Instance) ReceiveAccept(e Accept) (Accepted, *Nack) {
	if e.ProposalID.GreaterOrEqual(i.promisedID) {
		i.promisedID = e.ProposalID
		i.acceptedID = e.ProposalID
		i.acceptedValue = e.Value
		return Accepted{From: i.networkUID, ProposalID: e.ProposalID, Value: e.Value}, nil
	}
	return Accepted{}, &Nack{From: i.networkUID, To: e.From, ProposalID: e.ProposalID, PromisedID: i.promisedID}
}

// ReceiveAccepted counts Accepted replies for whatever (ProposalID, Value)
// is currently the highest this instance has observed, regardless of
// whether this peer is the one driving that proposal: spec.md §4.2 counts
// "Accepted(pid, v) matching the currently tracked highest accepted id" for
// every peer, not just the proposer, so a passive acceptor learns the
// decision from the very same broadcast instead of waiting on catch-up.
// Once a quorum agrees, emits the Resolution.
func (i *Instance) ReceiveAccepted(e Accepted) *Resolution {
	if e.ProposalID.GreaterThan(i.trackedAcceptedID) {
		i.trackedAcceptedID = e.ProposalID
		i.acceptedCount = make(map[string]bool)
	} else if e.ProposalID.Less(i.trackedAcceptedID) {
		return nil
	}

	i.acceptedCount[e.From] = true

	if len(i.acceptedCount) < i.quorumSize {
		return nil
	}

	return &Resolution{Value: e.Value}
}

// ReceiveNack records a rejection for proposal-number selection purposes
// and reports whether it concerned the proposal this peer is currently
// driving. The replicator layers ignore the result: the Resolution Driver
// backs off on any Nack for the current instance.
func (i *Instance) ReceiveNack(e Nack) bool {
	if e.PromisedID.GreaterThan(i.nacksSeen) {
		i.nacksSeen = e.PromisedID
	}
	return e.ProposalID.Equal(i.proposalID)
}

// Quorum returns floor(N/2)+1 for an N-peer membership.
func Quorum(peerCount int) int {
	return peerCount/2 + 1
}
