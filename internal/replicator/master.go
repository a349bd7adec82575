package replicator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kvchain/multipaxos/internal/consensus"
	"go.uber.org/zap"
)

// MasterConfig carries the tunables of spec.md §4.6.
type MasterConfig struct {
	LeaseWindow        time.Duration
	RetransmitInterval time.Duration
}

// Master is the optional outermost Master-Lease layer (spec.md §4.6): while
// one peer holds the lease, it skips the Prepare phase using the fixed
// ProposalID(1, master_uid) every peer pre-promises, collapsing commits to
// one round trip.
type Master struct {
	inner Core
	top   Core

	timers Timers
	log    *zap.Logger

	cfg MasterConfig

	masterUID     *string
	masterAttempt bool
	leaseStart    time.Time
}

// NewMaster wraps inner with the master-lease strategy. Call AfterLoad once
// the full stack is built, mirroring the original's load_state hook that
// fires exactly once on boot.
func NewMaster(inner Core, timers Timers, cfg MasterConfig, log *zap.Logger) *Master {
	return &Master{
		inner:  inner,
		top:    inner,
		timers: timers,
		cfg:    cfg,
		log:    log,
	}
}

func (m *Master) setTop(top Core) {
	m.top = top
	if ts, ok := m.inner.(topSetter); ok {
		ts.setTop(top)
	}
}

// AfterLoad runs the one-time lease reset the original performs inside its
// overridden load_state: since this stack is always constructed fresh from
// whatever the Persistent State Store returned, "no master known yet" is
// the correct starting assumption every time a peer boots (spec.md §4.6's
// "_initial_load" behavior, supplemented from original_source/).
func (m *Master) AfterLoad() {
	m.updateLease(nil)
}

func (m *Master) NetworkUID() string            { return m.inner.NetworkUID() }
func (m *Master) InstanceNumber() uint64        { return m.inner.InstanceNumber() }
func (m *Master) CurrentValue() []byte          { return m.inner.CurrentValue() }
func (m *Master) Peers() []string               { return m.inner.Peers() }
func (m *Master) QuorumSize() int               { return m.inner.QuorumSize() }
func (m *Master) Instance() *consensus.Instance { return m.inner.Instance() }

// MasterUID returns the currently recognized master, or "", false if none
// is known.
func (m *Master) MasterUID() (string, bool) {
	if m.masterUID == nil {
		return "", false
	}
	return *m.masterUID, true
}

func (m *Master) startMasterLeaseTimer() {
	m.leaseStart = time.Now()
	m.timers.ArmOnce(SlotLeaseExpiry, m.cfg.LeaseWindow, m.leaseExpired)
}

func (m *Master) leaseExpired() {
	m.masterUID = nil
	m.top.ProposeUpdate([]byte(m.NetworkUID()), false)
}

// updateLease records a newly learned master. For any peer but the master
// itself, it (re)arms the expiry timer so a silent master triggers a new
// election attempt. For the master itself, it schedules a renewal shortly
// before the lease it already started (at propose time) would expire.
func (m *Master) updateLease(masterUID *string) {
	m.masterUID = masterUID

	isSelf := masterUID != nil && *masterUID == m.NetworkUID()
	if !isSelf {
		m.startMasterLeaseTimer()
		return
	}

	renewDelay := time.Until(m.leaseStart.Add(m.cfg.LeaseWindow - time.Second))
	if renewDelay > 0 {
		m.timers.ArmOnce(SlotLeaseRenew, renewDelay, func() {
			m.top.ProposeUpdate([]byte(m.NetworkUID()), false)
		})
	} else {
		m.top.ProposeUpdate([]byte(m.NetworkUID()), false)
	}
}

// ProposeUpdate implements spec.md §4.6's two proposal kinds: an
// application-level value, routed through the master only, and a
// non-application candidacy proposal that only a peer with no competing
// attempt already in flight may start.
func (m *Master) ProposeUpdate(value []byte, applicationLevel bool) {
	if applicationLevel {
		if m.masterUID != nil && *m.masterUID == m.NetworkUID() {
			wrapped, err := encodeMasterValue(nil, value)
			if err != nil {
				m.log.Warn("replicator: failed to wrap application value", zap.Error(err))
				return
			}
			m.inner.ProposeUpdate(wrapped, true)
		} else {
			current := "none"
			if m.masterUID != nil {
				current = *m.masterUID
			}
			m.log.Debug("replicator: dropping client request, not the master", zap.String("current_master", current))
		}
		return
	}

	if (m.masterUID == nil || *m.masterUID == m.NetworkUID()) && !m.masterAttempt {
		m.masterAttempt = true
		m.startMasterLeaseTimer()

		wrapped, err := encodeMasterValue(value, nil)
		if err != nil {
			m.log.Warn("replicator: failed to wrap candidacy value", zap.Error(err))
			return
		}
		m.inner.ProposeUpdate(wrapped, false)
	}
}

// AdvanceInstance implements spec.md §4.6's decoding of the two-slot value
// and the one-round-trip setup: once a lease is recognized, this peer
// pre-promises the master's fixed proposal id so the next Accept needs no
// Prepare round.
func (m *Master) AdvanceInstance(newInstanceNumber uint64, newCurrentValue []byte, catchup bool) {
	m.masterAttempt = false

	if catchup {
		m.inner.AdvanceInstance(newInstanceNumber, newCurrentValue, catchup)
		// Ensure our own next proposal number exceeds 1, so it can't
		// collide with a live master's fixed ProposalID(1, master_uid).
		m.Instance().Prepare()
		return
	}

	previous := m.CurrentValue()

	masterCandidate, appValue, err := decodeMasterValue(newCurrentValue)
	if err != nil {
		m.log.Warn("replicator: malformed master-wrapped value, passing through as-is", zap.Error(err))
		m.inner.AdvanceInstance(newInstanceNumber, newCurrentValue, false)
		return
	}

	effective := appValue
	if masterCandidate != nil {
		uid := string(masterCandidate)
		m.log.Info("replicator: lease granted", zap.String("master", uid))
		m.updateLease(&uid)
		effective = previous
	} else {
		m.log.Debug("replicator: application value decided", zap.Binary("value", appValue))
	}

	m.inner.AdvanceInstance(newInstanceNumber, effective, false)

	if m.masterUID == nil {
		return
	}

	masterPID := consensus.MasterProposalID(*m.masterUID)
	inst := m.Instance()

	if *m.masterUID == m.NetworkUID() {
		inst.Prepare()
		for _, uid := range m.Peers() {
			inst.ReceivePromise(consensus.Promise{From: uid, To: m.NetworkUID(), ProposalID: masterPID})
		}
	} else {
		inst.ReceivePrepare(consensus.Prepare{From: *m.masterUID, ProposalID: masterPID})
		inst.ObserveProposal(masterPID)
	}
}

// DriveToResolution implements spec.md §4.6's one-round-trip optimization:
// while holding the lease, resolution never needs a Prepare round, so the
// retransmit target is the Accept itself (resolving spec.md §9's Open
// Question in favor of Accept over Prepare in master mode).
func (m *Master) DriveToResolution() {
	if m.masterUID == nil || *m.masterUID != m.NetworkUID() {
		m.inner.DriveToResolution()
		return
	}

	m.timers.Cancel(SlotRetransmit)
	m.timers.Cancel(SlotDrive)

	inst := m.Instance()
	if inst.ProposalID().Number != 1 {
		inst.Prepare()
	}

	pid := inst.ProposalID()
	value := inst.ProposedValue()
	m.top.SendAccept(pid, value)

	m.timers.ArmRepeating(SlotRetransmit, m.cfg.RetransmitInterval, func() {
		m.top.SendAccept(pid, value)
	})
}

func (m *Master) StopDriving() { m.inner.StopDriving() }

func (m *Master) SendPrepare(pid consensus.ProposalID)                { m.inner.SendPrepare(pid) }
func (m *Master) SendAccept(pid consensus.ProposalID, value []byte)   { m.inner.SendAccept(pid, value) }
func (m *Master) SendAccepted(pid consensus.ProposalID, value []byte) { m.inner.SendAccepted(pid, value) }

// ReceivePrepare drops any Prepare not sent by the recognized master
// (spec.md §4.6's non-master message filtering).
func (m *Master) ReceivePrepare(fromUID string, instanceNumber uint64, pid consensus.ProposalID) {
	if m.masterUID != nil && fromUID != *m.masterUID {
		return
	}
	m.inner.ReceivePrepare(fromUID, instanceNumber, pid)
}

func (m *Master) ReceivePromise(fromUID string, instanceNumber uint64, pid consensus.ProposalID, lastAcceptedID consensus.ProposalID, lastAcceptedValue []byte) {
	m.inner.ReceivePromise(fromUID, instanceNumber, pid, lastAcceptedID, lastAcceptedValue)
}

// ReceiveAccept drops any Accept not sent by the recognized master.
func (m *Master) ReceiveAccept(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	if m.masterUID != nil && fromUID != *m.masterUID {
		return
	}
	m.inner.ReceiveAccept(fromUID, instanceNumber, pid, value)
}

func (m *Master) ReceiveAccepted(fromUID string, instanceNumber uint64, pid consensus.ProposalID, value []byte) {
	m.inner.ReceiveAccepted(fromUID, instanceNumber, pid, value)
}

func (m *Master) ReceiveNack(fromUID string, instanceNumber uint64, pid consensus.ProposalID, promisedID consensus.ProposalID) {
	m.inner.ReceiveNack(fromUID, instanceNumber, pid, promisedID)
}

func (m *Master) ReceiveSyncRequest(fromUID string, instanceNumber uint64) {
	m.inner.ReceiveSyncRequest(fromUID, instanceNumber)
}

func (m *Master) ReceiveCatchup(fromUID string, instanceNumber uint64, currentValue []byte) {
	m.inner.ReceiveCatchup(fromUID, instanceNumber, currentValue)
}

// encodeMasterValue renders the two-slot tagged value of spec.md §4.6 as a
// 2-element JSON array: exactly one of master/app is non-nil, and
// encoding/json already renders a nil []byte as JSON null.
func encodeMasterValue(master, app []byte) ([]byte, error) {
	out, err := json.Marshal([2][]byte{master, app})
	if err != nil {
		return nil, fmt.Errorf("replicator: encode master value: %w", err)
	}
	return out, nil
}

func decodeMasterValue(raw []byte) (master, app []byte, err error) {
	var arr [2][]byte
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, nil, fmt.Errorf("replicator: decode master value: %w", err)
	}
	return arr[0], arr[1], nil
}
