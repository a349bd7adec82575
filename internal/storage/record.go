// Package storage implements the durable per-peer state required for safe
// Paxos crash recovery: the minimum data spec.md §3 and §4.1 require,
// written atomically so a crash mid-save never leaves a partial record.
package storage

import "github.com/kvchain/multipaxos/internal/consensus"

// Record is the durable state for one peer (spec.md §3's PersistentRecord).
type Record struct {
	InstanceNumber uint64                `json:"instance_number"`
	PromisedID     *consensus.ProposalID `json:"promised_id"`
	AcceptedID     *consensus.ProposalID `json:"accepted_id"`
	AcceptedValue  []byte                `json:"accepted_value"`
	CurrentValue   []byte                `json:"current_value"`
}

// zero returns the fresh record a never-before-booted peer starts from:
// instance_number = 0, every id/value null.
func zero() Record {
	return Record{InstanceNumber: 0}
}

// PromisedOrZero returns the promised proposal ID, or the zero ProposalID
// if none has been recorded yet.
func (r Record) PromisedOrZero() consensus.ProposalID {
	if r.PromisedID == nil {
		return consensus.ProposalID{}
	}
	return *r.PromisedID
}

// AcceptedOrZero returns the accepted proposal ID, or the zero ProposalID
// if none has been recorded yet.
func (r Record) AcceptedOrZero() consensus.ProposalID {
	if r.AcceptedID == nil {
		return consensus.ProposalID{}
	}
	return *r.AcceptedID
}
