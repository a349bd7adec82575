package replicator

import (
	"github.com/kvchain/multipaxos/internal/consensus"
	"github.com/kvchain/multipaxos/internal/wire"
)

func encodePrepare(instanceNumber uint64, pid consensus.ProposalID) ([]byte, error) {
	return wire.EncodePrepare(wire.Prepare{InstanceNumber: instanceNumber, ProposalID: pid})
}

func encodePromise(instanceNumber uint64, pid, lastAcceptedID consensus.ProposalID, lastAcceptedValue []byte) ([]byte, error) {
	return wire.EncodePromise(wire.Promise{
		InstanceNumber:    instanceNumber,
		ProposalID:        pid,
		LastAcceptedID:    lastAcceptedID,
		LastAcceptedValue: lastAcceptedValue,
	})
}

func encodeAccept(instanceNumber uint64, pid consensus.ProposalID, value []byte) ([]byte, error) {
	return wire.EncodeAccept(wire.Accept{InstanceNumber: instanceNumber, ProposalID: pid, ProposalValue: value})
}

func encodeAccepted(instanceNumber uint64, pid consensus.ProposalID, value []byte) ([]byte, error) {
	return wire.EncodeAccepted(wire.Accepted{InstanceNumber: instanceNumber, ProposalID: pid, ProposalValue: value})
}

func encodeNack(instanceNumber uint64, pid, promisedID consensus.ProposalID) ([]byte, error) {
	return wire.EncodeNack(wire.Nack{InstanceNumber: instanceNumber, ProposalID: pid, PromisedProposal: promisedID})
}

func encodeSyncRequest(instanceNumber uint64) ([]byte, error) {
	return wire.EncodeSyncRequest(wire.SyncRequest{InstanceNumber: instanceNumber})
}

func encodeCatchup(instanceNumber uint64, currentValue []byte) ([]byte, error) {
	return wire.EncodeCatchup(wire.Catchup{InstanceNumber: instanceNumber, CurrentValue: currentValue})
}
