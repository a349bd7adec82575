// Package wire implements the text-framed datagram protocol of spec.md §6:
// each packet is "<type> <payload>", with payload JSON-encoded for every
// type except propose, whose payload is the raw value.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kvchain/multipaxos/internal/consensus"
)

// Type identifies the wire message kind.
type Type string

const (
	TypePropose     Type = "propose"
	TypePrepare     Type = "prepare"
	TypePromise     Type = "promise"
	TypeAccept      Type = "accept"
	TypeAccepted    Type = "accepted"
	TypeNack        Type = "nack"
	TypeSyncRequest Type = "sync_request"
	TypeCatchup     Type = "catchup"
)

// pid is the wire encoding of a consensus.ProposalID as the two-element
// array [number, proposer_uid] spec.md §6 specifies.
type pid [2]interface{}

func encodePID(p consensus.ProposalID) pid {
	return pid{p.Number, p.ProposerUID}
}

func (p pid) decode() (consensus.ProposalID, error) {
	num, ok := p[0].(float64)
	if !ok {
		return consensus.ProposalID{}, fmt.Errorf("wire: proposal id number is %T, not a number", p[0])
	}
	uid, ok := p[1].(string)
	if !ok {
		return consensus.ProposalID{}, fmt.Errorf("wire: proposal id uid is %T, not a string", p[1])
	}
	return consensus.ProposalID{Number: uint64(num), ProposerUID: uid}, nil
}

// Prepare is the payload of a "prepare" message.
type Prepare struct {
	InstanceNumber uint64
	ProposalID     consensus.ProposalID
}

type preparePayload struct {
	InstanceNumber uint64 `json:"instance_number"`
	ProposalID     pid    `json:"proposal_id"`
}

// Promise is the payload of a "promise" message.
type Promise struct {
	InstanceNumber    uint64
	ProposalID        consensus.ProposalID
	LastAcceptedID    consensus.ProposalID
	LastAcceptedValue []byte
}

type promisePayload struct {
	InstanceNumber    uint64 `json:"instance_number"`
	ProposalID        pid    `json:"proposal_id"`
	LastAcceptedID    pid    `json:"last_accepted_id"`
	LastAcceptedValue []byte `json:"last_accepted_value"`
}

// Accept is the payload of an "accept" message.
type Accept struct {
	InstanceNumber uint64
	ProposalID     consensus.ProposalID
	ProposalValue  []byte
}

type acceptPayload struct {
	InstanceNumber uint64 `json:"instance_number"`
	ProposalID     pid    `json:"proposal_id"`
	ProposalValue  []byte `json:"proposal_value"`
}

// Accepted is the payload of an "accepted" message.
type Accepted struct {
	InstanceNumber uint64
	ProposalID     consensus.ProposalID
	ProposalValue  []byte
}

type acceptedPayload struct {
	InstanceNumber uint64 `json:"instance_number"`
	ProposalID     pid    `json:"proposal_id"`
	ProposalValue  []byte `json:"proposal_value"`
}

// Nack is the payload of a "nack" message.
type Nack struct {
	InstanceNumber   uint64
	ProposalID       consensus.ProposalID
	PromisedProposal consensus.ProposalID
}

type nackPayload struct {
	InstanceNumber   uint64 `json:"instance_number"`
	ProposalID       pid    `json:"proposal_id"`
	PromisedProposal pid    `json:"promised_proposal_id"`
}

// SyncRequest is the payload of a "sync_request" message.
type SyncRequest struct {
	InstanceNumber uint64
}

type syncRequestPayload struct {
	InstanceNumber uint64 `json:"instance_number"`
}

// Catchup is the payload of a "catchup" message.
type Catchup struct {
	InstanceNumber uint64
	CurrentValue   []byte
}

type catchupPayload struct {
	InstanceNumber uint64 `json:"instance_number"`
	CurrentValue   []byte `json:"current_value"`
}

// Envelope carries the sender's uid alongside the decoded message; the
// transport layer fills From from the datagram's source address and the
// directory lookup, Decode fills the fields below from the payload.
type Envelope struct {
	From string
	Type Type
	// Exactly one of the following is populated, selected by Type.
	Prepare     *Prepare
	Promise     *Promise
	Accept      *Accept
	Accepted    *Accepted
	Nack        *Nack
	SyncRequest *SyncRequest
	Catchup     *Catchup
	ProposeVal  []byte
}

// EncodePrepare renders a "prepare <payload>" datagram.
func EncodePrepare(m Prepare) ([]byte, error) {
	return encode(TypePrepare, preparePayload{InstanceNumber: m.InstanceNumber, ProposalID: encodePID(m.ProposalID)})
}

// EncodePromise renders a "promise <payload>" datagram.
func EncodePromise(m Promise) ([]byte, error) {
	return encode(TypePromise, promisePayload{
		InstanceNumber:    m.InstanceNumber,
		ProposalID:        encodePID(m.ProposalID),
		LastAcceptedID:    encodePID(m.LastAcceptedID),
		LastAcceptedValue: m.LastAcceptedValue,
	})
}

// EncodeAccept renders an "accept <payload>" datagram.
func EncodeAccept(m Accept) ([]byte, error) {
	return encode(TypeAccept, acceptPayload{InstanceNumber: m.InstanceNumber, ProposalID: encodePID(m.ProposalID), ProposalValue: m.ProposalValue})
}

// EncodeAccepted renders an "accepted <payload>" datagram.
func EncodeAccepted(m Accepted) ([]byte, error) {
	return encode(TypeAccepted, acceptedPayload{InstanceNumber: m.InstanceNumber, ProposalID: encodePID(m.ProposalID), ProposalValue: m.ProposalValue})
}

// EncodeNack renders a "nack <payload>" datagram.
func EncodeNack(m Nack) ([]byte, error) {
	return encode(TypeNack, nackPayload{InstanceNumber: m.InstanceNumber, ProposalID: encodePID(m.ProposalID), PromisedProposal: encodePID(m.PromisedProposal)})
}

// EncodeSyncRequest renders a "sync_request <payload>" datagram.
func EncodeSyncRequest(m SyncRequest) ([]byte, error) {
	return encode(TypeSyncRequest, syncRequestPayload{InstanceNumber: m.InstanceNumber})
}

// EncodeCatchup renders a "catchup <payload>" datagram.
func EncodeCatchup(m Catchup) ([]byte, error) {
	return encode(TypeCatchup, catchupPayload{InstanceNumber: m.InstanceNumber, CurrentValue: m.CurrentValue})
}

// EncodePropose renders a "propose <value>" datagram; the payload is the raw
// value, not JSON, per spec.md §6.
func EncodePropose(value []byte) []byte {
	out := make([]byte, 0, len(TypePropose)+1+len(value))
	out = append(out, TypePropose...)
	out = append(out, ' ')
	out = append(out, value...)
	return out
}

func encode(t Type, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", t, err)
	}
	out := make([]byte, 0, len(t)+1+len(body))
	out = append(out, t...)
	out = append(out, ' ')
	out = append(out, body...)
	return out, nil
}

// Decode parses a raw datagram body into an Envelope. From is not set here;
// the transport layer fills it in from the packet's source address.
func Decode(raw []byte) (Envelope, error) {
	parts := bytes.SplitN(raw, []byte(" "), 2)
	if len(parts) != 2 {
		return Envelope{}, fmt.Errorf("wire: malformed datagram, no type/payload separator")
	}
	t := Type(parts[0])
	payload := parts[1]

	env := Envelope{Type: t}

	switch t {
	case TypePropose:
		env.ProposeVal = append([]byte(nil), payload...)
		return env, nil
	case TypePrepare:
		var p preparePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode prepare: %w", err)
		}
		id, err := p.ProposalID.decode()
		if err != nil {
			return Envelope{}, err
		}
		env.Prepare = &Prepare{InstanceNumber: p.InstanceNumber, ProposalID: id}
		return env, nil
	case TypePromise:
		var p promisePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode promise: %w", err)
		}
		id, err := p.ProposalID.decode()
		if err != nil {
			return Envelope{}, err
		}
		lastID, err := p.LastAcceptedID.decode()
		if err != nil {
			return Envelope{}, err
		}
		env.Promise = &Promise{
			InstanceNumber:    p.InstanceNumber,
			ProposalID:        id,
			LastAcceptedID:    lastID,
			LastAcceptedValue: p.LastAcceptedValue,
		}
		return env, nil
	case TypeAccept:
		var p acceptPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode accept: %w", err)
		}
		id, err := p.ProposalID.decode()
		if err != nil {
			return Envelope{}, err
		}
		env.Accept = &Accept{InstanceNumber: p.InstanceNumber, ProposalID: id, ProposalValue: p.ProposalValue}
		return env, nil
	case TypeAccepted:
		var p acceptedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode accepted: %w", err)
		}
		id, err := p.ProposalID.decode()
		if err != nil {
			return Envelope{}, err
		}
		env.Accepted = &Accepted{InstanceNumber: p.InstanceNumber, ProposalID: id, ProposalValue: p.ProposalValue}
		return env, nil
	case TypeNack:
		var p nackPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode nack: %w", err)
		}
		id, err := p.ProposalID.decode()
		if err != nil {
			return Envelope{}, err
		}
		promisedID, err := p.PromisedProposal.decode()
		if err != nil {
			return Envelope{}, err
		}
		env.Nack = &Nack{InstanceNumber: p.InstanceNumber, ProposalID: id, PromisedProposal: promisedID}
		return env, nil
	case TypeSyncRequest:
		var p syncRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode sync_request: %w", err)
		}
		env.SyncRequest = &SyncRequest{InstanceNumber: p.InstanceNumber}
		return env, nil
	case TypeCatchup:
		var p catchupPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("wire: decode catchup: %w", err)
		}
		env.Catchup = &Catchup{InstanceNumber: p.InstanceNumber, CurrentValue: p.CurrentValue}
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("wire: unknown message type %q", t)
	}
}
