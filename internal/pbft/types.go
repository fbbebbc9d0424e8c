// Package pbft implements the replicated state machine, view-change
// sub-protocol, consensus seal, and message log of a Practical Byzantine
// Fault Tolerant ordering core for N = 3f+1 nodes.
package pbft

import (
	"encoding/hex"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID identifies a node. It is a raw byte-string identity, the same
// shape the teacher threads peer.ID through its consensus code as — here
// it carries the raw bytes decoded from the hex-encoded identities spec §6
// stores in sawtooth.consensus.pbft.peers, not a libp2p multihash.
type PeerID = peer.ID

// BlockIDLength is the width of a BlockID, following the teacher's
// common.Hash convention (internal/cerera/common/hash.go) of a fixed-size
// byte array rather than a variable-length slice.
const BlockIDLength = 32

// BlockID is an opaque block identifier as produced by the validator.
type BlockID [BlockIDLength]byte

// BytesToBlockID right-aligns b into a BlockID, truncating from the left
// if b is longer than BlockIDLength.
func BytesToBlockID(b []byte) BlockID {
	var id BlockID
	if len(b) > BlockIDLength {
		b = b[len(b)-BlockIDLength:]
	}
	copy(id[BlockIDLength-len(b):], b)
	return id
}

// Bytes returns the raw bytes of the id.
func (b BlockID) Bytes() []byte { return b[:] }

// Hex returns the 0x-prefixed hex encoding of the id.
func (b BlockID) Hex() string { return "0x" + hex.EncodeToString(b[:]) }

// String implements fmt.Stringer.
func (b BlockID) String() string { return b.Hex() }

// IsZero reports whether b is the zero value (used as "no block").
func (b BlockID) IsZero() bool { return b == BlockID{} }

// MessageType enumerates the wire message kinds carried in PeerMessage
// envelopes (spec §6 "Wire messages").
type MessageType int32

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeBlockNew
	MessageTypePrePrepare
	MessageTypePrepare
	MessageTypeCommit
	MessageTypeViewChange
	MessageTypeNewView
)

// String returns the wire msg_type string used in PeerMessage envelopes.
func (t MessageType) String() string {
	switch t {
	case MessageTypeBlockNew:
		return "BlockNew"
	case MessageTypePrePrepare:
		return "PrePrepare"
	case MessageTypePrepare:
		return "Prepare"
	case MessageTypeCommit:
		return "Commit"
	case MessageTypeViewChange:
		return "ViewChange"
	case MessageTypeNewView:
		return "NewView"
	default:
		return "Unknown"
	}
}

// Phase is the node's position within a single height's three-phase
// protocol (spec §3 "phase").
type Phase int32

const (
	PhasePrePreparing Phase = iota
	PhaseChecking
	PhasePreparing
	PhaseCommitting
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhasePrePreparing:
		return "PrePreparing"
	case PhaseChecking:
		return "Checking"
	case PhasePreparing:
		return "Preparing"
	case PhaseCommitting:
		return "Committing"
	case PhaseFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Mode distinguishes Normal operation from a view change in progress
// (spec §3 "mode").
type Mode struct {
	ViewChanging bool
	TargetView   uint64
}

// NormalMode is the mode a node is in outside of a view change.
func NormalMode() Mode { return Mode{} }

// ViewChangingMode is the mode a node is in while pursuing targetView.
func ViewChangingMode(targetView uint64) Mode {
	return Mode{ViewChanging: true, TargetView: targetView}
}

// PbftBlock is the reduced projection of a validator Block carried inside
// PBFT messages (spec §3). Equality is structural over all fields.
type PbftBlock struct {
	BlockID    BlockID
	PreviousID BlockID
	SignerID   PeerID
	BlockNum   uint64
	Summary    []byte
}

// Equal reports structural equality over all fields.
func (b PbftBlock) Equal(o PbftBlock) bool {
	return b.BlockID == o.BlockID &&
		b.PreviousID == o.PreviousID &&
		b.SignerID == o.SignerID &&
		b.BlockNum == o.BlockNum &&
		string(b.Summary) == string(o.Summary)
}

// PbftMessageInfo is the key over which log predicates are computed
// (spec §3).
type PbftMessageInfo struct {
	MsgType  MessageType
	View     uint64
	SeqNum   uint64
	SignerID PeerID
}

// PbftMessage pairs a PbftMessageInfo with the block it concerns (spec §3).
type PbftMessage struct {
	Info  PbftMessageInfo
	Block PbftBlock
}

// PbftSignedVote is a header-signed, content-hashed carrier for a vote
// (spec §3). HeaderBytes encodes VoteHeader{SignerID, ContentSHA512}.
type PbftSignedVote struct {
	HeaderBytes     []byte
	HeaderSignature []byte
	MessageBytes    []byte
}

// VoteHeader is decoded from PbftSignedVote.HeaderBytes (spec §4.5 step 1).
type VoteHeader struct {
	SignerID      PeerID
	ContentSHA512 [64]byte
}

// PbftNewView carries the 2f ViewChange votes a new primary collected
// (spec §3).
type PbftNewView struct {
	Info        PbftMessageInfo
	ViewChanges []PbftSignedVote
}

// PbftSeal bundles 2f Commit votes proving finality of the previous block
// (spec §3, §4.5 "Seal construction").
type PbftSeal struct {
	Summary             []byte
	PreviousID          BlockID
	PreviousCommitVotes []PbftSignedVote
}

// ParsedMessage is the in-memory wrapper around a decoded wire message
// (spec §3). FromSelf marks messages this node delivered to itself after
// a broadcast, so quorum subsets that must exclude the sender (NewView's
// 2f rule) still work.
type ParsedMessage struct {
	Message         *PbftMessage
	NewView         *PbftNewView
	HeaderBytes     []byte
	HeaderSignature []byte
	MessageBytes    []byte
	FromSelf        bool
}

// Info returns the message's key, panicking if neither Message nor
// NewView is set (a ParsedMessage is always one or the other).
func (p *ParsedMessage) Info() PbftMessageInfo {
	if p.Message != nil {
		return p.Message.Info
	}
	return p.NewView.Info
}

// Block is a convenience that returns the carried PbftBlock and true, or
// the zero value and false for NewView messages.
func (p *ParsedMessage) Block() (PbftBlock, bool) {
	if p.Message == nil {
		return PbftBlock{}, false
	}
	return p.Message.Block, true
}
