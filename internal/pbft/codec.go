package pbft

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Fixed field numbers, documented for interoperability with other
// implementations of the same consensus (spec §6, expanded in
// SPEC_FULL.md §3.1).
const (
	fieldInfoMsgType  protowire.Number = 1
	fieldInfoView     protowire.Number = 2
	fieldInfoSeqNum   protowire.Number = 3
	fieldInfoSignerID protowire.Number = 4

	fieldBlockID         protowire.Number = 1
	fieldBlockPreviousID protowire.Number = 2
	fieldBlockSignerID   protowire.Number = 3
	fieldBlockNum        protowire.Number = 4
	fieldBlockSummary    protowire.Number = 5

	fieldMessageInfo  protowire.Number = 1
	fieldMessageBlock protowire.Number = 2

	fieldVoteHeaderBytes     protowire.Number = 1
	fieldVoteHeaderSignature protowire.Number = 2
	fieldVoteMessageBytes    protowire.Number = 3

	fieldNewViewInfo        protowire.Number = 1
	fieldNewViewViewChanges protowire.Number = 2

	fieldSealSummary    protowire.Number = 1
	fieldSealPreviousID protowire.Number = 2
	fieldSealVotes      protowire.Number = 3

	fieldVoteHeaderSignerID      protowire.Number = 1
	fieldVoteHeaderContentSHA512 protowire.Number = 2
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// fieldVisitor receives one decoded field at a time. For varint fields,
// val holds the decoded value; for bytes fields, raw holds the payload.
type fieldVisitor func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error

// consumeFields walks tag/value pairs in b, calling fn for each, and
// skipping any field of a wire type fn doesn't care about.
func consumeFields(b []byte, fn fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: bad tag", ErrSerialization)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, vn := protowire.ConsumeVarint(b)
			if vn < 0 {
				return fmt.Errorf("%w: bad varint", ErrSerialization)
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			b = b[vn:]
		case protowire.BytesType:
			v, vn := protowire.ConsumeBytes(b)
			if vn < 0 {
				return fmt.Errorf("%w: bad length-delimited field", ErrSerialization)
			}
			if err := fn(num, typ, 0, v); err != nil {
				return err
			}
			b = b[vn:]
		default:
			vn := protowire.ConsumeFieldValue(num, typ, b)
			if vn < 0 {
				return fmt.Errorf("%w: unsupported wire type", ErrSerialization)
			}
			b = b[vn:]
		}
	}
	return nil
}

// MarshalMessageInfo encodes a PbftMessageInfo (SPEC_FULL.md §3.1).
func MarshalMessageInfo(info PbftMessageInfo) []byte {
	var b []byte
	b = appendVarintField(b, fieldInfoMsgType, uint64(info.MsgType))
	b = appendVarintField(b, fieldInfoView, info.View)
	b = appendVarintField(b, fieldInfoSeqNum, info.SeqNum)
	b = appendBytesField(b, fieldInfoSignerID, []byte(info.SignerID))
	return b
}

// UnmarshalMessageInfo decodes bytes produced by MarshalMessageInfo.
func UnmarshalMessageInfo(data []byte) (PbftMessageInfo, error) {
	var info PbftMessageInfo
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldInfoMsgType:
			info.MsgType = MessageType(val)
		case fieldInfoView:
			info.View = val
		case fieldInfoSeqNum:
			info.SeqNum = val
		case fieldInfoSignerID:
			info.SignerID = PeerID(raw)
		}
		return nil
	})
	return info, err
}

// MarshalBlock encodes a PbftBlock.
func MarshalBlock(blk PbftBlock) []byte {
	var b []byte
	b = appendBytesField(b, fieldBlockID, blk.BlockID.Bytes())
	b = appendBytesField(b, fieldBlockPreviousID, blk.PreviousID.Bytes())
	b = appendBytesField(b, fieldBlockSignerID, []byte(blk.SignerID))
	b = appendVarintField(b, fieldBlockNum, blk.BlockNum)
	b = appendBytesField(b, fieldBlockSummary, blk.Summary)
	return b
}

// UnmarshalBlock decodes bytes produced by MarshalBlock.
func UnmarshalBlock(data []byte) (PbftBlock, error) {
	var blk PbftBlock
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldBlockID:
			blk.BlockID = BytesToBlockID(raw)
		case fieldBlockPreviousID:
			blk.PreviousID = BytesToBlockID(raw)
		case fieldBlockSignerID:
			blk.SignerID = PeerID(raw)
		case fieldBlockNum:
			blk.BlockNum = val
		case fieldBlockSummary:
			blk.Summary = append([]byte(nil), raw...)
		}
		return nil
	})
	return blk, err
}

// MarshalMessage encodes a PbftMessage as a length-delimited protobuf
// message: info and block are embedded sub-messages (spec §6).
func MarshalMessage(msg PbftMessage) []byte {
	var b []byte
	b = appendBytesField(b, fieldMessageInfo, MarshalMessageInfo(msg.Info))
	b = appendBytesField(b, fieldMessageBlock, MarshalBlock(msg.Block))
	return b
}

// UnmarshalMessage decodes bytes produced by MarshalMessage.
func UnmarshalMessage(data []byte) (PbftMessage, error) {
	var msg PbftMessage
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		var err error
		switch num {
		case fieldMessageInfo:
			msg.Info, err = UnmarshalMessageInfo(raw)
		case fieldMessageBlock:
			msg.Block, err = UnmarshalBlock(raw)
		}
		return err
	})
	return msg, err
}

// MarshalSignedVote encodes a PbftSignedVote.
func MarshalSignedVote(v PbftSignedVote) []byte {
	var b []byte
	b = appendBytesField(b, fieldVoteHeaderBytes, v.HeaderBytes)
	b = appendBytesField(b, fieldVoteHeaderSignature, v.HeaderSignature)
	b = appendBytesField(b, fieldVoteMessageBytes, v.MessageBytes)
	return b
}

// UnmarshalSignedVote decodes bytes produced by MarshalSignedVote.
func UnmarshalSignedVote(data []byte) (PbftSignedVote, error) {
	var v PbftSignedVote
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldVoteHeaderBytes:
			v.HeaderBytes = append([]byte(nil), raw...)
		case fieldVoteHeaderSignature:
			v.HeaderSignature = append([]byte(nil), raw...)
		case fieldVoteMessageBytes:
			v.MessageBytes = append([]byte(nil), raw...)
		}
		return nil
	})
	return v, err
}

// MarshalNewView encodes a PbftNewView.
func MarshalNewView(nv PbftNewView) []byte {
	var b []byte
	b = appendBytesField(b, fieldNewViewInfo, MarshalMessageInfo(nv.Info))
	for _, vc := range nv.ViewChanges {
		b = appendBytesField(b, fieldNewViewViewChanges, MarshalSignedVote(vc))
	}
	return b
}

// UnmarshalNewView decodes bytes produced by MarshalNewView.
func UnmarshalNewView(data []byte) (PbftNewView, error) {
	var nv PbftNewView
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldNewViewInfo:
			info, err := UnmarshalMessageInfo(raw)
			if err != nil {
				return err
			}
			nv.Info = info
		case fieldNewViewViewChanges:
			vc, err := UnmarshalSignedVote(raw)
			if err != nil {
				return err
			}
			nv.ViewChanges = append(nv.ViewChanges, vc)
		}
		return nil
	})
	return nv, err
}

// MarshalSeal encodes a PbftSeal for embedding into a block's payload
// (spec §4.5 "Seal construction").
func MarshalSeal(seal PbftSeal) []byte {
	var b []byte
	b = appendBytesField(b, fieldSealSummary, seal.Summary)
	b = appendBytesField(b, fieldSealPreviousID, seal.PreviousID.Bytes())
	for _, vote := range seal.PreviousCommitVotes {
		b = appendBytesField(b, fieldSealVotes, MarshalSignedVote(vote))
	}
	return b
}

// UnmarshalSeal decodes bytes produced by MarshalSeal.
func UnmarshalSeal(data []byte) (PbftSeal, error) {
	var seal PbftSeal
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldSealSummary:
			seal.Summary = append([]byte(nil), raw...)
		case fieldSealPreviousID:
			seal.PreviousID = BytesToBlockID(raw)
		case fieldSealVotes:
			vote, err := UnmarshalSignedVote(raw)
			if err != nil {
				return err
			}
			seal.PreviousCommitVotes = append(seal.PreviousCommitVotes, vote)
		}
		return nil
	})
	return seal, err
}

// EncodeVoteHeader encodes a VoteHeader (spec §3 "header_bytes encodes
// {signer_id, content_sha512}").
func EncodeVoteHeader(h VoteHeader) []byte {
	var b []byte
	b = appendBytesField(b, fieldVoteHeaderSignerID, []byte(h.SignerID))
	b = appendBytesField(b, fieldVoteHeaderContentSHA512, h.ContentSHA512[:])
	return b
}

// DecodeVoteHeader decodes bytes produced by EncodeVoteHeader.
func DecodeVoteHeader(data []byte) (VoteHeader, error) {
	var h VoteHeader
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, val uint64, raw []byte) error {
		switch num {
		case fieldVoteHeaderSignerID:
			h.SignerID = PeerID(raw)
		case fieldVoteHeaderContentSHA512:
			if len(raw) != 64 {
				return fmt.Errorf("%w: content digest must be 64 bytes", ErrSerialization)
			}
			copy(h.ContentSHA512[:], raw)
		}
		return nil
	})
	return h, err
}

// signEnvelope builds the PbftSignedVote wrapper every PeerMessage payload
// is carried in (spec §6 "Wire messages", extended here so any logged
// message can later be forwarded as third-party-verifiable evidence in a
// NewView or a seal without re-signing).
func signEnvelope(priv *btcec.PrivateKey, signerID PeerID, messageBytes []byte) PbftSignedVote {
	header := VoteHeader{SignerID: signerID, ContentSHA512: ContentDigest(messageBytes)}
	headerBytes := EncodeVoteHeader(header)
	return PbftSignedVote{
		HeaderBytes:     headerBytes,
		HeaderSignature: SignVote(priv, headerBytes),
		MessageBytes:    messageBytes,
	}
}

// EncodeSignedMessage wraps msg as a signed PeerMessage payload, returning
// both the wire bytes to broadcast and the ParsedMessage to self-deliver
// (spec §4.2 "Self-send rule").
func EncodeSignedMessage(priv *btcec.PrivateKey, signerID PeerID, msg PbftMessage) (wire []byte, parsed *ParsedMessage, err error) {
	messageBytes := MarshalMessage(msg)
	vote := signEnvelope(priv, signerID, messageBytes)
	wire = MarshalSignedVote(vote)
	parsed = &ParsedMessage{
		Message:         &msg,
		HeaderBytes:     vote.HeaderBytes,
		HeaderSignature: vote.HeaderSignature,
		MessageBytes:    vote.MessageBytes,
	}
	return wire, parsed, nil
}

// EncodeSignedNewView wraps nv the same way EncodeSignedMessage wraps a
// PbftMessage.
func EncodeSignedNewView(priv *btcec.PrivateKey, signerID PeerID, nv PbftNewView) (wire []byte, parsed *ParsedMessage, err error) {
	messageBytes := MarshalNewView(nv)
	vote := signEnvelope(priv, signerID, messageBytes)
	wire = MarshalSignedVote(vote)
	parsed = &ParsedMessage{
		NewView:         &nv,
		HeaderBytes:     vote.HeaderBytes,
		HeaderSignature: vote.HeaderSignature,
		MessageBytes:    vote.MessageBytes,
	}
	return wire, parsed, nil
}

// DecodeSignedPeerMessage decodes a wire PeerMessage payload, verifies its
// signature and content digest via ks, and decodes the inner PbftMessage
// or PbftNewView depending on isNewView.
func DecodeSignedPeerMessage(ks KeyStore, isNewView bool, data []byte) (*ParsedMessage, error) {
	vote, err := UnmarshalSignedVote(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode peer message envelope: %v", ErrSerialization, err)
	}
	header, err := VerifyVote(ks, vote)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedMessage{
		HeaderBytes:     vote.HeaderBytes,
		HeaderSignature: vote.HeaderSignature,
		MessageBytes:    vote.MessageBytes,
	}
	if isNewView {
		nv, err := UnmarshalNewView(vote.MessageBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: decode new view: %v", ErrSerialization, err)
		}
		if nv.Info.SignerID != header.SignerID {
			return nil, fmt.Errorf("%w: new view signer mismatch", ErrInvalidMessage)
		}
		parsed.NewView = &nv
		return parsed, nil
	}

	msg, err := UnmarshalMessage(vote.MessageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", ErrSerialization, err)
	}
	if msg.Info.SignerID != header.SignerID {
		return nil, fmt.Errorf("%w: message signer mismatch", ErrInvalidMessage)
	}
	parsed.Message = &msg
	return parsed, nil
}
