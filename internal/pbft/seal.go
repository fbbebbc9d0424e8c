package pbft

import "fmt"

// BuildSeal collects 2f Commit messages for height h-1 from log and bundles
// them into a PbftSeal to embed in the block proposed at height h
// (spec §4.5 "Seal construction"). At h <= 1 callers should skip seal
// construction entirely ("genesis has nothing to prove").
func BuildSeal(log *MessageLog, prevHeight uint64, quorum2f int, summary []byte) (*PbftSeal, error) {
	votes := log.GetEnoughMessages(MessageTypeCommit, prevHeight, quorum2f)
	if votes == nil {
		return nil, fmt.Errorf("%w: fewer than %d commits logged for height %d", ErrWrongNumMessages, quorum2f, prevHeight)
	}
	blk, ok := votes[0].Block()
	if !ok {
		return nil, fmt.Errorf("%w: commit vote missing block", ErrInternal)
	}
	signed := make([]PbftSignedVote, len(votes))
	for i, v := range votes {
		signed[i] = PbftSignedVote{
			HeaderBytes:     v.HeaderBytes,
			HeaderSignature: v.HeaderSignature,
			MessageBytes:    v.MessageBytes,
		}
	}
	return &PbftSeal{
		Summary:             summary,
		PreviousID:          blk.BlockID,
		PreviousCommitVotes: signed,
	}, nil
}

// VerifyConsensusSeal implements spec §4.5 "Seal verification" for a block
// at height >= 2. prevPeers is the membership at the previous block, used
// to bound the voter set.
func VerifyConsensusSeal(ks KeyStore, seal *PbftSeal, block PbftBlock, prevPeers []PeerID, quorum2f int) error {
	if seal == nil || len(seal.PreviousCommitVotes) == 0 {
		return fmt.Errorf("%w: empty seal at height >= 2", ErrInvalidMessage)
	}
	if seal.PreviousID != block.PreviousID {
		return fmt.Errorf("%w: seal previous_id mismatch", ErrInvalidMessage)
	}
	if string(seal.Summary) != string(block.Summary) {
		return fmt.Errorf("%w: seal summary mismatch", ErrInvalidMessage)
	}

	allowed := make(map[PeerID]struct{}, len(prevPeers))
	for _, p := range prevPeers {
		if p == block.SignerID {
			continue
		}
		allowed[p] = struct{}{}
	}

	seen := make(map[PeerID]struct{}, len(seal.PreviousCommitVotes))
	for _, vote := range seal.PreviousCommitVotes {
		header, err := VerifyVote(ks, vote)
		if err != nil {
			return err
		}
		msg, err := UnmarshalMessage(vote.MessageBytes)
		if err != nil {
			return fmt.Errorf("%w: decode seal vote message: %v", ErrSerialization, err)
		}
		if msg.Info.MsgType != MessageTypeCommit {
			return fmt.Errorf("%w: seal vote is not a Commit", ErrInvalidMessage)
		}
		if msg.Block.BlockID != seal.PreviousID {
			return fmt.Errorf("%w: seal vote block_id mismatch", ErrInvalidMessage)
		}
		if _, ok := allowed[header.SignerID]; !ok {
			return fmt.Errorf("%w: seal voter %s not in allowed set", ErrInvalidMessage, header.SignerID)
		}
		seen[header.SignerID] = struct{}{}
	}

	if len(seen) < quorum2f {
		return fmt.Errorf("%w: seal has %d distinct voters, need >= %d", ErrWrongNumMessages, len(seen), quorum2f)
	}
	return nil
}
