package pbft

import "sort"

// logKey is the dedup/retrieval key for a logged message (spec §4.5
// "add_message ... deduplicates on (signer_id, type, view, seq_num,
// block_id)").
type logKey struct {
	signer  PeerID
	msgType MessageType
	view    uint64
	seqNum  uint64
	blockID BlockID
}

// MessageLog retains accepted messages for recent heights, a FIFO backlog
// for messages that outran their BlockNew, and answers the quorum
// predicates Node relies on (spec §4.5). Grounded on the teacher's
// RoundState vote maps (internal/icenet/consensus/state.go) generalized
// from a single round to the multi-height, multi-view retention spec §4.5
// requires.
type MessageLog struct {
	messages map[logKey]*ParsedMessage
	backlog  []*ParsedMessage
}

// NewMessageLog builds an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		messages: make(map[logKey]*ParsedMessage),
	}
}

func keyOf(info PbftMessageInfo, blockID BlockID) logKey {
	return logKey{
		signer:  info.SignerID,
		msgType: info.MsgType,
		view:    info.View,
		seqNum:  info.SeqNum,
		blockID: blockID,
	}
}

// isViewBound reports whether t's messages are logged under the current
// view (PrePrepare/Prepare/Commit) as opposed to their own carried view
// (ViewChange/NewView), per spec §4.5.
func isViewBound(t MessageType) bool {
	switch t {
	case MessageTypePrePrepare, MessageTypePrepare, MessageTypeCommit:
		return true
	default:
		return false
	}
}

// AddMessage inserts msg if it is not a duplicate and, for view-bound
// types, its view matches currentView. Returns false if the message was
// rejected (duplicate or stale view) rather than logged.
func (l *MessageLog) AddMessage(msg *ParsedMessage, currentView uint64) bool {
	info := msg.Info()
	if isViewBound(info.MsgType) && info.View != currentView {
		return false
	}
	block, _ := msg.Block()
	blockID := block.BlockID
	if info.MsgType == MessageTypeNewView {
		blockID = BlockID{}
	}
	key := keyOf(info, blockID)
	if _, exists := l.messages[key]; exists {
		return false
	}
	l.messages[key] = msg
	return true
}

// GetMessagesOfTypeSeq returns every logged message of type t at height seq.
func (l *MessageLog) GetMessagesOfTypeSeq(t MessageType, seq uint64) []*ParsedMessage {
	var out []*ParsedMessage
	for k, m := range l.messages {
		if k.msgType == t && k.seqNum == seq {
			out = append(out, m)
		}
	}
	return out
}

// GetMessagesOfTypeSeqView returns every logged message of type t at
// (view, seq).
func (l *MessageLog) GetMessagesOfTypeSeqView(t MessageType, seq, view uint64) []*ParsedMessage {
	var out []*ParsedMessage
	for k, m := range l.messages {
		if k.msgType == t && k.seqNum == seq && k.view == view {
			out = append(out, m)
		}
	}
	return out
}

// GetMessagesOfTypeView returns every logged message of type t carrying
// the given view, regardless of seq_num (used for ViewChange/NewView).
func (l *MessageLog) GetMessagesOfTypeView(t MessageType, view uint64) []*ParsedMessage {
	var out []*ParsedMessage
	for k, m := range l.messages {
		if k.msgType == t && k.view == view {
			out = append(out, m)
		}
	}
	return out
}

// GetOneMsg returns the single message of type t matching the
// (view, seq_num, block_id) triple derived from info, if logged. For
// PrePrepare this is sound because conflicting PrePrepares for the same
// (view, seq_num) are rejected as a primary fault before ever reaching the
// log (spec §4.2), so at most one signer can have one logged.
func (l *MessageLog) GetOneMsg(info PbftMessageInfo, t MessageType, blockID BlockID) (*ParsedMessage, bool) {
	for k, m := range l.messages {
		if k.msgType == t && k.view == info.View && k.seqNum == info.SeqNum && k.blockID == blockID {
			return m, true
		}
	}
	return nil, false
}

// LogHasRequiredMsgs reports whether at least n distinct signers have
// logged a message of type t whose (view, seq_num) matches reference and,
// when matchBlock, whose block also matches reference's block
// (spec §4.5).
func (l *MessageLog) LogHasRequiredMsgs(t MessageType, reference PbftMessageInfo, refBlock BlockID, matchBlock bool, n int, excludeSelf bool) bool {
	signers := make(map[PeerID]struct{})
	for k, m := range l.messages {
		if k.msgType != t || k.view != reference.View || k.seqNum != reference.SeqNum {
			continue
		}
		if matchBlock && k.blockID != refBlock {
			continue
		}
		if excludeSelf && m.FromSelf {
			continue
		}
		signers[k.signer] = struct{}{}
	}
	return len(signers) >= n
}

// GetEnoughMessages returns n messages of type t at height seq (any view),
// one per distinct signer, or nil if fewer than n distinct signers have
// logged one. This node's own (FromSelf) copies are skipped: the node that
// builds a seal signs the block it goes into, and seal verification does
// not accept the block signer's own vote. Used to build a seal from Commit
// votes (spec §4.5 "Seal construction").
func (l *MessageLog) GetEnoughMessages(t MessageType, seq uint64, n int) []*ParsedMessage {
	bySigner := make(map[PeerID]*ParsedMessage)
	for k, m := range l.messages {
		if k.msgType != t || k.seqNum != seq {
			continue
		}
		if m.FromSelf {
			continue
		}
		if _, have := bySigner[k.signer]; !have {
			bySigner[k.signer] = m
		}
	}
	if len(bySigner) < n {
		return nil
	}
	out := make([]*ParsedMessage, 0, len(bySigner))
	for _, m := range bySigner {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().SignerID < out[j].Info().SignerID })
	return out[:n]
}

// GetEnoughMessagesByView returns n ViewChange/NewView-kind messages of
// type t carrying the given view, one per distinct signer excluding
// excludeSigner, or nil if fewer than n are logged. Used to collect the
// votes a new primary bundles into a NewView (spec §4.3).
func (l *MessageLog) GetEnoughMessagesByView(t MessageType, view uint64, n int, excludeSigner PeerID) []*ParsedMessage {
	bySigner := make(map[PeerID]*ParsedMessage)
	for k, m := range l.messages {
		if k.msgType != t || k.view != view || k.signer == excludeSigner {
			continue
		}
		if _, have := bySigner[k.signer]; !have {
			bySigner[k.signer] = m
		}
	}
	if len(bySigner) < n {
		return nil
	}
	out := make([]*ParsedMessage, 0, len(bySigner))
	for _, m := range bySigner {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().SignerID < out[j].Info().SignerID })
	return out[:n]
}

// PushBacklog enqueues a peer message that arrived before its BlockNew
// counterpart (spec §9 "Backlog vs. drop").
func (l *MessageLog) PushBacklog(msg *ParsedMessage) {
	l.backlog = append(l.backlog, msg)
}

// PopBacklog dequeues and returns the oldest backlogged message, or false
// if the backlog is empty.
func (l *MessageLog) PopBacklog() (*ParsedMessage, bool) {
	if len(l.backlog) == 0 {
		return nil, false
	}
	msg := l.backlog[0]
	l.backlog = l.backlog[1:]
	return msg, true
}

// drainBacklog removes and returns every backlogged message at once, so a
// replay pass can re-attempt each without racing entries it re-pushes.
func (l *MessageLog) drainBacklog() []*ParsedMessage {
	pending := l.backlog
	l.backlog = nil
	return pending
}

// BacklogLen reports how many messages are deferred (for metrics).
func (l *MessageLog) BacklogLen() int {
	return len(l.backlog)
}

// Len reports how many messages are retained (for metrics).
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// GarbageCollect drops entries with seq_num + maxLogSize <= belowSeq
// (spec §4.5, §8 "Log GC").
func (l *MessageLog) GarbageCollect(belowSeq, maxLogSize uint64) {
	for k := range l.messages {
		if k.seqNum+maxLogSize <= belowSeq {
			delete(l.messages, k)
		}
	}
}
