package pbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepareMsg(signer PeerID, view, seq uint64, blockID BlockID, fromSelf bool) *ParsedMessage {
	return &ParsedMessage{
		Message: &PbftMessage{
			Info:  PbftMessageInfo{MsgType: MessageTypePrepare, View: view, SeqNum: seq, SignerID: signer},
			Block: PbftBlock{BlockID: blockID},
		},
		FromSelf: fromSelf,
	}
}

func TestAddMessageDedupesOnFullKey(t *testing.T) {
	l := NewMessageLog()
	blockID := BytesToBlockID([]byte("b"))
	m1 := prepareMsg("a", 1, 1, blockID, false)
	m2 := prepareMsg("a", 1, 1, blockID, false)

	assert.True(t, l.AddMessage(m1, 1))
	assert.False(t, l.AddMessage(m2, 1), "duplicate (signer,type,view,seq,block) must be rejected")
	assert.Equal(t, 1, l.Len())
}

func TestAddMessageRejectsStaleView(t *testing.T) {
	l := NewMessageLog()
	blockID := BytesToBlockID([]byte("b"))
	m := prepareMsg("a", 1, 1, blockID, false)

	assert.False(t, l.AddMessage(m, 2), "view-bound message carrying a non-current view must be rejected")
	assert.Equal(t, 0, l.Len())
}

func TestLogHasRequiredMsgsCountsDistinctSigners(t *testing.T) {
	l := NewMessageLog()
	blockID := BytesToBlockID([]byte("b"))
	ref := PbftMessageInfo{View: 1, SeqNum: 1}

	for _, signer := range []PeerID{"a", "b", "c"} {
		l.AddMessage(prepareMsg(signer, 1, 1, blockID, signer == "a"), 1)
	}

	assert.True(t, l.LogHasRequiredMsgs(MessageTypePrepare, ref, blockID, true, 3, false))
	assert.False(t, l.LogHasRequiredMsgs(MessageTypePrepare, ref, blockID, true, 4, false))
	assert.True(t, l.LogHasRequiredMsgs(MessageTypePrepare, ref, blockID, true, 2, true),
		"excludeSelf should drop the FromSelf vote from the count")
}

func TestLogHasRequiredMsgsBlockMismatchExcluded(t *testing.T) {
	l := NewMessageLog()
	blockA := BytesToBlockID([]byte("a-block"))
	blockB := BytesToBlockID([]byte("b-block"))
	ref := PbftMessageInfo{View: 1, SeqNum: 1}

	l.AddMessage(prepareMsg("a", 1, 1, blockA, false), 1)
	l.AddMessage(prepareMsg("b", 1, 1, blockB, false), 1)

	assert.False(t, l.LogHasRequiredMsgs(MessageTypePrepare, ref, blockA, true, 2, false))
	assert.True(t, l.LogHasRequiredMsgs(MessageTypePrepare, ref, blockA, false, 2, false),
		"matchBlock=false should count both regardless of which block they reference")
}

func TestGetOneMsgIgnoresSigner(t *testing.T) {
	l := NewMessageLog()
	blockID := BytesToBlockID([]byte("b"))
	pp := &ParsedMessage{Message: &PbftMessage{
		Info:  PbftMessageInfo{MsgType: MessageTypePrePrepare, View: 1, SeqNum: 1, SignerID: "primary"},
		Block: PbftBlock{BlockID: blockID},
	}}
	l.AddMessage(pp, 1)

	got, ok := l.GetOneMsg(PbftMessageInfo{View: 1, SeqNum: 1}, MessageTypePrePrepare, blockID)
	require.True(t, ok)
	assert.Equal(t, PeerID("primary"), got.Info().SignerID)
}

func TestGetEnoughMessagesReturnsSortedSubsetOrNil(t *testing.T) {
	l := NewMessageLog()
	blockID := BytesToBlockID([]byte("b"))
	for _, signer := range []PeerID{"c", "a", "b"} {
		l.AddMessage(&ParsedMessage{Message: &PbftMessage{
			Info:  PbftMessageInfo{MsgType: MessageTypeCommit, View: 0, SeqNum: 5, SignerID: signer},
			Block: PbftBlock{BlockID: blockID},
		}}, 0)
	}

	assert.Nil(t, l.GetEnoughMessages(MessageTypeCommit, 5, 4))

	got := l.GetEnoughMessages(MessageTypeCommit, 5, 3)
	require.Len(t, got, 3)
	assert.Equal(t, PeerID("a"), got[0].Info().SignerID)
	assert.Equal(t, PeerID("b"), got[1].Info().SignerID)
	assert.Equal(t, PeerID("c"), got[2].Info().SignerID)
}

func TestGetEnoughMessagesByViewExcludesSigner(t *testing.T) {
	l := NewMessageLog()
	for _, signer := range []PeerID{"a", "b", "c"} {
		l.AddMessage(&ParsedMessage{Message: &PbftMessage{
			Info: PbftMessageInfo{MsgType: MessageTypeViewChange, View: 2, SignerID: signer},
		}}, 2)
	}

	got := l.GetEnoughMessagesByView(MessageTypeViewChange, 2, 2, "a")
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, PeerID("a"), m.Info().SignerID)
	}
	assert.Nil(t, l.GetEnoughMessagesByView(MessageTypeViewChange, 2, 3, "a"))
}

func TestBacklogIsFIFO(t *testing.T) {
	l := NewMessageLog()
	first := prepareMsg("a", 1, 1, BlockID{}, false)
	second := prepareMsg("b", 1, 2, BlockID{}, false)
	l.PushBacklog(first)
	l.PushBacklog(second)
	assert.Equal(t, 2, l.BacklogLen())

	got, ok := l.PopBacklog()
	require.True(t, ok)
	assert.Same(t, first, got)
	got, ok = l.PopBacklog()
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = l.PopBacklog()
	assert.False(t, ok)
}

func TestGarbageCollectDropsOldHeights(t *testing.T) {
	l := NewMessageLog()
	blockID := BytesToBlockID([]byte("b"))
	l.AddMessage(&ParsedMessage{Message: &PbftMessage{
		Info:  PbftMessageInfo{MsgType: MessageTypeCommit, View: 0, SeqNum: 1, SignerID: "a"},
		Block: PbftBlock{BlockID: blockID},
	}}, 0)
	l.AddMessage(&ParsedMessage{Message: &PbftMessage{
		Info:  PbftMessageInfo{MsgType: MessageTypeCommit, View: 0, SeqNum: 100, SignerID: "a"},
		Block: PbftBlock{BlockID: blockID},
	}}, 0)

	l.GarbageCollect(50, 10)
	assert.Equal(t, 1, l.Len())
	remaining := l.GetMessagesOfTypeSeq(MessageTypeCommit, 100)
	assert.Len(t, remaining, 1)
}
