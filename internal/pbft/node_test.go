package pbft

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNetwork wires a small cluster of Nodes together in-process: each
// node's Validator.Broadcast relays the signed wire payload straight into
// every other node's OnPeerMessage, and CheckBlocks resolves synchronously
// into OnBlockValid, standing in for an external validator that always
// accepts. This lets the three-phase cascade (PrePrepare -> Prepare ->
// Commit) run to completion within one synchronous test call, the way the
// teacher's consensus tests drive a RoundState end to end in-process
// (internal/icenet/consensus/manager_test.go-style single-process setup).
type testNetwork struct {
	nodes map[PeerID]*Node
	keys  KeyStore
	privs map[PeerID]*btcec.PrivateKey
}

// privOf recovers a cluster member's private key for tests that need to
// hand-sign a message on that member's behalf (e.g. forging a conflicting
// PrePrepare "from" the primary).
func (net *testNetwork) privOf(id PeerID) (*btcec.PrivateKey, bool) {
	priv, ok := net.privs[id]
	return priv, ok
}

func (net *testNetwork) deliver(ctx context.Context, from PeerID, msgType string, payload []byte) error {
	isNewView := msgType == MessageTypeNewView.String()
	for id, node := range net.nodes {
		if id == from {
			continue
		}
		parsed, err := DecodeSignedPeerMessage(net.keys, isNewView, payload)
		if err != nil {
			return err
		}
		if err := node.OnPeerMessage(ctx, parsed); err != nil {
			return err
		}
	}
	return nil
}

// testValidator is a per-node Validator stub: it records commits/failures
// and drives CheckBlocks/Broadcast back through the shared testNetwork.
type testValidator struct {
	net       *testNetwork
	id        PeerID
	committed []BlockID
	failed    []BlockID
}

func (v *testValidator) InitializeBlock(context.Context, *BlockID) error { return nil }
func (v *testValidator) SummarizeBlock(context.Context) ([]byte, error)  { return nil, ErrBlockNotReady }
func (v *testValidator) FinalizeBlock(context.Context, []byte) (BlockID, error) {
	return BlockID{}, ErrBlockNotReady
}
func (v *testValidator) CancelBlock(context.Context) error { return nil }
func (v *testValidator) CheckBlocks(ctx context.Context, ids []BlockID) error {
	return v.net.nodes[v.id].OnBlockValid(ctx)
}
func (v *testValidator) CommitBlock(_ context.Context, id BlockID) error {
	v.committed = append(v.committed, id)
	return nil
}
func (v *testValidator) FailBlock(_ context.Context, id BlockID) error {
	v.failed = append(v.failed, id)
	return nil
}
func (v *testValidator) IgnoreBlock(context.Context, BlockID) error { return nil }
func (v *testValidator) GetBlocks(context.Context, []BlockID) (map[BlockID]Block, error) {
	return nil, nil
}
func (v *testValidator) GetChainHead(context.Context) (Block, error) { return Block{}, nil }
func (v *testValidator) GetSettings(context.Context, BlockID, []string) (map[string]string, error) {
	return nil, nil
}
func (v *testValidator) GetState(context.Context, BlockID, []string) (map[string][]byte, error) {
	return nil, nil
}
func (v *testValidator) Broadcast(ctx context.Context, msgType string, payload []byte) error {
	return v.net.deliver(ctx, v.id, msgType, payload)
}
func (v *testValidator) SendTo(ctx context.Context, to PeerID, msgType string, payload []byte) error {
	if node, ok := v.net.nodes[to]; ok {
		isNewView := msgType == MessageTypeNewView.String()
		parsed, err := DecodeSignedPeerMessage(v.net.keys, isNewView, payload)
		if err != nil {
			return err
		}
		return node.OnPeerMessage(ctx, parsed)
	}
	return nil
}

type cluster struct {
	ids        []PeerID
	nodes      map[PeerID]*Node
	validators map[PeerID]*testValidator
	net        *testNetwork
}

// newCluster builds n nodes (n = 3f+1) sharing a single testNetwork, all
// with very long timer durations so Housekeeping-driven timeouts never
// fire unless a test calls CheckExpired itself.
func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	ids := make([]PeerID, n)
	privs := make(map[PeerID]*btcec.PrivateKey, n)
	pubs := make(map[PeerID]*btcec.PublicKey, n)
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		id := PeerID(priv.PubKey().SerializeCompressed())
		ids[i] = id
		privs[id] = priv
		pubs[id] = priv.PubKey()
	}
	keys := NewStaticKeyStore(pubs)
	net := &testNetwork{nodes: make(map[PeerID]*Node, n), keys: keys, privs: privs}

	cfg := StateConfig{
		BlockDuration:          time.Hour,
		MessageTimeout:         time.Hour,
		ViewChangeDuration:     time.Hour,
		ForcedViewChangePeriod: 0,
		MaxLogSize:             1000,
	}

	validators := make(map[PeerID]*testValidator, n)
	for _, id := range ids {
		state, err := NewState(id, ids, cfg)
		require.NoError(t, err)
		v := &testValidator{net: net, id: id}
		node := NewNode(state, NewMessageLog(), v, keys, privs[id], NewMemoryStore())
		net.nodes[id] = node
		validators[id] = v
	}

	return &cluster{ids: ids, nodes: net.nodes, validators: validators, net: net}
}

func (c *cluster) primary(view uint64) PeerID {
	return c.nodes[c.ids[0]].State.Primary(view)
}

// announceBlock delivers a BlockNew update to every node, followers first
// so their BlockNew is logged before the primary's own OnBlockNew call
// cascades into a PrePrepare broadcast.
func (c *cluster) announceBlock(t *testing.T, ctx context.Context, blk Block) {
	t.Helper()
	primary := c.nodes[c.ids[0]].State.Primary(c.nodes[c.ids[0]].State.View)
	for _, id := range c.ids {
		if id == primary {
			continue
		}
		require.NoError(t, c.nodes[id].OnBlockNew(ctx, blk))
	}
	require.NoError(t, c.nodes[primary].OnBlockNew(ctx, blk))
}

func blockFrom(signer PeerID, num uint64, prev BlockID, summary string) Block {
	return Block{
		BlockID:    BytesToBlockID([]byte(summary + "-id")),
		PreviousID: prev,
		SignerID:   signer,
		BlockNum:   num,
		Summary:    []byte(summary),
	}
}

func TestClusterCommitsFirstBlock(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4)
	primary := c.primary(0)

	blk := blockFrom(primary, 1, BlockID{}, "block-1")
	c.announceBlock(t, ctx, blk)

	for _, id := range c.ids {
		node := c.nodes[id]
		assert.Equal(t, PhaseFinished, node.State.Phase, "node %s should reach Finished", id)
		assert.Len(t, c.validators[id].committed, 1)
		assert.Equal(t, blk.BlockID, c.validators[id].committed[0])
	}
}

func TestClusterAdvancesSeqNumAfterCommit(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4)
	primary := c.primary(0)

	blk := blockFrom(primary, 1, BlockID{}, "block-1")
	c.announceBlock(t, ctx, blk)

	for _, id := range c.ids {
		require.NoError(t, c.nodes[id].OnBlockCommit(ctx, blk.BlockID))
	}

	for _, id := range c.ids {
		node := c.nodes[id]
		assert.Equal(t, uint64(2), node.State.SeqNum)
		assert.Equal(t, PhasePrePreparing, node.State.Phase)
		assert.Nil(t, node.State.WorkingBlock)
	}
}

func TestConflictingPrePreparesTriggerViewChange(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4)
	primary := c.primary(0)
	follower := c.ids[1]
	if follower == primary {
		follower = c.ids[2]
	}

	blockA := PbftBlock{BlockID: BytesToBlockID([]byte("a")), SignerID: primary, BlockNum: 1}
	blockB := PbftBlock{BlockID: BytesToBlockID([]byte("b")), SignerID: primary, BlockNum: 1}

	// Both blocks reached the follower as BlockNew (a PrePrepare whose block
	// has no BlockNew is only backlogged), and block A is its working block.
	node := c.nodes[follower]
	for _, blk := range []PbftBlock{blockA, blockB} {
		node.Log.AddMessage(&ParsedMessage{Message: &PbftMessage{
			Info:  PbftMessageInfo{MsgType: MessageTypeBlockNew, View: 0, SeqNum: 1, SignerID: primary},
			Block: blk,
		}}, 0)
	}
	wb := blockA
	node.State.WorkingBlock = &wb

	infoA := PbftMessageInfo{MsgType: MessageTypePrePrepare, View: 0, SeqNum: 1, SignerID: primary}
	_, parsedA, err := EncodeSignedMessage(findPriv(t, c, primary), primary, PbftMessage{Info: infoA, Block: blockA})
	require.NoError(t, err)
	require.NoError(t, node.onPrePrepare(ctx, parsedA))
	// The test validator resolves CheckBlocks synchronously into
	// OnBlockValid, so accepting the PrePrepare carries the node through
	// Checking into Preparing.
	assert.Equal(t, PhasePreparing, node.State.Phase)

	_, parsedB, err := EncodeSignedMessage(findPriv(t, c, primary), primary, PbftMessage{Info: infoA, Block: blockB})
	require.NoError(t, err)
	require.NoError(t, node.onPrePrepare(ctx, parsedB))

	assert.True(t, node.State.Mode.ViewChanging, "conflicting PrePrepares from the primary must trigger a view change")
	assert.Equal(t, uint64(1), node.State.Mode.TargetView)
	assert.ElementsMatch(t, []BlockID{blockA.BlockID, blockB.BlockID},
		[]BlockID{c.validators[follower].failed[0], c.validators[follower].failed[1]})
}

// findPriv returns a cluster member's private key from the shared
// testNetwork, so a test can sign a message on that member's behalf (only a
// correctly-signed PrePrepare exercises onPrePrepare's conflict check).
func findPriv(t *testing.T, c *cluster, id PeerID) *btcec.PrivateKey {
	t.Helper()
	priv, ok := c.net.privOf(id)
	require.True(t, ok)
	return priv
}

func TestViewChangebyFPlus1Rule(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4)
	target := uint64(1)

	// 2 of the other 3 replicas (f+1 with f=1) independently propose a
	// view change; a third replica observing both must join even though it
	// never timed out itself (spec §4.3 "f+1 rule").
	voters := otherThan(c.ids, c.primary(0))[:2]
	observer := otherThan(c.ids, c.primary(0))[2]

	for _, v := range voters {
		info := PbftMessageInfo{MsgType: MessageTypeViewChange, View: target, SeqNum: 0, SignerID: v}
		_, parsed, err := EncodeSignedMessage(findPriv(t, c, v), v, PbftMessage{Info: info})
		require.NoError(t, err)
		require.NoError(t, c.nodes[observer].onViewChange(ctx, parsed))
	}

	assert.True(t, c.nodes[observer].State.Mode.ViewChanging)
	assert.GreaterOrEqual(t, c.nodes[observer].State.Mode.TargetView, target)
}

func TestNewViewAdoptsNewView(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4)
	oldPrimary := c.primary(0)
	target := uint64(1)
	newPrimary := c.nodes[c.ids[0]].State.Primary(target)

	others := otherThan(c.ids, newPrimary)
	for _, v := range others {
		require.NoError(t, c.nodes[v].ProposeViewChange(ctx, target))
	}
	_ = oldPrimary

	for id, node := range c.nodes {
		if id == newPrimary {
			assert.Equal(t, target, node.State.View, "new primary should have adopted the view via its own NewView")
		} else {
			assert.Equal(t, target, node.State.View, "replicas should adopt the new view from the broadcast NewView")
		}
		assert.False(t, node.State.Mode.ViewChanging)
	}
}

func TestCatchUpFinalizesStragglerFromEmbeddedSeal(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4)
	primary := c.primary(0)

	blk1 := blockFrom(primary, 1, BlockID{}, "block-1")
	c.announceBlock(t, ctx, blk1)
	for _, id := range c.ids {
		require.NoError(t, c.nodes[id].OnBlockCommit(ctx, blk1.BlockID))
	}

	// The primary proposes block 2, so the seal is built from its log, as
	// TryPublish does.
	straggler := otherThan(c.ids, primary)[0]
	log := c.nodes[primary].Log
	seal, err := BuildSeal(log, 1, c.nodes[primary].State.Quorum2f(), []byte("block-2"))
	require.NoError(t, err)

	blk2 := Block{
		BlockID:    BytesToBlockID([]byte("block-2-id")),
		PreviousID: blk1.BlockID,
		SignerID:   c.nodes[straggler].State.Primary(0),
		BlockNum:   2,
		Payload:    MarshalSeal(*seal),
		Summary:    []byte("block-2"),
	}

	// Put the straggler back at height 1, still Committing block 1 with no
	// commit recorded. The BlockNew for height 2 carries the seal proving
	// block 1, so the straggler commits block 1 from that seal and re-enters
	// OnBlockCommit, which moves it on to height 2.
	node := c.nodes[straggler]
	cp := blk1.ToPbftBlock()
	node.State.WorkingBlock = &cp
	node.State.SeqNum = 1
	node.State.Phase = PhaseCommitting
	c.validators[straggler].committed = nil

	require.NoError(t, node.OnBlockNew(ctx, blk2))
	assert.Equal(t, PhasePrePreparing, node.State.Phase)
	assert.Equal(t, uint64(2), node.State.SeqNum)
	assert.Contains(t, c.validators[straggler].committed, blk1.BlockID)
}

func otherThan(ids []PeerID, exclude PeerID) []PeerID {
	var out []PeerID
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
