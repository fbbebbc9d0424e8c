package pbft

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sealFixture struct {
	peers []PeerID
	priv  map[PeerID]*btcec.PrivateKey
	ks    KeyStore
}

func newSealFixture(t *testing.T, n int) sealFixture {
	t.Helper()
	peers := make([]PeerID, n)
	priv := make(map[PeerID]*btcec.PrivateKey, n)
	pub := make(map[PeerID]*btcec.PublicKey, n)
	for i := 0; i < n; i++ {
		p, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		id := PeerID(p.PubKey().SerializeCompressed())
		peers[i] = id
		priv[id] = p
		pub[id] = p.PubKey()
	}
	return sealFixture{peers: peers, priv: priv, ks: NewStaticKeyStore(pub)}
}

func (f sealFixture) commitVote(t *testing.T, signer PeerID, view, seq uint64, blk PbftBlock) *ParsedMessage {
	t.Helper()
	msg := PbftMessage{Info: PbftMessageInfo{MsgType: MessageTypeCommit, View: view, SeqNum: seq, SignerID: signer}, Block: blk}
	_, parsed, err := EncodeSignedMessage(f.priv[signer], signer, msg)
	require.NoError(t, err)
	return parsed
}

func TestBuildAndVerifySeal(t *testing.T) {
	f := newSealFixture(t, 4)
	prevBlock := PbftBlock{BlockID: BytesToBlockID([]byte("prev")), SignerID: f.peers[0], BlockNum: 5}
	summary := []byte("summary")

	log := NewMessageLog()
	for _, signer := range f.peers[:3] {
		log.AddMessage(f.commitVote(t, signer, 0, 5, prevBlock), 0)
	}

	seal, err := BuildSeal(log, 5, 3, summary)
	require.NoError(t, err)
	assert.Equal(t, prevBlock.BlockID, seal.PreviousID)
	require.Len(t, seal.PreviousCommitVotes, 3)

	nextBlock := PbftBlock{BlockID: BytesToBlockID([]byte("next")), PreviousID: prevBlock.BlockID, SignerID: f.peers[3], BlockNum: 6, Summary: summary}
	err = VerifyConsensusSeal(f.ks, seal, nextBlock, f.peers, 3)
	assert.NoError(t, err)
}

func TestBuildSealFailsWithoutQuorum(t *testing.T) {
	f := newSealFixture(t, 4)
	prevBlock := PbftBlock{BlockID: BytesToBlockID([]byte("prev")), SignerID: f.peers[0], BlockNum: 5}
	log := NewMessageLog()
	log.AddMessage(f.commitVote(t, f.peers[0], 0, 5, prevBlock), 0)

	_, err := BuildSeal(log, 5, 3, nil)
	assert.ErrorIs(t, err, ErrWrongNumMessages)
}

func TestVerifyConsensusSealRejectsMismatchedPreviousID(t *testing.T) {
	f := newSealFixture(t, 4)
	prevBlock := PbftBlock{BlockID: BytesToBlockID([]byte("prev")), SignerID: f.peers[0], BlockNum: 5}
	log := NewMessageLog()
	for _, signer := range f.peers[:3] {
		log.AddMessage(f.commitVote(t, signer, 0, 5, prevBlock), 0)
	}
	seal, err := BuildSeal(log, 5, 3, nil)
	require.NoError(t, err)

	wrongPrev := PbftBlock{BlockID: BytesToBlockID([]byte("next")), PreviousID: BytesToBlockID([]byte("not-prev")), SignerID: f.peers[1], BlockNum: 6}
	err = VerifyConsensusSeal(f.ks, seal, wrongPrev, f.peers, 3)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestVerifyConsensusSealRejectsBlockSignerCastingOwnSeal(t *testing.T) {
	f := newSealFixture(t, 4)
	prevBlock := PbftBlock{BlockID: BytesToBlockID([]byte("prev")), SignerID: f.peers[0], BlockNum: 5}
	log := NewMessageLog()
	// Only 2 distinct non-proposer voters plus the proposer itself voting
	// for its own commit: the proposer's vote must not count toward the
	// quorum bound on the next block it signs.
	for _, signer := range f.peers[:3] {
		log.AddMessage(f.commitVote(t, signer, 0, 5, prevBlock), 0)
	}
	seal, err := BuildSeal(log, 5, 3, nil)
	require.NoError(t, err)

	nextBlock := PbftBlock{BlockID: BytesToBlockID([]byte("next")), PreviousID: prevBlock.BlockID, SignerID: f.peers[0], BlockNum: 6}
	err = VerifyConsensusSeal(f.ks, seal, nextBlock, f.peers, 3)
	assert.ErrorIs(t, err, ErrInvalidMessage, "the next block's own signer must be excluded from the allowed voter set")
}

func TestVerifyConsensusSealRejectsInsufficientDistinctVoters(t *testing.T) {
	f := newSealFixture(t, 4)
	prevBlock := PbftBlock{BlockID: BytesToBlockID([]byte("prev")), SignerID: f.peers[0], BlockNum: 5}
	nextBlock := PbftBlock{BlockID: BytesToBlockID([]byte("next")), PreviousID: prevBlock.BlockID, SignerID: f.peers[3], BlockNum: 6}

	seal := &PbftSeal{PreviousID: prevBlock.BlockID}
	for _, signer := range f.peers[:2] {
		parsed := f.commitVote(t, signer, 0, 5, prevBlock)
		seal.PreviousCommitVotes = append(seal.PreviousCommitVotes, PbftSignedVote{
			HeaderBytes: parsed.HeaderBytes, HeaderSignature: parsed.HeaderSignature, MessageBytes: parsed.MessageBytes,
		})
	}

	err := VerifyConsensusSeal(f.ks, seal, nextBlock, f.peers, 3)
	assert.ErrorIs(t, err, ErrWrongNumMessages)
}
