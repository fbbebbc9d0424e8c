package pbft

import "context"

// Block is the validator's own block representation, opaque to this
// package except for the fields the core reads (spec §3 "Block").
type Block struct {
	BlockID    BlockID
	PreviousID BlockID
	SignerID   PeerID
	BlockNum   uint64
	Payload    []byte
	Summary    []byte
}

// ToPbftBlock projects b down to the PbftBlock carried inside PBFT
// messages (spec §3 "PbftBlock").
func (b Block) ToPbftBlock() PbftBlock {
	return PbftBlock{
		BlockID:    b.BlockID,
		PreviousID: b.PreviousID,
		SignerID:   b.SignerID,
		BlockNum:   b.BlockNum,
		Summary:    b.Summary,
	}
}

// Validator is the capability set Node consumes, owned exclusively by
// Node with no back-reference (spec §6, §9 "Cyclic references"). Realized
// as a plain interface value, the teacher's ServiceProvider/Registry
// pattern (internal/cerera/service) generalized from transaction-pool
// services to the block-proposal/commit/broadcast surface PBFT needs; spec
// §9 explicitly allows any capability-set shape and the core never
// inspects the concrete type.
type Validator interface {
	InitializeBlock(ctx context.Context, previousID *BlockID) error
	SummarizeBlock(ctx context.Context) ([]byte, error)
	FinalizeBlock(ctx context.Context, payload []byte) (BlockID, error)
	CancelBlock(ctx context.Context) error

	CheckBlocks(ctx context.Context, ids []BlockID) error
	CommitBlock(ctx context.Context, id BlockID) error
	FailBlock(ctx context.Context, id BlockID) error
	IgnoreBlock(ctx context.Context, id BlockID) error

	GetBlocks(ctx context.Context, ids []BlockID) (map[BlockID]Block, error)
	GetChainHead(ctx context.Context) (Block, error)
	GetSettings(ctx context.Context, blockID BlockID, keys []string) (map[string]string, error)
	GetState(ctx context.Context, blockID BlockID, addrs []string) (map[string][]byte, error)

	Broadcast(ctx context.Context, msgType string, payload []byte) error
	SendTo(ctx context.Context, peerID PeerID, msgType string, payload []byte) error
}

// ErrBlockNotReady is returned by SummarizeBlock/FinalizeBlock when the
// validator has not finished assembling a block yet (spec §6
// "summarize_block() -> bytes | NotReady").
var ErrBlockNotReady = errBlockNotReady{}

type errBlockNotReady struct{}

func (errBlockNotReady) Error() string { return "pbft: block not ready" }

// NullValidator is a no-op Validator, grounded on the teacher's pattern of
// running a Manager with a nil service provider guarded at every call site
// (internal/icenet/consensus/manager.go) — here the null object removes
// the need for the guard. cmd/pbft-node uses it to run the engine
// standalone, without a real validator.
type NullValidator struct{}

func (NullValidator) InitializeBlock(context.Context, *BlockID) error { return nil }
func (NullValidator) SummarizeBlock(context.Context) ([]byte, error)  { return nil, nil }
func (NullValidator) FinalizeBlock(context.Context, []byte) (BlockID, error) {
	return BlockID{}, nil
}
func (NullValidator) CancelBlock(context.Context) error          { return nil }
func (NullValidator) CheckBlocks(context.Context, []BlockID) error { return nil }
func (NullValidator) CommitBlock(context.Context, BlockID) error  { return nil }
func (NullValidator) FailBlock(context.Context, BlockID) error    { return nil }
func (NullValidator) IgnoreBlock(context.Context, BlockID) error  { return nil }
func (NullValidator) GetBlocks(context.Context, []BlockID) (map[BlockID]Block, error) {
	return nil, nil
}
func (NullValidator) GetChainHead(context.Context) (Block, error) { return Block{}, nil }
func (NullValidator) GetSettings(context.Context, BlockID, []string) (map[string]string, error) {
	return nil, nil
}
func (NullValidator) GetState(context.Context, BlockID, []string) (map[string][]byte, error) {
	return nil, nil
}
func (NullValidator) Broadcast(context.Context, string, []byte) error       { return nil }
func (NullValidator) SendTo(context.Context, PeerID, string, []byte) error { return nil }
