package pbft

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
)

// StartupState carries the chain head, membership, and local identity an
// Engine is bootstrapped with (spec §6 "Engine interface ... startup_state
// carries {chain_head, peers, local_peer_info}").
type StartupState struct {
	ChainHead     Block
	Peers         []PeerID
	LocalPeerInfo PeerID
}

// Engine is the exposed interface spec §6 names: start, name, version.
// Realized as a concrete type rather than an interface, since this module
// is the only implementation and callers (cmd/pbft-node) construct it
// directly.
type Engine struct {
	validator Validator
	keys      KeyStore
	priv      *btcec.PrivateKey
	store     Store
	cfg       StateConfig
}

// NewEngine builds an Engine from its external collaborators and local
// configuration.
func NewEngine(validator Validator, keys KeyStore, priv *btcec.PrivateKey, store Store, cfg StateConfig) *Engine {
	return &Engine{validator: validator, keys: keys, priv: priv, store: store, cfg: cfg}
}

// Name returns the consensus engine's registration name.
func (e *Engine) Name() string { return "pbft" }

// Version returns the consensus engine's protocol version.
func (e *Engine) Version() string { return "1.0" }

// Start constructs (or restores) State and runs the event loop until
// shutdown (spec §6 "start(updates, service, startup_state) -> ()").
func (e *Engine) Start(ctx context.Context, updates <-chan Update, startup StartupState) error {
	state, err := e.loadOrInitState(startup)
	if err != nil {
		return err
	}

	node := NewNode(state, NewMessageLog(), e.validator, e.keys, e.priv, e.store)

	// Arm the timer that guards the node's current phase before the loop
	// starts watching it (spec §4.1(b)/(c); original_source/src/engine.rs
	// calls start_idle_timeout right after constructing the node and before
	// entering the loop). Without this a primary that never proposes the
	// first block, or a restart recovered mid Checking/Preparing/Committing,
	// is never detected.
	if node.State.Phase == PhasePrePreparing {
		node.State.FaultyPrimaryTimeout.Start()
	} else {
		node.State.CommitTimeout.Start()
	}

	loop := &EventLoop{Node: node, Updates: updates, Keys: e.keys}
	return loop.Run(ctx)
}

func (e *Engine) loadOrInitState(startup StartupState) (*State, error) {
	if e.store != nil {
		persisted, ok, err := e.store.Load()
		if err != nil {
			return nil, fatalf("failed to load persisted state at startup", err)
		}
		if ok {
			return RestoreState(persisted), nil
		}
	}

	state, err := NewState(startup.LocalPeerInfo, startup.Peers, e.cfg)
	if err != nil {
		return nil, err
	}
	state.WorkingBlock = nil
	if startup.ChainHead.BlockNum > 0 {
		state.SeqNum = startup.ChainHead.BlockNum + 1
	}
	return state, nil
}
