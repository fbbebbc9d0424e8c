package pbft

import (
	"fmt"
	"time"
)

// State is the replicated-state-machine context (spec §3 "State"):
// identity, membership, the view/seq_num/phase/mode triple, the working
// block, config-derived durations, the three timeouts and the working
// ticker. It is mutated
// exclusively by the event loop — grounded on the teacher's RoundState as
// the comparable single-writer protocol-state object
// (internal/icenet/consensus/state.go), generalized from one round's votes
// to the cross-height, cross-view bookkeeping PBFT needs.
type State struct {
	ID      PeerID
	PeerIDs []PeerID
	F       uint64

	View   uint64
	SeqNum uint64
	Phase  Phase
	Mode   Mode

	WorkingBlock *PbftBlock

	BlockDuration          time.Duration
	MessageTimeout         time.Duration
	ViewChangeDuration     time.Duration
	ForcedViewChangePeriod uint64
	MaxLogSize             uint64

	FaultyPrimaryTimeout *Timeout
	CommitTimeout        *Timeout
	ViewChangeTimeout    *Timeout
	WorkingTicker        *Ticker
}

// NewState builds a fresh State at seq_num 1, PrePreparing/Normal, for the
// given identity and initial membership. f is derived per spec §3
// ("f = (|peers|-1)/3"); a FatalError is returned if f would be zero — the
// network is below BFT size (spec §4.6, §7 "Fatal").
func NewState(id PeerID, peerIDs []PeerID, cfg StateConfig) (*State, error) {
	f := quorumF(len(peerIDs))
	if f == 0 {
		return nil, fatalf("insufficient peers for BFT (f=0)", nil)
	}
	s := &State{
		ID:                     id,
		PeerIDs:                append([]PeerID(nil), peerIDs...),
		F:                      f,
		View:                   0,
		SeqNum:                 1,
		Phase:                  PhasePrePreparing,
		Mode:                   NormalMode(),
		BlockDuration:          cfg.BlockDuration,
		MessageTimeout:         cfg.MessageTimeout,
		ViewChangeDuration:     cfg.ViewChangeDuration,
		ForcedViewChangePeriod: cfg.ForcedViewChangePeriod,
		MaxLogSize:             cfg.MaxLogSize,
		FaultyPrimaryTimeout:   NewTimeout(cfg.MessageTimeout),
		CommitTimeout:          NewTimeout(cfg.MessageTimeout),
		ViewChangeTimeout:      NewTimeout(cfg.ViewChangeDuration),
		WorkingTicker:          NewTicker(cfg.BlockDuration),
	}
	return s, nil
}

// StateConfig carries the duration/size parameters State needs at
// construction, decoded from internal/config.Config or from on-chain
// settings (spec §6 "sawtooth.consensus.pbft.* ... config struct").
type StateConfig struct {
	BlockDuration          time.Duration
	MessageTimeout         time.Duration
	ViewChangeDuration     time.Duration
	ForcedViewChangePeriod uint64
	MaxLogSize             uint64
}

// quorumF computes f = (n-1)/3 for n peers.
func quorumF(n int) uint64 {
	if n == 0 {
		return 0
	}
	return uint64(n-1) / 3
}

// Quorum2f1 is the self-inclusive quorum size 2f+1 (spec §4.5).
func (s *State) Quorum2f1() int {
	return int(2*s.F + 1)
}

// Quorum2f is the self-exclusive quorum size 2f, used for NewView
// (spec §4.5).
func (s *State) Quorum2f() int {
	return int(2 * s.F)
}

// QuorumF1 is the f+1 threshold that triggers an early view change
// (spec §4.3, §4.5).
func (s *State) QuorumF1() int {
	return int(s.F + 1)
}

// Primary returns the peer serving as primary for view v (spec §3,
// GLOSSARY "peers[view mod |peers|]").
func (s *State) Primary(view uint64) PeerID {
	if len(s.PeerIDs) == 0 {
		var zero PeerID
		return zero
	}
	return s.PeerIDs[view%uint64(len(s.PeerIDs))]
}

// IsPrimary reports whether this node is primary for the current view.
func (s *State) IsPrimary() bool {
	return s.Primary(s.View) == s.ID
}

// AtForcedViewChange reports whether seq_num lands on a forced
// view-change boundary (spec §4.2 "on_block_commit").
func (s *State) AtForcedViewChange() bool {
	if s.ForcedViewChangePeriod == 0 {
		return false
	}
	return s.SeqNum%s.ForcedViewChangePeriod == 0
}

// ResetToStart clears mode, returns to PrePreparing, drops the working
// block, and keeps seq_num — the state a node lands in after adopting a
// NewView (spec §4.3 "reset_to_start").
func (s *State) ResetToStart() {
	s.Mode = NormalMode()
	s.Phase = PhasePrePreparing
	s.WorkingBlock = nil
}

// String renders a compact summary for log lines, the pattern the
// teacher's RoundState.SetState log line follows.
func (s *State) String() string {
	return fmt.Sprintf("view=%d seq=%d phase=%s mode=%+v", s.View, s.SeqNum, s.Phase, s.Mode)
}
