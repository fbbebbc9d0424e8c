package pbft

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	bitcask "go.mills.io/bitcask/v2"
)

func durationOf(ns int64) time.Duration { return time.Duration(ns) }

// PersistedState is the single record layout spec §6 "Persisted state
// layout" describes, gob-encoded into the backend, following the
// teacher's own ValToBinary/gob-over-bytes framing
// (internal/cerera/storage/db.go) rather than hand-rolling a second wire
// format alongside the protobuf one reserved for peer messages.
type PersistedState struct {
	ID                     PeerID
	View                   uint64
	SeqNum                 uint64
	Phase                  Phase
	Mode                   Mode
	WorkingBlock           *PbftBlock
	PeerIDs                []PeerID
	F                      uint64
	BlockDuration          int64
	MessageTimeout         int64
	ViewChangeDuration     int64
	ForcedViewChangePeriod uint64
	MaxLogSize             uint64
}

// Store loads and saves PersistedState across restarts, pluggable behind a
// {load, save} pair (spec §9 "Persistence may be a file, an embedded KV
// store, or in-memory ... pluggable behind a {load, save} pair").
type Store interface {
	Load() (*PersistedState, bool, error)
	Save(*PersistedState) error
	Close() error
}

// MemoryStore is an in-process Store for tests and for nodes run without a
// state directory.
type MemoryStore struct {
	state *PersistedState
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*PersistedState, bool, error) {
	if m.state == nil {
		return nil, false, nil
	}
	cp := *m.state
	return &cp, true, nil
}

func (m *MemoryStore) Save(s *PersistedState) error {
	cp := *s
	m.state = &cp
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// recordKey is the single key every node's state is stored under within
// its own bitcask directory (one directory per node, spec §6 "a single
// record containing {...}").
var recordKey = []byte("pbft-state")

// BitcaskStore wraps go.mills.io/bitcask/v2 as the on-disk backend
// (SPEC_FULL.md §4.8). Opened exclusively for the engine's lifetime
// (spec §5 "Shared resources").
type BitcaskStore struct {
	db *bitcask.Bitcask
}

// OpenBitcaskStore opens (creating if needed) the bitcask directory at dir.
func OpenBitcaskStore(dir string) (*BitcaskStore, error) {
	db, err := bitcask.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open bitcask store at %s: %w", dir, err)
	}
	return &BitcaskStore{db: db}, nil
}

func (b *BitcaskStore) Load() (*PersistedState, bool, error) {
	val, err := b.db.Get(recordKey)
	if err != nil {
		if err == bitcask.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load persisted state: %w", err)
	}
	var s PersistedState
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&s); err != nil {
		return nil, false, fmt.Errorf("decode persisted state: %w", err)
	}
	return &s, true, nil
}

func (b *BitcaskStore) Save(s *PersistedState) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encode persisted state: %w", err)
	}
	if err := b.db.Put(recordKey, buf.Bytes()); err != nil {
		return fmt.Errorf("save persisted state: %w", err)
	}
	return nil
}

func (b *BitcaskStore) Close() error {
	return b.db.Close()
}

// ToPersisted snapshots State into the persisted record shape.
func (s *State) ToPersisted() *PersistedState {
	return &PersistedState{
		ID:                     s.ID,
		View:                   s.View,
		SeqNum:                 s.SeqNum,
		Phase:                  s.Phase,
		Mode:                   s.Mode,
		WorkingBlock:           s.WorkingBlock,
		PeerIDs:                append([]PeerID(nil), s.PeerIDs...),
		F:                      s.F,
		BlockDuration:          int64(s.BlockDuration),
		MessageTimeout:         int64(s.MessageTimeout),
		ViewChangeDuration:     int64(s.ViewChangeDuration),
		ForcedViewChangePeriod: s.ForcedViewChangePeriod,
		MaxLogSize:             s.MaxLogSize,
	}
}

// RestoreState rebuilds a live State from a persisted record, recreating
// the timers/ticker the record doesn't carry. The timeouts come back
// stopped; the caller starts whichever one the restored phase needs.
func RestoreState(p *PersistedState) *State {
	s := &State{
		ID:                     p.ID,
		PeerIDs:                append([]PeerID(nil), p.PeerIDs...),
		F:                      p.F,
		View:                   p.View,
		SeqNum:                 p.SeqNum,
		Phase:                  p.Phase,
		Mode:                   p.Mode,
		WorkingBlock:           p.WorkingBlock,
		BlockDuration:          durationOf(p.BlockDuration),
		MessageTimeout:         durationOf(p.MessageTimeout),
		ViewChangeDuration:     durationOf(p.ViewChangeDuration),
		ForcedViewChangePeriod: p.ForcedViewChangePeriod,
		MaxLogSize:             p.MaxLogSize,
	}
	s.FaultyPrimaryTimeout = NewTimeout(s.MessageTimeout)
	s.CommitTimeout = NewTimeout(s.MessageTimeout)
	s.ViewChangeTimeout = NewTimeout(s.ViewChangeDuration)
	s.WorkingTicker = NewTicker(s.BlockDuration)
	return s
}
