package pbft

// UpdateMembership reads the peers setting from newPeers (sourced by the
// caller from the validator's on-chain settings at the newly committed
// block, spec §4.6) and, if it differs from the current membership,
// replaces it and recomputes f. Returns changed=true when membership
// actually changed, so the caller can bump view (spec §4.2
// "on_block_commit"). Returns a *FatalError if the new membership would
// make f == 0 (spec §4.6 "the network has fallen below BFT size, which is
// fatal").
func (s *State) UpdateMembership(newPeers []PeerID) (changed bool, err error) {
	if samePeerSet(s.PeerIDs, newPeers) {
		return false, nil
	}
	f := quorumF(len(newPeers))
	if f == 0 {
		return false, fatalf("membership update would drop below BFT size (f=0)", nil)
	}
	s.PeerIDs = append([]PeerID(nil), newPeers...)
	s.F = f
	return true, nil
}

// samePeerSet reports whether a and b contain the same peers, ignoring
// order (membership is a set, spec §3 "peer_ids: ordered list" is ordered
// for primary rotation but comparison here is set equality).
func samePeerSet(a, b []PeerID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[PeerID]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}
