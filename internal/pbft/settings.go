package pbft

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SettingPeers is the on-chain settings key carrying the current
// membership as a JSON array of hex-encoded peer IDs (spec §6 "On-chain
// settings consumed").
const SettingPeers = "sawtooth.consensus.pbft.peers"

// readPeersSetting fetches and decodes SettingPeers at blockID (spec §4.6
// "read peers from the validator's on-chain settings at the newly
// committed block").
func (n *Node) readPeersSetting(ctx context.Context, blockID BlockID) ([]PeerID, error) {
	settings, err := n.Validator.GetSettings(ctx, blockID, []string{SettingPeers})
	if err != nil {
		return nil, fmt.Errorf("get_settings: %w", err)
	}
	raw, ok := settings[SettingPeers]
	if !ok || raw == "" {
		return n.State.PeerIDs, nil
	}

	var hexIDs []string
	if err := json.Unmarshal([]byte(raw), &hexIDs); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrSerialization, SettingPeers, err)
	}

	peers := make([]PeerID, 0, len(hexIDs))
	for _, h := range hexIDs {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: decode peer id %q: %v", ErrSerialization, h, err)
		}
		peers = append(peers, PeerID(b))
	}
	return peers, nil
}
