package peers

import (
	"sort"
	"sync"
)

// PeerSet is the set of peers the node synchronizes with.
type PeerSet struct {
	sync.RWMutex

	Peers    []*Peer
	ByID     map[uint32]*Peer
	ByPubKey map[string]*Peer
}

// NewPeerSet creates a PeerSet from a list of peers.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByID:     make(map[uint32]*Peer),
		ByPubKey: make(map[string]*Peer),
	}

	for _, peer := range peers {
		peerSet.add(peer)
	}
	peerSet.sort()

	return peerSet
}

func (s *PeerSet) add(peer *Peer) {
	if _, ok := s.ByID[peer.ID()]; ok {
		return
	}
	s.Peers = append(s.Peers, peer)
	s.ByID[peer.ID()] = peer
	s.ByPubKey[peer.PubKeyHex] = peer
}

func (s *PeerSet) sort() {
	sort.Slice(s.Peers, func(i, j int) bool {
		return s.Peers[i].ID() < s.Peers[j].ID()
	})
}

// WithNewPeer adds a peer to the set.
func (s *PeerSet) WithNewPeer(peer *Peer) {
	s.Lock()
	defer s.Unlock()

	s.add(peer)
	s.sort()
}

// RemovePeer removes a peer from the set.
func (s *PeerSet) RemovePeer(peer *Peer) {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.ByID[peer.ID()]; !ok {
		return
	}

	delete(s.ByID, peer.ID())
	delete(s.ByPubKey, peer.PubKeyHex)

	peers := s.Peers[:0]
	for _, p := range s.Peers {
		if p.ID() != peer.ID() {
			peers = append(peers, p)
		}
	}
	s.Peers = peers
}

// Sample returns up to n peers, excluding the peer with the given id. The
// set keeps a deterministic order, so sampling is round-robin friendly.
func (s *PeerSet) Sample(n int, excludeID uint32) []*Peer {
	s.RLock()
	defer s.RUnlock()

	sampled := make([]*Peer, 0, n)
	for _, peer := range s.Peers {
		if peer.ID() == excludeID {
			continue
		}
		sampled = append(sampled, peer)
		if len(sampled) == n {
			break
		}
	}
	return sampled
}

// Len returns the number of peers in the set.
func (s *PeerSet) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.Peers)
}
