package peers

import (
	"github.com/kmn/catapult-server/src/common"
	"github.com/kmn/catapult-server/src/crypto/keys"
)

// Peer is a remote node the synchronizer can pull chains from.
type Peer struct {
	NetAddr   string `json:"NetAddr"`
	PubKeyHex string `json:"PubKeyHex"`
	Moniker   string `json:"Moniker,omitempty"`

	id uint32
}

// NewPeer creates a peer from its public key and network address.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		NetAddr:   netAddr,
		PubKeyHex: pubKeyHex,
		Moniker:   moniker,
	}
}

// ID returns a 32-bit identifier derived from the peer's public key.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		pubBytes, err := p.PubKeyBytes()
		if err != nil {
			return 0
		}
		p.id = keys.PublicKeyID(pubBytes)
	}
	return p.id
}

// PubKeyBytes returns the decoded public key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}
