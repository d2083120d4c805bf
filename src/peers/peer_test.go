package peers

import (
	"testing"

	"github.com/kmn/catapult-server/src/crypto/keys"
)

func testPeer(t *testing.T, addr string) *Peer {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return NewPeer(keys.PublicKeyHex(&key.PublicKey), addr, "")
}

func TestPeerIDIsStable(t *testing.T) {
	peer := testPeer(t, "127.0.0.1:7900")

	if peer.ID() == 0 {
		t.Fatal("peer id should be derived from the public key")
	}
	if peer.ID() != peer.ID() {
		t.Fatal("peer id should be stable")
	}
}

func TestPeerPubKeyRoundTrip(t *testing.T) {
	peer := testPeer(t, "127.0.0.1:7900")

	raw, err := peer.PubKeyBytes()
	if err != nil {
		t.Fatal(err)
	}
	if keys.ToPublicKey(raw) == nil {
		t.Fatal("public key did not round trip")
	}
}

func TestPeerSetSampleExcludesSelf(t *testing.T) {
	a := testPeer(t, "a")
	b := testPeer(t, "b")
	c := testPeer(t, "c")
	set := NewPeerSet([]*Peer{a, b, c})

	sample := set.Sample(10, b.ID())
	if len(sample) != 2 {
		t.Fatalf("sample size: got %d, want 2", len(sample))
	}
	for _, p := range sample {
		if p.ID() == b.ID() {
			t.Fatal("sample contains the excluded peer")
		}
	}
}

func TestPeerSetAddAndRemove(t *testing.T) {
	a := testPeer(t, "a")
	set := NewPeerSet([]*Peer{a})

	b := testPeer(t, "b")
	set.WithNewPeer(b)
	if set.Len() != 2 {
		t.Fatalf("len: got %d, want 2", set.Len())
	}

	// adding the same peer again is a no-op
	set.WithNewPeer(b)
	if set.Len() != 2 {
		t.Fatal("duplicate add changed the set")
	}

	set.RemovePeer(a)
	if set.Len() != 1 {
		t.Fatalf("len after remove: got %d, want 1", set.Len())
	}
	if _, ok := set.ByID[a.ID()]; ok {
		t.Fatal("removed peer still indexed")
	}
}
