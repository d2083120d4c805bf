package model

import (
	"bytes"
	"encoding/hex"
)

// HashSize is the size, in bytes, of entity and generation hashes.
const HashSize = 32

// Hash is a 32-byte entity, generation or merkle hash.
type Hash [HashSize]byte

// ZeroHash is the all-zero hash. It is the previous-hash of the nemesis block
// and the state hash when verifiable state is disabled.
var ZeroHash = Hash{}

// HashFromBytes copies b into a Hash. Short input is zero padded, long input
// is truncated.
func HashFromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

// HashFromHex parses a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Hex returns the lowercase hex representation of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns true if the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Less compares two hashes byte-wise. It is the tie-breaker of chain
// selection: when scores are equal, the chain with the lower tip hash wins.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}
