package chain

import (
	"encoding/binary"
	"math/bits"

	"github.com/kmn/catapult-server/src/crypto"
	"github.com/kmn/catapult-server/src/model"
)

// targetScale calibrates the target growth rate so that typical importances
// and difficulties produce block times near the configured interval.
const targetScale = uint64(1 << 24)

// CalculateHit derives a deterministic 32-bit hit value for a signer from the
// parent generation hash. Lower is better. The hit is fixed per
// (parent, signer) pair while the target grows with elapsed time, so each
// eligible signer has a deterministic moment at which it may forge.
func CalculateHit(parentGenerationHash model.Hash, signer []byte) uint64 {
	digest := crypto.SimpleHashFromTwoHashes(parentGenerationHash[:], signer)
	return uint64(binary.LittleEndian.Uint32(digest[:4]))
}

// CalculateTarget computes the eligibility target for a harvesting round. A
// signer is eligible when its hit is strictly below the target. The target
// grows with elapsed time and the signer's importance and shrinks with
// difficulty, so well-funded accounts harvest sooner and a high difficulty
// slows everyone down.
func CalculateTarget(elapsedSeconds uint64, importance uint64, difficulty uint64) uint64 {
	if difficulty == 0 {
		difficulty = MinDifficulty
	}

	hi, lo := bits.Mul64(elapsedSeconds*targetScale, importance)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo / difficulty
}

// IsHit reports whether a signer with the given importance is eligible to
// harvest on top of the parent at the given elapsed time and difficulty.
func IsHit(parentGenerationHash model.Hash, signer []byte, elapsedSeconds, importance, difficulty uint64) bool {
	hit := CalculateHit(parentGenerationHash, signer)
	target := CalculateTarget(elapsedSeconds, importance, difficulty)
	return hit < target
}
