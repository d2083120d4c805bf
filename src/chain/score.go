package chain

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/kmn/catapult-server/src/model"
)

// Score is a 128-bit unsigned chain score. Consensus never touches floating
// point; all score arithmetic is integer with explicit saturation.
type Score struct {
	High uint64
	Low  uint64
}

// ZeroScore is the score of an empty chain.
var ZeroScore = Score{}

// NewScore builds a score from its 128-bit halves.
func NewScore(high, low uint64) Score {
	return Score{High: high, Low: low}
}

// Add returns s + other with wrap-around carry into the high half.
func (s Score) Add(other Score) Score {
	low, carry := bits.Add64(s.Low, other.Low, 0)
	high, _ := bits.Add64(s.High, other.High, carry)
	return Score{High: high, Low: low}
}

// Sub returns s - other, saturating at zero when other exceeds s.
func (s Score) Sub(other Score) Score {
	if s.Cmp(other) < 0 {
		return ZeroScore
	}
	low, borrow := bits.Sub64(s.Low, other.Low, 0)
	high, _ := bits.Sub64(s.High, other.High, borrow)
	return Score{High: high, Low: low}
}

// Cmp compares two scores; it returns -1, 0 or +1.
func (s Score) Cmp(other Score) int {
	switch {
	case s.High < other.High:
		return -1
	case s.High > other.High:
		return 1
	case s.Low < other.Low:
		return -1
	case s.Low > other.Low:
		return 1
	}
	return 0
}

// IsZero returns true for the zero score.
func (s Score) IsZero() bool {
	return s.High == 0 && s.Low == 0
}

// String implements fmt.Stringer.
func (s Score) String() string {
	return fmt.Sprintf("{%d %d}", s.High, s.Low)
}

// BlockScore computes the score contribution of child given its parent:
//
//	(2^64 - 1) - child.Difficulty * (child.Timestamp - parent.Timestamp)
//
// The product is taken in 128-bit arithmetic and the subtraction saturates at
// zero, so a slow or weak block can never produce a negative contribution.
func BlockScore(parent, child *model.Block) Score {
	timeDiff := child.Body.Timestamp - parent.Body.Timestamp

	hi, lo := bits.Mul64(child.Body.Difficulty, timeDiff)
	if hi > 0 || lo >= math.MaxUint64 {
		return ZeroScore
	}

	return Score{Low: math.MaxUint64 - lo}
}

// CompareChains applies the chain-selection rule to two tips: higher score
// wins; on equal scores the lower tip hash wins. It returns a positive value
// when (scoreA, tipA) beats (scoreB, tipB), negative for the converse, and
// zero only when both score and tip hash are identical.
func CompareChains(scoreA Score, tipA model.Hash, scoreB Score, tipB model.Hash) int {
	if c := scoreA.Cmp(scoreB); c != 0 {
		return c
	}
	if tipA == tipB {
		return 0
	}
	if tipA.Less(tipB) {
		return 1
	}
	return -1
}
