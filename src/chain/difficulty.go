package chain

import (
	"github.com/kmn/catapult-server/src/model"
)

// Difficulty bounds. Every block difficulty stays inside this band no matter
// how skewed the observed block times are.
const (
	MinDifficulty     = uint64(1000)
	MaxDifficulty     = uint64(1000 * 1000 * 1000)
	NemesisDifficulty = uint64(100 * 1000)
)

// CalculateDifficulty derives the difficulty of the next block from the
// timestamps and difficulties of the most recent blocks, oldest first. At
// most MaxDifficultyBlocks entries are expected. The adjustment nudges the
// average difficulty so that observed block time converges towards
// blockTimeInterval: each call moves at most 5% in either direction.
func CalculateDifficulty(blocks []*model.Block, blockTimeInterval uint64) uint64 {
	if len(blocks) < 2 {
		return NemesisDifficulty
	}

	first := blocks[0]
	last := blocks[len(blocks)-1]

	timeSpan := last.Body.Timestamp - first.Body.Timestamp
	if timeSpan == 0 {
		timeSpan = 1
	}

	var difficultySum uint64
	for _, block := range blocks {
		difficultySum += block.Body.Difficulty
	}
	averageDifficulty := difficultySum / uint64(len(blocks))

	averageTime := timeSpan / uint64(len(blocks)-1)

	// scale by target/actual, clamped to [95%, 105%] per step
	adjusted := mulDiv(averageDifficulty, blockTimeInterval, averageTime)

	lowBound := averageDifficulty - averageDifficulty/20
	highBound := averageDifficulty + averageDifficulty/20
	if adjusted < lowBound {
		adjusted = lowBound
	}
	if adjusted > highBound {
		adjusted = highBound
	}

	if adjusted < MinDifficulty {
		adjusted = MinDifficulty
	}
	if adjusted > MaxDifficulty {
		adjusted = MaxDifficulty
	}

	return adjusted
}

// mulDiv computes a*b/c without overflowing for the difficulty ranges in use.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return a
	}
	quotient := a / c
	remainder := a % c
	return quotient*b + remainder*b/c
}
