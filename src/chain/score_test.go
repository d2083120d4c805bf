package chain

import (
	"math"
	"testing"

	"github.com/kmn/catapult-server/src/model"
)

func makeBlock(height, timestamp, difficulty uint64) *model.Block {
	return &model.Block{
		Body: model.BlockBody{
			Height:     height,
			Timestamp:  timestamp,
			Difficulty: difficulty,
		},
	}
}

func TestBlockScoreBasic(t *testing.T) {
	parent := makeBlock(1, 100, 0)
	child := makeBlock(2, 110, 1000)

	got := BlockScore(parent, child)
	want := Score{Low: math.MaxUint64 - 10*1000}
	if got != want {
		t.Fatalf("score: got %v, want %v", got, want)
	}
}

func TestBlockScoreSaturatesAtZero(t *testing.T) {
	parent := makeBlock(1, 0, 0)
	child := makeBlock(2, math.MaxUint64/1000, 2000)

	if got := BlockScore(parent, child); !got.IsZero() {
		t.Fatalf("score should saturate at zero, got %v", got)
	}
}

func TestFasterBlocksScoreHigher(t *testing.T) {
	parent := makeBlock(1, 100, 0)
	fast := makeBlock(2, 105, 1000)
	slow := makeBlock(2, 150, 1000)

	if BlockScore(parent, fast).Cmp(BlockScore(parent, slow)) <= 0 {
		t.Fatal("a faster block should score higher")
	}
}

func TestScoreAddSubRoundTrip(t *testing.T) {
	a := NewScore(0, math.MaxUint64)
	b := NewScore(0, 1)

	sum := a.Add(b)
	if sum.High != 1 || sum.Low != 0 {
		t.Fatalf("carry lost: %v", sum)
	}

	if back := sum.Sub(b); back != a {
		t.Fatalf("sub round trip: got %v, want %v", back, a)
	}
}

func TestScoreSubSaturates(t *testing.T) {
	a := NewScore(0, 1)
	b := NewScore(0, 2)

	if got := a.Sub(b); !got.IsZero() {
		t.Fatalf("sub should saturate at zero, got %v", got)
	}
}

func TestScoreCmpIsTotal(t *testing.T) {
	cases := []struct {
		a, b Score
		want int
	}{
		{NewScore(0, 1), NewScore(0, 2), -1},
		{NewScore(1, 0), NewScore(0, math.MaxUint64), 1},
		{NewScore(3, 7), NewScore(3, 7), 0},
	}

	for _, c := range cases {
		if got := c.a.Cmp(c.b); got != c.want {
			t.Fatalf("%v cmp %v: got %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareChainsHigherScoreWins(t *testing.T) {
	tipA := model.HashFromBytes([]byte{9})
	tipB := model.HashFromBytes([]byte{1})

	if CompareChains(NewScore(0, 2), tipA, NewScore(0, 1), tipB) <= 0 {
		t.Fatal("higher score should win regardless of tip hash")
	}
}

func TestCompareChainsTieBreaksOnLowerTipHash(t *testing.T) {
	score := NewScore(0, 5)
	low := model.HashFromBytes([]byte{1})
	high := model.HashFromBytes([]byte{2})

	if CompareChains(score, low, score, high) <= 0 {
		t.Fatal("lower tip hash should win on equal scores")
	}
	if CompareChains(score, high, score, low) >= 0 {
		t.Fatal("higher tip hash should lose on equal scores")
	}
	if CompareChains(score, low, score, low) != 0 {
		t.Fatal("identical chains should compare equal")
	}
}
