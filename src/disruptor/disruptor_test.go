package disruptor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kmn/catapult-server/src/common"
	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/validators"
)

func testBlock(height uint64) *model.Block {
	return &model.Block{Body: model.BlockBody{Height: height}}
}

// startPipeline builds a disruptor with a pass-through stage and a commit
// consumer that records ids in commit order.
func startPipeline(t *testing.T, stages []Consumer) (*Disruptor, *[]uint64, *sync.Mutex) {
	var mu sync.Mutex
	committed := []uint64{}

	commit := Consumer{
		Name: "RecordingCommit",
		Process: func(input *ConsumerInput) ConsumerResult {
			mu.Lock()
			committed = append(committed, input.ID)
			mu.Unlock()
			return Continue()
		},
	}

	d := NewDisruptor(8, stages, commit, common.NewTestEntry(t))
	d.Start(4)
	return d, &committed, &mu
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCompletionFiresExactlyOnce(t *testing.T) {
	d, _, _ := startPipeline(t, nil)
	defer d.Shutdown()

	var calls int32
	done := make(chan struct{})

	_, err := d.SubmitBlocks([]*model.Block{testBlock(2)}, SourceLocal, func(id uint64, result CompletionResult) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(done)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	<-done
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("completion fired %d times", calls)
	}
}

func TestCommitOrderEqualsSubmissionOrder(t *testing.T) {
	// a stage that delays early inputs more than late ones, forcing
	// out-of-order arrival at the sequencer
	slowStage := Consumer{
		Name: "SlowStage",
		Process: func(input *ConsumerInput) ConsumerResult {
			if input.ID < 3 {
				time.Sleep(30 * time.Millisecond)
			}
			return Continue()
		},
	}

	d, committed, mu := startPipeline(t, []Consumer{slowStage})
	defer d.Shutdown()

	const n = 6
	for i := 0; i < n; i++ {
		if _, err := d.SubmitBlocks([]*model.Block{testBlock(uint64(i + 2))}, SourceLocal, nil); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*committed) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, id := range *committed {
		if id != uint64(i+1) {
			t.Fatalf("commit order broken: %v", *committed)
		}
	}
}

func TestFilterStageDropsInput(t *testing.T) {
	filter := Consumer{
		Name: "DropAll",
		Process: func(input *ConsumerInput) ConsumerResult {
			return AbortWith(validators.FailureChainUnlinked)
		},
	}

	d, committed, mu := startPipeline(t, []Consumer{filter})
	defer d.Shutdown()

	resultCh := make(chan CompletionResult, 1)
	if _, err := d.SubmitBlocks([]*model.Block{testBlock(2)}, SourceRemotePush, func(id uint64, result CompletionResult) {
		resultCh <- result
	}); err != nil {
		t.Fatal(err)
	}

	result := <-resultCh
	if result.Status != Aborted {
		t.Fatalf("status: got %s, want Aborted", result.Status)
	}
	if result.Code != validators.FailureChainUnlinked {
		t.Fatalf("code: got %s", result.Code)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(*committed) != 0 {
		t.Fatal("dropped input reached the commit stage")
	}
}

func TestShutdownDrainsWithAborted(t *testing.T) {
	block := Consumer{
		Name: "Blocker",
		Process: func(input *ConsumerInput) ConsumerResult {
			time.Sleep(50 * time.Millisecond)
			return Continue()
		},
	}

	d, _, _ := startPipeline(t, []Consumer{block})

	var completions int32
	const n = 6
	for i := 0; i < n; i++ {
		if _, err := d.SubmitBlocks([]*model.Block{testBlock(uint64(i + 2))}, SourceLocal, func(id uint64, result CompletionResult) {
			atomic.AddInt32(&completions, 1)
		}); err != nil {
			t.Fatal(err)
		}
	}

	d.Shutdown()

	if got := atomic.LoadInt32(&completions); got != n {
		t.Fatalf("completions after shutdown: got %d, want %d", got, n)
	}

	if _, err := d.SubmitBlocks([]*model.Block{testBlock(2)}, SourceLocal, nil); err != ErrDisruptorClosed {
		t.Fatalf("submit after shutdown: got %v, want ErrDisruptorClosed", err)
	}
}
