package disruptor

import (
	"errors"

	"github.com/kmn/catapult-server/src/model"
	"github.com/kmn/catapult-server/src/validators"
)

// InputSource identifies where a consumer input came from. Completion
// reporting and some filters vary by source.
type InputSource int

const (
	// SourceUnknown is the zero source.
	SourceUnknown InputSource = iota
	// SourceLocal marks inputs produced by this node, eg. harvested blocks.
	SourceLocal
	// SourceRemotePull marks inputs this node requested from a peer.
	SourceRemotePull
	// SourceRemotePush marks inputs a peer pushed unrequested.
	SourceRemotePush
	// SourceReverted marks inputs re-entering after a chain switch.
	SourceReverted
)

// String implements fmt.Stringer.
func (s InputSource) String() string {
	switch s {
	case SourceLocal:
		return "Local"
	case SourceRemotePull:
		return "Remote_Pull"
	case SourceRemotePush:
		return "Remote_Push"
	case SourceReverted:
		return "Reverted"
	}
	return "Unknown"
}

// CompletionStatus is the terminal state of a consumer input.
type CompletionStatus int

const (
	// Consumed means the input passed all stages and was committed.
	Consumed CompletionStatus = iota
	// Aborted means a stage dropped the input; Code and Err identify why.
	Aborted
)

// String implements fmt.Stringer.
func (s CompletionStatus) String() string {
	if s == Consumed {
		return "Consumed"
	}
	return "Aborted"
}

// ErrShutdown reports inputs drained during graceful shutdown.
var ErrShutdown = errors.New("disruptor: shutting down")

// CompletionResult carries the terminal outcome of an input.
type CompletionResult struct {
	Status CompletionStatus
	Code   validators.Result
	Err    error
}

// ProcessingCompleteFunc is invoked exactly once per submitted input with its
// terminal outcome.
type ProcessingCompleteFunc func(id uint64, result CompletionResult)

// ConsumerInput is one unit of pipeline work: a block range or a transaction
// range plus its source and completion callback.
type ConsumerInput struct {
	ID     uint64
	Source InputSource

	Blocks   []*model.Block
	Elements []*model.BlockElement

	Transactions []*model.Transaction
	Infos        []*model.TransactionInfo

	completion ProcessingCompleteFunc
}

// IsBlockRange reports whether the input carries blocks.
func (i *ConsumerInput) IsBlockRange() bool {
	return len(i.Blocks) > 0
}

// ConsumerResult is a stage outcome: continue, or abort with a code.
type ConsumerResult struct {
	Abort bool
	Code  validators.Result
	Err   error
}

// Continue lets the input proceed to the next stage.
func Continue() ConsumerResult {
	return ConsumerResult{}
}

// AbortWith drops the input with a validation code.
func AbortWith(code validators.Result) ConsumerResult {
	return ConsumerResult{Abort: true, Code: code}
}

// AbortWithError drops the input with an error.
func AbortWithError(code validators.Result, err error) ConsumerResult {
	return ConsumerResult{Abort: true, Code: code, Err: err}
}

// Consumer is one pipeline stage. Stages run in fixed order per input;
// different inputs may occupy different stages concurrently.
type Consumer struct {
	Name    string
	Process func(input *ConsumerInput) ConsumerResult
}
