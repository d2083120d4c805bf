package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kmn/catapult-server/src/common"
)

// Config holds the node-level tuning knobs. The application config package
// builds one of these from the resources directory.
type Config struct {
	// HarvestStartDelay and HarvestRepeatDelay drive the harvesting task.
	HarvestStartDelay  time.Duration
	HarvestRepeatDelay time.Duration

	// SyncStartDelay and SyncRepeatDelay drive the synchronizer task.
	SyncStartDelay  time.Duration
	SyncRepeatDelay time.Duration

	// ConnectStartDelay and ConnectRepeatDelay drive the peer-connection
	// probe task.
	ConnectStartDelay  time.Duration
	ConnectRepeatDelay time.Duration

	// ImportanceGrouping is the interval, in blocks, at which account
	// importances are recomputed.
	ImportanceGrouping uint64

	// MaxRollbackBlocks caps how deep a chain switch may rewind. It must be
	// smaller than twice the importance grouping.
	MaxRollbackBlocks uint64

	// MaxDifficultyBlocks is the number of recent blocks feeding the
	// difficulty calculation; it must equal MaxRollbackBlocks-1.
	MaxDifficultyBlocks uint64

	// BlockTimeInterval is the target block time in seconds.
	BlockTimeInterval uint64

	// MaxTransactionsPerBlock bounds harvested block size.
	MaxTransactionsPerBlock int

	// MempoolSize bounds the unconfirmed-transactions cache.
	MempoolSize int

	// RingSize is the capacity of the disruptor ring.
	RingSize int

	// PipelineWorkers is the number of pre-commit stage workers.
	PipelineWorkers int

	// SyncBatchSize caps one block-pull chunk.
	SyncBatchSize uint32

	// MaxHashesPerRequest caps one ancestor-negotiation hash window.
	MaxHashesPerRequest uint32

	// NumPeersToSample is how many peers one sync round probes.
	NumPeersToSample int

	// BlacklistInterval is the cool-off for misbehaving peers.
	BlacklistInterval time.Duration

	// VerifiableState enables state hashing.
	VerifiableState bool

	// VerifyHits enables harvester-eligibility verification of remote
	// blocks.
	VerifyHits bool

	// NemesisBalance is the currency amount granted to every nemesis
	// account.
	NemesisBalance uint64

	// Logger is the node logger.
	Logger *logrus.Logger
}

// NewConfig returns a config with sane defaults for the given cadences.
func NewConfig(
	harvestDelay time.Duration,
	syncDelay time.Duration,
	logger *logrus.Logger,
) *Config {
	return &Config{
		HarvestStartDelay:       harvestDelay,
		HarvestRepeatDelay:      harvestDelay,
		SyncStartDelay:          syncDelay,
		SyncRepeatDelay:         syncDelay,
		ConnectStartDelay:       time.Second,
		ConnectRepeatDelay:      30 * time.Second,
		ImportanceGrouping:      7,
		MaxRollbackBlocks:       4,
		MaxDifficultyBlocks:     3,
		BlockTimeInterval:       15,
		MaxTransactionsPerBlock: 200,
		MempoolSize:             10000,
		RingSize:                64,
		PipelineWorkers:         4,
		SyncBatchSize:           64,
		MaxHashesPerRequest:     32,
		NumPeersToSample:        5,
		BlacklistInterval:       30 * time.Second,
		NemesisBalance:          1000000,
		Logger:                  logger,
	}
}

// NewTestConfig returns a config with short cadences and a special logger
// for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewConfig(20*time.Millisecond, 30*time.Millisecond, common.NewTestLogger(t))
	return config
}
