package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// boot key.
	DefaultKeyfile = "boot_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database.
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the default name of the node log file.
	DefaultLogFile = "catapult.log"
)

// Default configuration values.
const (
	DefaultLogLevel            = "debug"
	DefaultBindAddr            = "127.0.0.1:7900"
	DefaultServiceAddr         = "127.0.0.1:7901"
	DefaultMaxPool             = 2
	DefaultTCPTimeout          = 1000 * time.Millisecond
	DefaultStore               = false
	DefaultImportanceGrouping  = uint64(7)
	DefaultMaxRollbackBlocks   = uint64(4)
	DefaultBlockTimeInterval   = uint64(15)
	DefaultMaxTransactions     = 200
	DefaultMempoolSize         = 10000
	DefaultRingSize            = 64
	DefaultPipelineWorkers     = 4
	DefaultSyncBatchSize       = uint32(64)
	DefaultMaxHashesPerRequest = uint32(32)
	DefaultNumPeersToSample    = 5
	DefaultMaxConnections      = 10
	DefaultBlacklistInterval   = 30 * time.Second
	DefaultHarvestStartDelay   = 2 * time.Second
	DefaultHarvestRepeatDelay  = 1 * time.Second
	DefaultSyncStartDelay      = 3 * time.Second
	DefaultSyncRepeatDelay     = 3 * time.Second
	DefaultConnectStartDelay   = 1 * time.Second
	DefaultConnectRepeatDelay  = 30 * time.Second
	DefaultNemesisBalance      = uint64(1000000)
)

// Config contains all the configuration properties of a node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogToFile mirrors log output into DataDir/catapult.log.
	LogToFile bool `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node talks to other
	// nodes.
	BindAddr string `mapstructure:"listen"`

	// ServiceAddr is the address:port of the HTTP info service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP info service.
	NoService bool `mapstructure:"no-service"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of network RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// ImportanceGrouping is the interval, in blocks, at which validator
	// stake weights are recomputed.
	ImportanceGrouping uint64 `mapstructure:"importance-grouping"`

	// MaxRollbackBlocks caps the depth of a chain switch. It must satisfy
	// MaxRollbackBlocks < 2 * ImportanceGrouping.
	MaxRollbackBlocks uint64 `mapstructure:"max-rollback-blocks"`

	// MaxDifficultyBlocks feeds the difficulty calculation and must equal
	// MaxRollbackBlocks - 1.
	MaxDifficultyBlocks uint64 `mapstructure:"max-difficulty-blocks"`

	// BlockTimeInterval is the target block time in seconds.
	BlockTimeInterval uint64 `mapstructure:"block-time"`

	// MaxTransactionsPerBlock bounds harvested block size.
	MaxTransactionsPerBlock int `mapstructure:"max-txs-per-block"`

	// MempoolSize bounds the unconfirmed-transactions cache.
	MempoolSize int `mapstructure:"mempool-size"`

	// RingSize is the capacity of the pipeline ring.
	RingSize int `mapstructure:"ring-size"`

	// PipelineWorkers is the number of pre-commit pipeline workers.
	PipelineWorkers int `mapstructure:"pipeline-workers"`

	// SyncBatchSize caps one block-pull chunk.
	SyncBatchSize uint32 `mapstructure:"sync-batch-size"`

	// MaxHashesPerRequest caps one hash window during ancestor negotiation.
	MaxHashesPerRequest uint32 `mapstructure:"max-hashes-per-request"`

	// NumPeersToSample is how many peers a sync round probes.
	NumPeersToSample int `mapstructure:"peers-to-sample"`

	// MaxConnections bounds outgoing connections.
	MaxConnections int `mapstructure:"max-connections"`

	// BlacklistInterval is the cool-off for misbehaving peers.
	BlacklistInterval time.Duration `mapstructure:"blacklist-interval"`

	// HarvestStartDelay and HarvestRepeatDelay drive the harvesting task.
	HarvestStartDelay  time.Duration `mapstructure:"harvest-start-delay"`
	HarvestRepeatDelay time.Duration `mapstructure:"harvest-repeat-delay"`

	// SyncStartDelay and SyncRepeatDelay drive the synchronizer task.
	SyncStartDelay  time.Duration `mapstructure:"sync-start-delay"`
	SyncRepeatDelay time.Duration `mapstructure:"sync-repeat-delay"`

	// ConnectStartDelay and ConnectRepeatDelay drive the peer probe task.
	ConnectStartDelay  time.Duration `mapstructure:"connect-start-delay"`
	ConnectRepeatDelay time.Duration `mapstructure:"connect-repeat-delay"`

	// EnableVerifiableState turns on state hashing.
	EnableVerifiableState bool `mapstructure:"verifiable-state"`

	// VerifyHits enables harvester-eligibility verification of remote
	// blocks.
	VerifyHits bool `mapstructure:"verify-hits"`

	// NemesisBalance is the currency amount granted to every nemesis
	// account.
	NemesisBalance uint64 `mapstructure:"nemesis-balance"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:                 DefaultDataDir(),
		LogLevel:                DefaultLogLevel,
		BindAddr:                DefaultBindAddr,
		ServiceAddr:             DefaultServiceAddr,
		MaxPool:                 DefaultMaxPool,
		TCPTimeout:              DefaultTCPTimeout,
		Store:                   DefaultStore,
		DatabaseDir:             DefaultDatabaseDir(),
		ImportanceGrouping:      DefaultImportanceGrouping,
		MaxRollbackBlocks:       DefaultMaxRollbackBlocks,
		MaxDifficultyBlocks:     DefaultMaxRollbackBlocks - 1,
		BlockTimeInterval:       DefaultBlockTimeInterval,
		MaxTransactionsPerBlock: DefaultMaxTransactions,
		MempoolSize:             DefaultMempoolSize,
		RingSize:                DefaultRingSize,
		PipelineWorkers:         DefaultPipelineWorkers,
		SyncBatchSize:           DefaultSyncBatchSize,
		MaxHashesPerRequest:     DefaultMaxHashesPerRequest,
		NumPeersToSample:        DefaultNumPeersToSample,
		MaxConnections:          DefaultMaxConnections,
		BlacklistInterval:       DefaultBlacklistInterval,
		HarvestStartDelay:       DefaultHarvestStartDelay,
		HarvestRepeatDelay:      DefaultHarvestRepeatDelay,
		SyncStartDelay:          DefaultSyncStartDelay,
		SyncRepeatDelay:         DefaultSyncRepeatDelay,
		ConnectStartDelay:       DefaultConnectStartDelay,
		ConnectRepeatDelay:      DefaultConnectRepeatDelay,
		VerifyHits:              true,
		NemesisBalance:          DefaultNemesisBalance,
	}
}

// Validate checks the invariants between consensus knobs.
func (c *Config) Validate() error {
	if c.MaxDifficultyBlocks != c.MaxRollbackBlocks-1 {
		return fmt.Errorf("max-difficulty-blocks must equal max-rollback-blocks - 1, got %d and %d",
			c.MaxDifficultyBlocks, c.MaxRollbackBlocks)
	}
	if c.MaxRollbackBlocks >= 2*c.ImportanceGrouping {
		return fmt.Errorf("max-rollback-blocks (%d) must be smaller than twice the importance grouping (%d)",
			c.MaxRollbackBlocks, c.ImportanceGrouping)
	}
	return nil
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not the default, the user has explicitly set it to something
// else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the boot key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry with the prefix set to "catapult".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogToFile {
			path := filepath.Join(c.DataDir, DefaultLogFile)
			c.logger.Hooks.Add(lfshook.NewHook(lfshook.PathMap{
				logrus.DebugLevel: path,
				logrus.InfoLevel:  path,
				logrus.WarnLevel:  path,
				logrus.ErrorLevel: path,
				logrus.FatalLevel: path,
			}, c.logger.Formatter))
		}
	}
	return c.logger.WithField("prefix", "catapult")
}

// RawLogger returns the underlying logrus Logger.
func (c *Config) RawLogger() *logrus.Logger {
	c.Logger()
	return c.logger
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Catapult")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Catapult")
		} else {
			return filepath.Join(home, ".catapult")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
