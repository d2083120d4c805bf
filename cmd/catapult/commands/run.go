package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kmn/catapult-server/src/catapult"
)

//NewRunCmd returns the command that starts a node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runCatapult,
	}
	AddRunFlags(cmd)
	return cmd
}

func runCatapult(cmd *cobra.Command, args []string) error {
	engine := catapult.NewCatapult(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", _config.LogToFile, "Mirror log output into datadir/catapult.log")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().Int("max-connections", _config.MaxConnections, "Max outgoing connections")

	// Service
	cmd.Flags().String("service-listen", _config.ServiceAddr, "Listen IP:Port for the HTTP API service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP API service")

	// Storage
	cmd.Flags().Bool("store", _config.Store, "Use badger store")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Consensus
	cmd.Flags().Uint64("importance-grouping", _config.ImportanceGrouping, "Importance recomputation interval in blocks")
	cmd.Flags().Uint64("max-rollback-blocks", _config.MaxRollbackBlocks, "Max depth of a chain switch")
	cmd.Flags().Uint64("max-difficulty-blocks", _config.MaxDifficultyBlocks, "Blocks feeding the difficulty calculation")
	cmd.Flags().Uint64("block-time", _config.BlockTimeInterval, "Target block time in seconds")
	cmd.Flags().Bool("verifiable-state", _config.EnableVerifiableState, "Enable state hashing")
	cmd.Flags().Bool("verify-hits", _config.VerifyHits, "Verify harvester eligibility of remote blocks")

	// Pipeline
	cmd.Flags().Int("ring-size", _config.RingSize, "Capacity of the pipeline ring")
	cmd.Flags().Int("pipeline-workers", _config.PipelineWorkers, "Pre-commit pipeline workers")
	cmd.Flags().Int("max-txs-per-block", _config.MaxTransactionsPerBlock, "Max transactions per harvested block")
	cmd.Flags().Int("mempool-size", _config.MempoolSize, "Unconfirmed transactions cache size")

	// Synchronizer
	cmd.Flags().Uint32("sync-batch-size", _config.SyncBatchSize, "Max blocks per pull chunk")
	cmd.Flags().Uint32("max-hashes-per-request", _config.MaxHashesPerRequest, "Max hashes per ancestor negotiation window")
	cmd.Flags().Int("peers-to-sample", _config.NumPeersToSample, "Peers probed per sync round")
	cmd.Flags().Duration("blacklist-interval", _config.BlacklistInterval, "Cool-off for misbehaving peers")

	// Tasks
	cmd.Flags().Duration("harvest-start-delay", _config.HarvestStartDelay, "Harvest task start delay")
	cmd.Flags().Duration("harvest-repeat-delay", _config.HarvestRepeatDelay, "Harvest task repeat delay")
	cmd.Flags().Duration("sync-start-delay", _config.SyncStartDelay, "Synchronizer task start delay")
	cmd.Flags().Duration("sync-repeat-delay", _config.SyncRepeatDelay, "Synchronizer task repeat delay")
	cmd.Flags().Duration("connect-start-delay", _config.ConnectStartDelay, "Peer probe task start delay")
	cmd.Flags().Duration("connect-repeat-delay", _config.ConnectRepeatDelay, "Peer probe task repeat delay")
}

//loadConfig reads the flags and the optional catapult config file in datadir
//into _config. A flag set on the command line takes precedence over the
//file, which takes precedence over flag defaults. The environment is not
//read.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	viper.SetConfigName("catapult")
	viper.AddConfigPath(viper.GetString("datadir"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	_config.SetDataDir(viper.GetString("datadir"))

	return _config.Validate()
}
