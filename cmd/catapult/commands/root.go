package commands

import (
	"github.com/spf13/cobra"

	"github.com/kmn/catapult-server/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for the catapult server
var RootCmd = &cobra.Command{
	Use:              "catapult",
	Short:            "catapult full node",
	TraverseChildren: true,
}
