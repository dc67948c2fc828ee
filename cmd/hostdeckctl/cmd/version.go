package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/hostdeck/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build time of hostdeckctl.`,
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput() {
			printJSON(config.GetBuildInfo())
			return
		}
		fmt.Println(config.VersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
