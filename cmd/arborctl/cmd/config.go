package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpYAML(cmd, viper.AllSettings())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
