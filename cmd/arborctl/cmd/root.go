// Package cmd implements the arborctl operator commands
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/dlogger"
)

var rootCmd = &cobra.Command{
	Use:   "arborctl",
	Short: "Operate the arbor virtual filesystem object caches",
	Long: `arborctl inspects and maintains the state arbor keeps on this machine:
the local key/value store backing object fetches, and the identifier
formats used by the daemon.

It never talks to the remote object store.`,
}

var (
	logLevel string
	storeDir string
	logger   *zap.Logger
)

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", dlogger.LogLevelInfo, "log level (debug, info, warn, none)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "directory of the local key/value store")
	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
	_ = viper.BindPFlag("store.dir", rootCmd.PersistentFlags().Lookup("store-dir"))
}

func initConfig() {
	viper.SetDefault("store.dir", defaultStoreDir())
	viper.SetDefault("store.indexCacheSize", "200MB")
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("loglevel", dlogger.LogLevelInfo)

	if cfgFile := os.Getenv("ARBOR_CONFIG"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.arbor")
		viper.AddConfigPath("/etc/arbor")
		viper.SetConfigName("arbor")
	}
	viper.SetEnvPrefix("arbor")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	logger = dlogger.MustGetLogger(viper.GetString("loglevel"), dlogger.WithConsole())
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arbor/store"
	}
	return home + "/.arbor/store"
}
