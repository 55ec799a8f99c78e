package cmd

import (
	"encoding/hex"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/store"
	"github.com/arborfs/arbor/pkg/store/badgerdb"
	"github.com/arborfs/arbor/pkg/store/instrumented"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Maintain the local key/value store",
}

func openLocalStore() (store.Store, error) {
	cacheSize, err := units.RAMInBytes(viper.GetString("store.indexCacheSize"))
	if err != nil {
		return nil, fmt.Errorf("store.indexCacheSize: %w", err)
	}
	s := badgerdb.New(viper.GetString("store.dir"),
		badgerdb.WithLogger(logger),
		badgerdb.WithIndexCacheSize(cacheSize),
	)
	if viper.GetBool("metrics.enabled") {
		s = instrumented.New("store", s)
	}
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}

func keySpaceByName(name string) (store.KeySpace, error) {
	for _, ks := range store.KeySpaces() {
		if ks.Name() == name {
			return ks, nil
		}
	}
	return 0, fmt.Errorf("unknown keyspace %q", name)
}

var storeKeySpace string

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every key of one keyspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ks, err := keySpaceByName(storeKeySpace)
		if err != nil {
			return err
		}
		s, err := openLocalStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.ClearKeySpace(ks); err != nil {
			return err
		}
		logger.Info("keyspace cleared", zap.String("keyspace", ks.Name()))
		return nil
	},
}

var storeCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim storage for one keyspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ks, err := keySpaceByName(storeKeySpace)
		if err != nil {
			return err
		}
		s, err := openLocalStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.CompactKeySpace(ks); err != nil {
			return err
		}
		logger.Info("keyspace compacted", zap.String("keyspace", ks.Name()))
		return nil
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get KEYHEX",
	Short: "Read one key of a keyspace, value printed as hex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ks, err := keySpaceByName(storeKeySpace)
		if err != nil {
			return err
		}
		key, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("key is not hex: %w", err)
		}
		s, err := openLocalStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		value, err := s.Get(ks, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%x\n", value)
		return nil
	},
}

var storeKeySpacesCmd = &cobra.Command{
	Use:   "keyspaces",
	Short: "List the keyspaces of the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(store.KeySpaces()))
		for _, ks := range store.KeySpaces() {
			names = append(names, ks.Name())
		}
		return dumpYAML(cmd, names)
	},
}

func init() {
	for _, c := range []*cobra.Command{storeClearCmd, storeCompactCmd, storeGetCmd} {
		c.Flags().StringVar(&storeKeySpace, "keyspace", "", "keyspace name, see 'store keyspaces'")
		_ = c.MarkFlagRequired("keyspace")
	}
	storeCmd.AddCommand(storeClearCmd, storeCompactCmd, storeGetCmd, storeKeySpacesCmd)
	rootCmd.AddCommand(storeCmd)
}
