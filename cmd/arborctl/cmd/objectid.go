package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/arborfs/arbor/pkg/model"
)

var objectIDCmd = &cobra.Command{
	Use:   "object-id",
	Short: "Inspect and build object identifiers",
}

var objectIDParseCmd = &cobra.Command{
	Use:   "parse TEXT",
	Short: "Decode the text form of an object id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseObjectID(args[0])
		if err != nil {
			return err
		}

		out := map[string]interface{}{
			"text":     model.RenderObjectID(id),
			"bytes":    fmt.Sprintf("%x", id.Bytes()),
			"indirect": id.IsIndirect(),
		}
		if proxy, ok := model.ProxyHashFromObjectID(id); ok {
			out["rev"] = proxy.Rev.String()
			out["path"] = proxy.Path
		} else if id.IsIndirect() {
			out["rowKey"] = fmt.Sprintf("%x", id.IndirectKey())
		}
		return dumpYAML(cmd, out)
	},
}

var (
	makeRev    string
	makePath   string
	makeFormat string
)

var objectIDMakeCmd = &cobra.Command{
	Use:   "make",
	Short: "Build an embedded object id from a revision hash and a path",
	RunE: func(cmd *cobra.Command, args []string) error {
		rev, err := model.Hash20FromHex(makeRev)
		if err != nil {
			return err
		}
		proxy := model.ProxyHash{Rev: rev, Path: makePath}

		var id model.ObjectID
		switch makeFormat {
		case "with-path":
			id = proxy.Embed()
		case "hash-only":
			id = proxy.EmbedHashOnly()
		default:
			return fmt.Errorf("unknown format %q (want with-path or hash-only)", makeFormat)
		}
		fmt.Fprintln(cmd.OutOrStdout(), model.RenderObjectID(id))
		return nil
	},
}

var rootIDParseCmd = &cobra.Command{
	Use:   "parse-root TEXT",
	Short: "Canonicalize a revision identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := model.ParseRootID(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), root.String())
		return nil
	},
}

func dumpYAML(cmd *cobra.Command, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func init() {
	objectIDMakeCmd.Flags().StringVar(&makeRev, "rev", "", "40 hex character revision hash")
	objectIDMakeCmd.Flags().StringVar(&makePath, "path", "", "relative path")
	objectIDMakeCmd.Flags().StringVar(&makeFormat, "format", "with-path", "encoding: with-path or hash-only")
	_ = objectIDMakeCmd.MarkFlagRequired("rev")

	objectIDCmd.AddCommand(objectIDParseCmd, objectIDMakeCmd, rootIDParseCmd)
	rootCmd.AddCommand(objectIDCmd)
}
