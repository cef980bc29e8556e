// Command dxscan reads DX barcodes from a camera and opens the matching
// film search page.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
const version = "v0.1.0"

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "dxscan",
		Short:         "Camera DX barcode scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with DXSCAN_* overrides (ignored if missing)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newDevicesCmd(opts))
	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dxscan version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dxscan %s\n", version)
		},
	}
}
