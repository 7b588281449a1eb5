// Command beamcode is the operator-facing CLI client for a running
// beamcoded broker: list, create, and delete sessions over its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"beamcode/internal/config"
	"beamcode/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "beamcode",
		Short: "Control a running beamcoded broker",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "beamcoded base URL (default derived from ~/.beamcode/config.yaml)")

	client := func() *apiClient {
		return newAPIClient(resolveAddr(addr))
	}

	cmd.AddCommand(
		newListCmd(client),
		newCreateCmd(client),
		newDeleteCmd(client),
		newDoctorCmd(client),
		newVersionCmd(),
	)
	return cmd
}

// resolveAddr returns override if set, otherwise derives a base URL from
// the broker's own config file so the CLI defaults to talking to the
// locally configured daemon without an extra flag on every invocation.
func resolveAddr(override string) string {
	if override != "" {
		return override
	}
	cfg, err := config.Load()
	if err != nil {
		return "http://127.0.0.1:8787"
	}
	return "http://" + cfg.Listen.Addr()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the beamcode CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.DisplayVersion())
			return nil
		},
	}
}
