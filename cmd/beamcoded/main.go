// Command beamcoded runs the BeamCode broker: the long-lived daemon that
// owns every session.Runtime, launches and supervises adapter processes,
// and serves the Consumer Gateway and CLI Gateway over HTTP/WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"beamcode/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var listenHost string
	var listenPort int
	var dataDir string
	var logLevel string
	var logConsole bool

	cmd := &cobra.Command{
		Use:   "beamcoded",
		Short: "BeamCode session broker daemon",
		Long:  "beamcoded multiplexes coding-agent CLI backends to WebSocket consumers, tracking each session's state across restarts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveFlags{
				configPath: configPath,
				listenHost: listenHost,
				listenPort: listenPort,
				dataDir:    dataDir,
				logLevel:   logLevel,
				logConsole: logConsole,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.beamcode/config.yaml)")
	cmd.Flags().StringVar(&listenHost, "host", "", "override listen.host")
	cmd.Flags().IntVar(&listenPort, "port", 0, "override listen.port")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override data_dir")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log.level")
	cmd.Flags().BoolVar(&logConsole, "log-console", true, "also mirror the activity log to stderr")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the beamcoded version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.DisplayVersion())
			return nil
		},
	}
}
