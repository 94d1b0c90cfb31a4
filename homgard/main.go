package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/homgar/bridge/hlog"
	"github.com/homgar/bridge/homgarctl/options"
	"github.com/homgar/bridge/homgard/daemon"
	"github.com/homgar/bridge/internal/global"
)

var Cmd = &cobra.Command{
	Use:  "homgard",
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hlog.InitForDaemon(options.Flags.Verbose)
		log := hlog.GetLogger("homgard")
		ctx := cmd.Context()

		if err := daemon.LoadConfig(log, options.Flags.Config); err != nil {
			return err
		}

		ctx = options.CommandLineContext(ctx, getVersion())
		ctx = logr.NewContext(ctx, log)
		cmd.SetContext(ctx)

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		global.Cancel(cmd.Context())()
		return nil
	},
}

func init() {
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Debug, "debug", "d", false, "debug output")
	Cmd.PersistentFlags().StringVarP(&options.Flags.Config, "config", "c", "", "configuration file")
	Cmd.PersistentFlags().StringVarP(&options.Flags.MqttBroker, "mqtt-broker", "B", "", "external MQTT broker to use (disables the embedded broker)")
	Cmd.PersistentFlags().DurationVarP(&options.Flags.PollInterval, "poll-interval", "R", options.POLL_DEFAULT_INTERVAL, "cloud polling interval")
	Cmd.PersistentFlags().BoolVar(&options.Flags.NoMdnsPublish, "no-mdns-publish", false, "do not publish the embedded broker over mDNS")
	Cmd.PersistentFlags().BoolVar(&options.Flags.EnableMetricsExporter, "metrics", true, "enable the Prometheus metrics exporter")
	Cmd.PersistentFlags().IntVar(&options.Flags.MetricsExporterPort, "metrics-port", 9111, "Prometheus metrics exporter port")
	Cmd.AddCommand(daemon.Cmd)
}

// Program and Version are set at build time.
var Program string
var Version string

func getVersion() string {
	if Version != "" {
		return Version
	}
	return "dev"
}

func init() {
	Cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getVersion())
		},
	})
}

func main() {
	cobra.EnableTraverseRunHooks = true

	// Daemon runs take a long time.
	options.Flags.Wait = 0 * time.Second

	err := Cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
