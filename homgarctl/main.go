package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/homgar/bridge/hlog"
	"github.com/homgar/bridge/homgarctl/follow"
	"github.com/homgar/bridge/homgarctl/irrigation"
	"github.com/homgar/bridge/homgarctl/list"
	"github.com/homgar/bridge/homgarctl/options"
	"github.com/homgar/bridge/homgarctl/show"
	"github.com/homgar/bridge/internal/bridge"
	"github.com/homgar/bridge/internal/debug"
	"github.com/homgar/bridge/internal/global"
	"github.com/homgar/bridge/internal/hostmqtt"
)

var rootCmd = &cobra.Command{
	Use:   "homgarctl",
	Short: "Control and inspect HomGar irrigation devices through the bridge daemon",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hlog.InitWithDebug(options.Flags.Verbose, options.Flags.Debug)
		log := hlog.GetLogger("homgarctl")
		ctx := logr.NewContext(cmd.Context(), log)

		if debug.IsDebuggerAttached() {
			log.Info("Running under debugger (will wait forever)")
			options.Flags.Wait = 0
		}

		ctx = options.CommandLineContext(ctx, Version)

		mc, err := hostmqtt.NewClientE(log, options.Flags.MqttBroker)
		if err != nil {
			log.Error(err, "Failed to initialize MQTT client")
			return err
		}

		bridge.TheClient, err = bridge.NewClientE(log, mc, options.Flags.MqttTimeout)
		if err != nil {
			log.Error(err, "Failed to initialize bridge client")
			return err
		}

		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if bridge.TheClient != nil {
			bridge.TheClient.Shutdown()
			bridge.TheClient.Host().Close()
		}
		global.Cancel(cmd.Context())()
		return nil
	},
}

var Version string

func init() {
	rootCmd.PersistentFlags().BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&options.Flags.Debug, "debug", "d", false, "debug output (shows V(1) logs)")
	rootCmd.PersistentFlags().BoolVarP(&options.Flags.Json, "json", "j", false, "output in json format")
	rootCmd.PersistentFlags().StringVarP(&options.Flags.MqttBroker, "mqtt-broker", "B", "", "Use given MQTT broker to reach the bridge daemon (default is to discover it from the network)")
	rootCmd.PersistentFlags().DurationVarP(&options.Flags.MqttTimeout, "mqtt-timeout", "T", options.MQTT_DEFAULT_TIMEOUT, "Timeout for MQTT operations")
	rootCmd.PersistentFlags().DurationVarP(&options.Flags.Wait, "wait", "w", options.COMMAND_DEFAULT_TIMEOUT, "Maximum time to wait for command to finish (0 = wait indefinitely)")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "debug")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(list.Cmd)
	rootCmd.AddCommand(show.Cmd)
	rootCmd.AddCommand(irrigation.StartCmd)
	rootCmd.AddCommand(irrigation.StopCmd)
	rootCmd.AddCommand(follow.Cmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func main() {
	cobra.EnableTraverseRunHooks = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
