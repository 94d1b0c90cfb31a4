// Package irrigation implements the start and stop commands for water timer
// zones.
package irrigation

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/homgar/bridge/homgarctl/options"
	"github.com/homgar/bridge/internal/bridge"
)

var duration int

func init() {
	StartCmd.Flags().IntVarP(&duration, "duration", "D", 0, "watering duration in seconds (1 to 7200, default 600)")
}

var StartCmd = &cobra.Command{
	Use:   "start <device> <zone>",
	Short: "Open one zone of a water timer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		var result bridge.IrrigationResult
		err = bridge.TheClient.CallE(cmd.Context(), bridge.IrrigationStart, bridge.IrrigationParams{
			Device:   args[0],
			Zone:     zone,
			Duration: duration,
		}, &result)
		if err != nil {
			return err
		}
		return options.PrintResult(result)
	},
}

var StopCmd = &cobra.Command{
	Use:   "stop <device> <zone>",
	Short: "Close one zone of a water timer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		var result bridge.IrrigationResult
		err = bridge.TheClient.CallE(cmd.Context(), bridge.IrrigationStop, bridge.IrrigationParams{
			Device: args[0],
			Zone:   zone,
		}, &result)
		if err != nil {
			return err
		}
		return options.PrintResult(result)
	},
}
