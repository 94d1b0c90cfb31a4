package list

import (
	"github.com/spf13/cobra"

	"github.com/homgar/bridge/homgarctl/options"
	"github.com/homgar/bridge/internal/bridge"
)

var Cmd = &cobra.Command{
	Use:   "list",
	Short: "List HomGar devices known to the bridge daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var devices []bridge.DeviceSummary
		err := bridge.TheClient.CallE(cmd.Context(), bridge.DeviceList, nil, &devices)
		if err != nil {
			return err
		}
		return options.PrintResult(devices)
	},
}
