package show

import (
	"github.com/spf13/cobra"

	"github.com/homgar/bridge/homgarctl/options"
	"github.com/homgar/bridge/internal/bridge"
)

var Cmd = &cobra.Command{
	Use:   "show <device>",
	Short: "Show one device with its entities",
	Long:  "Show one device with its entities. The device is named by <mid>_<addr>, a bare hub MID or its user-visible name.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var detail bridge.DeviceDetail
		err := bridge.TheClient.CallE(cmd.Context(), bridge.DeviceShow, bridge.DeviceRef{Device: args[0]}, &detail)
		if err != nil {
			return err
		}
		return options.PrintResult(detail)
	},
}
