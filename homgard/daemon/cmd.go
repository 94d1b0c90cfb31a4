package daemon

import (
	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "daemon",
	Short: "HomGar Bridge Daemon",
	Long:  "HomGar Bridge Daemon, with embedded MQTT broker and persistent device snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Under a service manager, let it drive start/stop.
		if !service.Interactive() {
			s, _, err := load(ctx)
			if err != nil {
				return err
			}
			return s.Run()
		}

		log, err := logr.FromContext(ctx)
		if err != nil {
			return err
		}
		return NewDaemon(ctx).run(ctx, log)
	},
}
