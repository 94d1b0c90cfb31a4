package follow

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homgar/bridge/internal/bridge"
)

var Cmd = &cobra.Command{
	Use:   "follow",
	Short: "Print entity updates as the daemon publishes them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mc := bridge.TheClient.Host()

		topic := "homgar/#"
		updates, err := mc.Subscribe(topic, 8)
		if err != nil {
			return err
		}
		defer mc.Unsubscribe(topic)

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-updates:
				if !ok {
					return nil
				}
				fmt.Printf("%s %s\n", msg.Topic, msg.Payload)
			}
		}
	},
}
