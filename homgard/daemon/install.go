package daemon

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

func init() {
	Cmd.AddCommand(installCmd)
	Cmd.AddCommand(uninstallCmd)
}

func load(ctx context.Context) (service.Service, service.Logger, error) {
	log, err := logr.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	config := service.Config{
		Name:        "homgard",
		DisplayName: "HomGar Bridge",
		Description: "HomGar Bridge Daemon, with embedded MQTT broker and persistent device snapshots",
		Arguments:   []string{"daemon"},
	}

	daemon := NewDaemon(ctx)

	s, err := service.New(daemon, &config)
	if err != nil {
		log.Error(err, "Failed to create (background) service")
		return nil, nil, err
	}
	logger, err := s.Logger(nil)
	if err != nil {
		log.Error(err, "Failed to create (background) service")
		return nil, nil, err
	}
	return s, logger, err
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install HomGar Bridge as a " + service.Platform() + " service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, l, err := load(cmd.Context())
		if err != nil {
			return err
		}
		l.Info("Installing service")
		return s.Install()
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall HomGar Bridge as a " + service.Platform() + " service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, l, err := load(cmd.Context())
		if err != nil {
			return err
		}
		l.Info("Uninstalling service")
		return s.Uninstall()
	},
}
