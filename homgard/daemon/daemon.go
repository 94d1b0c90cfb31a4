package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"

	"github.com/homgar/bridge/hlog"
	"github.com/homgar/bridge/homgarctl/options"
	"github.com/homgar/bridge/internal/bridge"
	"github.com/homgar/bridge/internal/broker"
	"github.com/homgar/bridge/internal/global"
	"github.com/homgar/bridge/internal/hostmqtt"
	"github.com/homgar/bridge/internal/metrics"
	"github.com/homgar/bridge/internal/storage"
	"github.com/homgar/bridge/pkg/homgar"
)

type daemon struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDaemon(ctx context.Context) *daemon {
	return &daemon{
		ctx:    ctx,
		cancel: global.Cancel(ctx),
	}
}

func (d *daemon) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go func() {
		log := logr.FromContextOrDiscard(d.ctx)
		if err := d.run(d.ctx, log); err != nil && d.ctx.Err() == nil {
			hlog.ErrorIfNotCanceled(log, err, "Daemon exited")
		}
	}()
	return nil
}

func (d *daemon) Stop(s service.Service) error {
	d.cancel()
	return nil
}

func (d *daemon) run(ctx context.Context, log logr.Logger) error {
	settings, err := CurrentSettings()
	if err != nil {
		return err
	}

	log.Info("Starting HomGar bridge daemon", "version", global.Version(ctx))

	var disableEmbeddedMqttBroker bool = len(options.Flags.MqttBroker) != 0

	var mqttBrokerAddr string
	if !disableEmbeddedMqttBroker {
		log.Info("Starting embedded MQTT broker")
		info := []string{
			fmt.Sprintf("program=%v", "homgard"),
			fmt.Sprintf("version=%v", global.Version(ctx)),
			fmt.Sprintf("time=%v", time.Now()),
		}
		if err := broker.Serve(ctx, log.WithName("Broker"), "homgard", info, options.Flags.NoMdnsPublish); err != nil {
			log.Error(err, "Failed to start embedded MQTT broker")
			return err
		}
		mqttBrokerAddr = "localhost"
	} else {
		log.Info("Embedded MQTT broker disabled")
		mqttBrokerAddr = options.Flags.MqttBroker
	}

	mc, err := hostmqtt.NewClientE(log, mqttBrokerAddr)
	if err != nil {
		log.Error(err, "Failed to initialize MQTT client")
		return err
	}
	defer mc.Close()

	store, err := storage.NewStore(log, settings.Database)
	if err != nil {
		log.Error(err, "Failed to initialize storage")
		return err
	}
	defer store.Close()

	if settings.PushProductKey != "" {
		homgar.PushProductKey = settings.PushProductKey
	}
	api := homgar.NewClient(log, settings.APIURL, nil)

	if options.Flags.EnableMetricsExporter {
		httpAddr := fmt.Sprintf(":%d", options.Flags.MetricsExporterPort)
		exporter := metrics.NewExporter(ctx, log, mc, "homgar", httpAddr)
		if err := exporter.Start(); err != nil {
			log.Error(err, "Failed to start metrics exporter")
			return err
		}
		defer exporter.Stop()
		log.Info("Prometheus metrics exporter started", "http_addr", httpAddr)
	} else {
		log.Info("Prometheus metrics exporter disabled")
	}

	coordinator, err := bridge.NewCoordinator(log, api, store, mc, bridge.Config{
		Email:        settings.Email,
		Password:     settings.Password,
		AreaCode:     settings.AreaCode,
		PollInterval: options.Flags.PollInterval,
	})
	if err != nil {
		log.Error(err, "Failed to create coordinator")
		return err
	}

	rpc, err := bridge.NewServerE(ctx, log, mc, coordinator)
	if err != nil {
		log.Error(err, "Failed to start RPC server")
		return err
	}
	defer rpc.Shutdown()

	log.Info("Running")
	err = coordinator.Run(ctx)
	log.Info("Shutting down")
	if ctx.Err() != nil {
		return nil
	}
	return err
}
