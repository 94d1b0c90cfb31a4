package options

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v2"

	"github.com/homgar/bridge/internal/global"
)

const MQTT_DEFAULT_TIMEOUT time.Duration = 14 * time.Second

const COMMAND_DEFAULT_TIMEOUT time.Duration = 30 * time.Second

const POLL_DEFAULT_INTERVAL time.Duration = 30 * time.Second

const PUSH_WATCHDOG_CHECK_INTERVAL time.Duration = 30 * time.Second

const PUSH_WATCHDOG_MAX_FAILURES int = 3

var Flags struct {
	Verbose               bool
	Debug                 bool
	Json                  bool
	Config                string        // the value taken by --config / -c
	MqttBroker            string        // the value taken by --mqtt-broker / -B
	MqttTimeout           time.Duration // the value taken by --mqtt-timeout / -T
	Wait                  time.Duration // the value taken by --command-timeout / -C
	PollInterval          time.Duration // the value taken by --poll-interval / -R
	NoMdnsPublish         bool
	NoEmbeddedBroker      bool
	EnableMetricsExporter bool
	MetricsExporterPort   int
}

func CommandLineContext(ctx context.Context, version string) context.Context {
	var cancel context.CancelFunc

	if Flags.Wait > 0 {
		ctx, cancel = context.WithTimeout(ctx, Flags.Wait)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx = context.WithValue(ctx, global.CancelKey, cancel)
	ctx = context.WithValue(ctx, global.VersionKey, version)

	go func() {
		log := logr.FromContextOrDiscard(ctx)
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt)
		signal.Notify(signals, syscall.SIGTERM)
		<-signals
		log.Info("Received signal")
		cancel()
	}()
	return ctx
}

func PrintResult(out any) error {
	if Flags.Json {
		s, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(s))
	} else {
		s, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(s))
	}
	return nil
}
