// Package broker embeds a Mochi MQTT broker for installations without an
// existing home broker.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"

	mochiServer "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

const Port = 1883

const zeroconfService = "_mqtt._tcp."

// Serve starts the embedded broker on all interfaces and, unless noMdns is
// set, advertises it over mDNS. It returns once the broker accepts
// connections; the broker stops when ctx is cancelled.
func Serve(ctx context.Context, log logr.Logger, instance string, info []string, noMdns bool) error {
	log = log.WithName("broker")

	opts := &mochiServer.Options{}
	opts.Logger = slog.New(logr.ToSlogHandler(log))
	// Inline client lets the daemon publish without network overhead.
	opts.InlineClient = true

	server := mochiServer.New(opts)

	// Home network broker: allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: fmt.Sprintf("0.0.0.0:%d", Port),
	})
	if err := server.AddListener(tcp); err != nil {
		log.Error(err, "error adding TCP listener")
		return err
	}
	if err := server.Serve(); err != nil {
		log.Error(err, "error starting MQTT broker")
		return err
	}
	log.Info("Now listening for MQTT connections", "port", Port)

	if err := waitReady(ctx, 5*time.Second); err != nil {
		log.Error(err, "MQTT broker failed to become ready")
		return err
	}

	var mdnsServer *zeroconf.Server
	if !noMdns {
		if instance == "" {
			instance, _ = os.Hostname()
		}
		var err error
		mdnsServer, err = zeroconf.Register(instance, zeroconfService, "local.", Port, info, nil)
		if err != nil {
			log.Error(err, "Unable to register ZeroConf service")
			return err
		}
		log.Info("Published MQTT broker over mDNS", "instance", instance, "service", zeroconfService)
	}

	go func() {
		<-ctx.Done()
		if mdnsServer != nil {
			mdnsServer.Shutdown()
		}
		if err := server.Close(); err != nil {
			log.Error(err, "error closing MQTT broker")
		}
	}()

	return nil
}

// waitReady polls the listener port until it accepts connections.
func waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("localhost:%d", Port)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("broker not ready after %v", timeout)
}
