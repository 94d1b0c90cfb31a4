// Package bridge reconciles HTTP polling and MQTT push into a set of
// host-platform entities published to the home broker.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-logr/logr"

	"github.com/homgar/bridge/hlog"
	"github.com/homgar/bridge/internal/hostmqtt"
	"github.com/homgar/bridge/internal/storage"
	"github.com/homgar/bridge/pkg/homgar"
	"github.com/homgar/bridge/pkg/homgar/push"
)

const DefaultPollInterval = 30 * time.Second

// Irrigation duration bounds, seconds.
const (
	MinDuration     = 1
	MaxDuration     = 7200
	DefaultDuration = 600
)

const renewalCheckInterval = 5 * time.Minute

type Config struct {
	Email        string
	Password     string
	AreaCode     string
	PollInterval time.Duration
}

// Coordinator owns the device tree. It polls the cloud on a fixed interval,
// overlays push updates as they arrive, and publishes the resulting entities.
type Coordinator struct {
	log   logr.Logger
	api   *homgar.Client
	store *storage.Store
	host  *hostmqtt.Client
	cfg   Config

	mu       sync.Mutex
	homes    []homgar.Home
	hubs     map[string]*homgar.Hub // by MID
	hidByMID map[string]string
	push     *push.Client

	dedupe *ristretto.Cache
}

func NewCoordinator(log logr.Logger, api *homgar.Client, store *storage.Store, host *hostmqtt.Client, cfg Config) (*Coordinator, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AreaCode == "" {
		cfg.AreaCode = homgar.DefaultAreaCode
	}

	// Last published payload per topic, to skip redundant retained publishes.
	dedupe, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	return &Coordinator{
		log:      log.WithName("Coordinator"),
		api:      api,
		store:    store,
		host:     host,
		cfg:      cfg,
		hubs:     make(map[string]*homgar.Hub),
		hidByMID: make(map[string]string),
		dedupe:   dedupe,
	}, nil
}

// Run blocks until ctx is cancelled, polling and reacting to pushes.
func (c *Coordinator) Run(ctx context.Context) error {
	c.restoreSession(ctx)
	c.restoreDevices(ctx)

	if err := c.Refresh(ctx); err != nil {
		// Connectivity failures fall back to the next poll.
		hlog.ErrorIfNotCanceled(c.log, err, "initial refresh failed")
	}

	go c.renewalLoop(ctx)

	watchdog := NewPushWatchdog(c, c.log, 30*time.Second, 3)
	go watchdog.Start(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Coordinator stopped")
			c.teardownPush()
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				hlog.ErrorIfNotCanceled(c.log, err, "refresh failed, waiting for next poll")
			}
		}
	}
}

func (c *Coordinator) restoreSession(ctx context.Context) {
	if c.store == nil {
		return
	}
	auth, err := c.store.GetSession(ctx, c.cfg.Email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Error(err, "failed to restore session")
		}
		return
	}
	c.api.SetAuth(auth)
	c.log.Info("Restored session", "email", auth.Email, "token_expires", auth.TokenExpires)
}

// restoreDevices seeds the device tree from persisted snapshots so list and
// show answer before the first successful poll, or without the cloud at all.
func (c *Coordinator) restoreDevices(ctx context.Context) {
	if c.store == nil {
		return
	}
	snapshots, err := c.store.GetAllDevices(ctx)
	if err != nil || len(snapshots) == 0 {
		return
	}

	isHub := func(modelCode int) bool {
		return modelCode == homgar.ModelDisplayHub || modelCode == homgar.ModelWaterTimerHub
	}

	hubs := make(map[string]*homgar.Hub)
	hidByMID := make(map[string]string)
	restored := 0
	for _, snap := range snapshots {
		if !isHub(snap.ModelCode) {
			continue
		}
		dev, err := homgar.RestoreDevice(snap.ModelCode, snap.State)
		if err != nil {
			c.log.Error(err, "failed to restore hub snapshot", "mid", snap.MID)
			continue
		}
		if hub, ok := dev.(*homgar.Hub); ok {
			hubs[snap.MID] = hub
			hidByMID[snap.MID] = snap.HID
			restored++
		}
	}
	for _, snap := range snapshots {
		if isHub(snap.ModelCode) {
			continue
		}
		hub := hubs[snap.MID]
		if hub == nil {
			c.log.Info("Snapshot without its hub, skipping", "mid", snap.MID, "addr", snap.Addr)
			continue
		}
		dev, err := homgar.RestoreDevice(snap.ModelCode, snap.State)
		if err != nil {
			c.log.Error(err, "failed to restore device snapshot", "mid", snap.MID, "addr", snap.Addr)
			continue
		}
		hub.Subdevices = append(hub.Subdevices, dev)
		restored++
	}
	if restored == 0 {
		return
	}

	c.mu.Lock()
	c.hubs = hubs
	c.hidByMID = hidByMID
	c.mu.Unlock()
	c.log.Info("Restored device snapshots", "count", restored)
}

// Refresh performs one full poll cycle: login, homes, device trees, statuses.
func (c *Coordinator) Refresh(ctx context.Context) error {
	before := c.api.Auth()
	if err := c.api.EnsureLoggedIn(ctx, c.cfg.Email, c.cfg.Password, c.cfg.AreaCode); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if auth := c.api.Auth(); auth.Token != before.Token && c.store != nil {
		if err := c.store.SaveSession(ctx, auth); err != nil {
			c.log.Error(err, "failed to persist session")
		}
	}

	homes, err := c.api.Homes(ctx)
	if err != nil {
		return err
	}
	if len(homes) == 0 {
		c.log.Info("No homes discovered")
	}

	hubs := make(map[string]*homgar.Hub)
	hidByMID := make(map[string]string)
	for _, home := range homes {
		homeHubs, err := c.api.DevicesForHome(ctx, home.HID)
		if err != nil {
			return err
		}
		for _, hub := range homeHubs {
			if err := c.api.DeviceStatus(ctx, hub); err != nil {
				c.log.Error(err, "failed to refresh hub status", "mid", hub.MID)
			}
			hubs[hub.MID] = hub
			hidByMID[hub.MID] = home.HID
		}
	}

	total := 0
	for _, hub := range hubs {
		total += 1 + len(hub.Subdevices)
		c.persistAndPublish(ctx, hidByMID[hub.MID], hub)
		for _, dev := range hub.Subdevices {
			c.persistAndPublish(ctx, hidByMID[hub.MID], dev)
		}
	}
	if total == 0 {
		c.log.Info("No devices discovered")
	} else {
		c.log.Info("Refreshed devices", "count", total)
	}

	// Publish before installing: once a device is in c.hubs it may only be
	// read or mutated under mu.
	c.mu.Lock()
	c.homes = homes
	c.hubs = hubs
	c.hidByMID = hidByMID
	c.mu.Unlock()

	c.pruneSnapshots(ctx, hubs)
	c.ensurePush(ctx)
	return nil
}

// pruneSnapshots drops persisted devices that the cloud no longer reports.
func (c *Coordinator) pruneSnapshots(ctx context.Context, hubs map[string]*homgar.Hub) {
	if c.store == nil {
		return
	}
	snapshots, err := c.store.GetAllDevices(ctx)
	if err != nil {
		return
	}
	for _, snap := range snapshots {
		if hub := hubs[snap.MID]; hub != nil {
			if hub.Address == snap.Addr {
				continue
			}
			found := false
			for _, dev := range hub.Subdevices {
				if dev.Info().Address == snap.Addr {
					found = true
					break
				}
			}
			if found {
				continue
			}
		}
		if err := c.store.DeleteDevice(ctx, snap.MID, snap.Addr); err == nil {
			c.log.Info("Pruned stale device snapshot", "mid", snap.MID, "addr", snap.Addr)
		}
	}
}

func (c *Coordinator) persistAndPublish(ctx context.Context, hid string, dev homgar.Device) {
	if c.store != nil {
		if err := c.store.SaveDevice(ctx, hid, dev); err != nil {
			c.log.Error(err, "failed to persist device snapshot", "mid", dev.Info().MID)
		}
	}
	c.publishDevice(dev)
}

// publishDevice publishes all entities of a device to the host broker,
// skipping payloads identical to the last published one.
func (c *Coordinator) publishDevice(dev homgar.Device) {
	if c.host == nil {
		return
	}
	for _, entity := range EntitiesFor(dev) {
		payload, err := json.Marshal(entity)
		if err != nil {
			c.log.Error(err, "failed to marshal entity", "unique_id", entity.UniqueID)
			continue
		}
		topic := Topic(dev.Info(), entity.Key)
		if prev, found := c.dedupe.Get(topic); found {
			if s, ok := prev.(string); ok && s == string(payload) {
				continue
			}
		}
		c.dedupe.Set(topic, string(payload), int64(len(payload)))
		if err := c.host.Publish(topic, payload); err != nil {
			c.log.Error(err, "failed to publish entity", "topic", topic)
		}
	}
}

// ensurePush (re)establishes the vendor push channel when absent or expiring.
func (c *Coordinator) ensurePush(ctx context.Context) {
	c.mu.Lock()
	current := c.push
	c.mu.Unlock()

	if current != nil && current.IsConnected() && !current.Expired(time.Now()) {
		return
	}
	if err := c.resubscribePush(ctx); err != nil {
		// Push is best-effort: polling continues regardless.
		c.log.Error(err, "push subscription unavailable, polling only")
	}
}

// resubscribePush tears down any existing push session and starts a new one.
func (c *Coordinator) resubscribePush(ctx context.Context) error {
	c.teardownPush()

	c.mu.Lock()
	hids := make([]string, 0, len(c.homes))
	for _, home := range c.homes {
		hids = append(hids, home.HID)
	}
	targets := make([]homgar.SubscribeTarget, 0, len(c.hubs))
	for _, hub := range c.hubs {
		if hub.HubDeviceName == "" || hub.HubProductKey == "" {
			c.log.Info("Hub missing push identity, skipping", "mid", hub.MID)
			continue
		}
		targets = append(targets, homgar.SubscribeTarget{
			DeviceName: hub.HubDeviceName,
			MID:        hub.MID,
			ProductKey: hub.HubProductKey,
		})
	}
	c.mu.Unlock()

	if len(hids) == 0 || len(targets) == 0 {
		return fmt.Errorf("no devices to subscribe to")
	}

	sub, err := c.api.SubscribeStatus(ctx, hids[0], hids, targets)
	if err != nil {
		return err
	}

	client, err := push.NewClient(c.log, *sub, 16)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.push = client
	c.mu.Unlock()

	go c.pushPump(ctx, client)
	c.log.Info("Push subscription established", "broker", sub.MqttHostURL)
	return nil
}

func (c *Coordinator) teardownPush() {
	c.mu.Lock()
	current := c.push
	c.push = nil
	c.mu.Unlock()
	if current != nil {
		current.Close()
	}
}

// PushConnected reports whether a live push session exists.
func (c *Coordinator) PushConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.push != nil && c.push.IsConnected()
}

func (c *Coordinator) pushPump(ctx context.Context, client *push.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			c.handlePush(ctx, msg)
		}
	}
}

func (c *Coordinator) handlePush(ctx context.Context, msg push.Message) {
	update, err := push.ParseUpdate(msg.Payload)
	if err != nil {
		c.log.Error(err, "ignoring push message", "topic", msg.Topic)
		return
	}

	// Installed devices are shared with the poll path; apply and republish
	// under the lock.
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	for _, hub := range c.hubs {
		if update.MID != "" && update.MID != hub.MID {
			continue
		}
		for _, dev := range append([]homgar.Device{hub}, hub.Subdevices...) {
			if c.applyUpdate(dev, update) {
				c.publishDevice(dev)
				applied++
			}
		}
	}
	if applied == 0 {
		c.log.Info("Push update matched no device", "mid", update.MID, "id", update.ID)
	}
}

func (c *Coordinator) applyUpdate(dev homgar.Device, update *push.Update) bool {
	if update.ID != "" {
		for _, id := range dev.StatusIDs() {
			if id != update.ID {
				continue
			}
			if err := dev.ApplyStatus(update.ID, update.Value); err != nil {
				c.log.Error(err, "failed to apply push status", "id", update.ID)
				return false
			}
			return true
		}
		return false
	}

	// Bare hex payload: only water timers speak this.
	timer, ok := dev.(*homgar.WT11WTimer)
	if !ok || !strings.Contains(update.Value, "#") {
		return false
	}
	if err := timer.ApplyRawStatus(update.Value); err != nil {
		c.log.Error(err, "failed to apply raw push status", "mid", timer.MID)
		return false
	}
	return true
}

// renewalLoop refreshes the push subscription before it expires.
func (c *Coordinator) renewalLoop(ctx context.Context) {
	ticker := time.NewTicker(renewalCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.push
			c.mu.Unlock()
			if current == nil || !current.Expired(time.Now()) {
				continue
			}
			c.log.Info("Push subscription expiring, renewing")
			if err := c.resubscribePush(ctx); err != nil {
				c.log.Error(err, "failed to renew push subscription")
			}
		}
	}
}

// Devices returns the current device tree, hubs first.
func (c *Coordinator) Devices() []homgar.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	devices := make([]homgar.Device, 0, len(c.hubs)*2)
	for _, hub := range c.hubs {
		devices = append(devices, hub)
		devices = append(devices, hub.Subdevices...)
	}
	return devices
}

// FindDevice resolves a device reference: "<mid>_<addr>", a bare MID, or a
// device name.
func (c *Coordinator) FindDevice(ref string) (homgar.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findDevice(ref)
}

// DescribeDevice renders a device's description and entity projection under
// the device-tree lock.
func (c *Coordinator) DescribeDevice(ref string) (homgar.Device, string, []Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, err := c.findDevice(ref)
	if err != nil {
		return nil, "", nil, err
	}
	return dev, dev.Describe(), EntitiesFor(dev), nil
}

func (c *Coordinator) findDevice(ref string) (homgar.Device, error) {
	for _, hub := range c.hubs {
		for _, dev := range append([]homgar.Device{hub}, hub.Subdevices...) {
			info := dev.Info()
			if ref == fmt.Sprintf("%s_%d", info.MID, info.Address) || ref == info.Name {
				return dev, nil
			}
		}
	}

	// A bare MID picks the only timer on that hub.
	if hub, ok := c.hubs[ref]; ok {
		var match homgar.Device
		for _, dev := range hub.Subdevices {
			if zoneCount(dev) == 0 {
				continue
			}
			if match != nil {
				return nil, fmt.Errorf("device reference %q is ambiguous", ref)
			}
			match = dev
		}
		if match != nil {
			return match, nil
		}
	}

	return nil, fmt.Errorf("no device matching %q", ref)
}

func zoneCount(dev homgar.Device) int {
	switch d := dev.(type) {
	case *homgar.WT11WTimer:
		return 3
	case *homgar.TwoZoneTimer:
		return d.Zones()
	}
	return 0
}

// StartIrrigation opens one zone of a water timer. A zero duration selects
// the default; valid durations are 1 to 7200 seconds.
func (c *Coordinator) StartIrrigation(ctx context.Context, ref string, zone, duration int) error {
	if duration == 0 {
		duration = DefaultDuration
	}
	if duration < MinDuration || duration > MaxDuration {
		return fmt.Errorf("duration must be between %d and %d seconds, got %d", MinDuration, MaxDuration, duration)
	}
	return c.controlZone(ctx, ref, zone, 1, duration)
}

// StopIrrigation closes one zone of a water timer.
func (c *Coordinator) StopIrrigation(ctx context.Context, ref string, zone int) error {
	return c.controlZone(ctx, ref, zone, 0, 0)
}

func (c *Coordinator) controlZone(ctx context.Context, ref string, zone, mode, duration int) error {
	dev, err := c.FindDevice(ref)
	if err != nil {
		return err
	}
	zones := zoneCount(dev)
	if zones == 0 {
		return fmt.Errorf("device %q is not a water timer", ref)
	}
	if zone < 1 || zone > zones {
		return fmt.Errorf("zone must be between 1 and %d, got %d", zones, zone)
	}

	info := dev.Info()
	if info.HubDeviceName == "" || info.HubProductKey == "" {
		return fmt.Errorf("device %q is missing hub identity for control", ref)
	}
	err = c.api.ControlWorkMode(ctx, homgar.ControlRequest{
		DeviceName: info.HubDeviceName,
		ProductKey: info.HubProductKey,
		MID:        info.MID,
		Addr:       info.Address,
		Port:       zone,
		Mode:       mode,
		Duration:   duration,
	})
	if err != nil {
		c.log.Error(err, "zone control failed", "device", ref, "zone", zone, "mode", mode)
		return err
	}
	c.log.Info("Zone control issued", "device", ref, "zone", zone, "mode", mode, "duration", duration)

	// Immediate refresh of the affected hub so entities catch up.
	c.refreshHub(ctx, info.MID)
	return nil
}

// refreshHub re-reads one installed hub. It holds mu across the status fetch
// so push updates never interleave with the re-parse.
func (c *Coordinator) refreshHub(ctx context.Context, mid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hub := c.hubs[mid]
	hid := c.hidByMID[mid]
	if hub == nil {
		return
	}
	if err := c.api.DeviceStatus(ctx, hub); err != nil {
		c.log.Error(err, "failed to refresh hub after control", "mid", mid)
		return
	}
	c.persistAndPublish(ctx, hid, hub)
	for _, dev := range hub.Subdevices {
		c.persistAndPublish(ctx, hid, dev)
	}
}
