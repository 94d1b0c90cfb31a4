package homgar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Zone status values reported by the WT-11W.
const (
	ZoneOn        = "on"
	ZoneOffRecent = "off_recent"
	ZoneOffIdle   = "off_idle"
)

// ZoneState is the live state of one irrigation zone.
type ZoneState struct {
	Active           bool   `json:"active"`
	Status           string `json:"status"`
	CountdownSeconds int    `json:"countdownSeconds"`
	DurationSetting  int    `json:"durationSetting"`
}

// WT11WTimer is the Diivoo WT-11W 3-zone water timer.
//
// Its Dxx status value is "11#<hex>" where the hex stream is a sequence of
// tagged fields:
//
//	19 D8xx  zone 1 status (D821 on, D820 off recent, D800 off idle)
//	1A D8xx  zone 2 status
//	1B D8xx  zone 3 status
//	21 B7 + 8 hex digits  zone 1 countdown, seconds
//	22 B7 + 8 hex digits  zone 2 countdown
//	23 B7 + 8 hex digits  zone 3 countdown
//	25 AD + 4 hex digits  zone 1 duration setting
//	26 AD + 4 hex digits  zone 2 duration setting
//	27 AD + 4 hex digits  zone 3 duration setting
type WT11WTimer struct {
	device
	Zones     map[int]*ZoneState `json:"zones"`
	Connected *bool              `json:"connected,omitempty"`
	State     string             `json:"state,omitempty"` // raw, e.g. "0,-15"
	RawStatus string             `json:"rawStatus,omitempty"`
}

const wt11wZoneCount = 3

func NewWT11WTimer(info DeviceInfo) *WT11WTimer {
	zones := make(map[int]*ZoneState, wt11wZoneCount)
	for zone := 1; zone <= wt11wZoneCount; zone++ {
		zones[zone] = &ZoneState{Status: ZoneOffIdle}
	}
	return &WT11WTimer{
		device: device{DeviceInfo: info},
		Zones:  zones,
	}
}

func (d *WT11WTimer) StatusIDs() []string {
	return []string{statusID(d.Address), "connected", "state"}
}

func (d *WT11WTimer) ApplyStatus(id, value string) error {
	switch id {
	case "connected":
		connected := value == "1"
		d.Connected = &connected
		return nil
	case "state":
		d.State = value
		return nil
	case statusID(d.Address):
		// Polled values usually carry the "general;specific" pair, but the
		// vendor also reports the bare "11#<hex>" form.
		if !strings.Contains(value, ";") {
			return d.applyHexStatus(value)
		}
		return d.applyDValue(value, d.applyHexStatus)
	}
	return fmt.Errorf("unexpected status id %q", id)
}

// ApplyRawStatus parses a bare "11#<hex>" payload as delivered over the push
// channel, without the general prefix of a polled Dxx value.
func (d *WT11WTimer) ApplyRawStatus(value string) error {
	return d.applyHexStatus(value)
}

var zoneStatusCodes = map[string]string{
	"D821": ZoneOn,
	"D820": ZoneOffRecent,
	"D800": ZoneOffIdle,
}

var (
	zoneStatusMarkers    = [wt11wZoneCount]string{"19D8", "1AD8", "1BD8"}
	zoneCountdownMarkers = [wt11wZoneCount]string{"21B7", "22B7", "23B7"}
	zoneDurationMarkers  = [wt11wZoneCount]string{"25AD", "26AD", "27AD"}
)

func (d *WT11WTimer) applyHexStatus(s string) error {
	d.RawStatus = s

	prefix, hexData, found := strings.Cut(s, "#")
	if !found {
		return fmt.Errorf("malformed WT-11W status %q: missing '#'", s)
	}
	if prefix != "11" {
		return fmt.Errorf("unexpected WT-11W status prefix %q", prefix)
	}

	for zone := 1; zone <= wt11wZoneCount; zone++ {
		d.applyZoneStatus(zone, hexData)
		d.applyZoneCountdown(zone, hexData)
		d.applyZoneDuration(zone, hexData)
	}
	return nil
}

func (d *WT11WTimer) applyZoneStatus(zone int, hexData string) {
	pos := strings.Index(hexData, zoneStatusMarkers[zone-1])
	if pos < 0 || pos+6 > len(hexData) {
		return
	}
	code := hexData[pos+2 : pos+6]
	status, ok := zoneStatusCodes[code]
	if !ok {
		return
	}
	d.Zones[zone].Status = status
	d.Zones[zone].Active = status == ZoneOn
}

func (d *WT11WTimer) applyZoneCountdown(zone int, hexData string) {
	pos := strings.Index(hexData, zoneCountdownMarkers[zone-1])
	if pos < 0 || pos+12 > len(hexData) {
		return
	}
	seconds, err := strconv.ParseInt(hexData[pos+4:pos+12], 16, 64)
	if err != nil {
		d.Zones[zone].CountdownSeconds = 0
		return
	}
	d.Zones[zone].CountdownSeconds = int(seconds)
}

func (d *WT11WTimer) applyZoneDuration(zone int, hexData string) {
	pos := strings.Index(hexData, zoneDurationMarkers[zone-1])
	if pos < 0 || pos+8 > len(hexData) {
		return
	}
	duration, err := strconv.ParseInt(hexData[pos+4:pos+8], 16, 64)
	if err != nil {
		d.Zones[zone].DurationSetting = 0
		return
	}
	d.Zones[zone].DurationSetting = int(duration)
}

// Zone returns the state of the given zone (1-3), or nil.
func (d *WT11WTimer) Zone(zone int) *ZoneState {
	return d.Zones[zone]
}

// ZoneStatusText renders a zone status for display.
func ZoneStatusText(status string) string {
	switch status {
	case ZoneOn:
		return "On"
	case ZoneOffRecent:
		return "Off (Recent)"
	case ZoneOffIdle:
		return "Off (Idle)"
	}
	return status
}

// IsConnected reports whether the timer was last seen connected.
func (d *WT11WTimer) IsConnected() bool {
	return d.Connected != nil && *d.Connected
}

// ControlZone switches one zone on (mode 1) or off (mode 0). duration is in
// seconds, 0 for indefinite.
func (d *WT11WTimer) ControlZone(ctx context.Context, c *Client, zone, mode, duration int) error {
	if zone < 1 || zone > wt11wZoneCount {
		return fmt.Errorf("zone must be between 1 and %d, got %d", wt11wZoneCount, zone)
	}
	if d.HubDeviceName == "" || d.HubProductKey == "" {
		return fmt.Errorf("device %q is missing hub identity for control", d.Name)
	}
	return c.ControlWorkMode(ctx, ControlRequest{
		DeviceName: d.HubDeviceName,
		ProductKey: d.HubProductKey,
		MID:        d.MID,
		Addr:       d.Address,
		Port:       zone,
		Mode:       mode,
		Duration:   duration,
	})
}

func (d *WT11WTimer) Describe() string {
	s := d.device.Describe()
	if d.Connected != nil {
		if *d.Connected {
			s += " (connected)"
		} else {
			s += " (disconnected)"
		}
	}
	active := make([]string, 0, wt11wZoneCount)
	for zone := 1; zone <= wt11wZoneCount; zone++ {
		if d.Zones[zone].Active {
			active = append(active, strconv.Itoa(zone))
		}
	}
	if len(active) > 0 {
		s += fmt.Sprintf(" [Active zones: %s]", strings.Join(active, ", "))
	}
	return s
}
