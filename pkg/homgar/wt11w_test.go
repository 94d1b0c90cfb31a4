package homgar

import (
	"testing"
)

// hexStatus is a captured WT-11W payload: zone 1 on with a 600s countdown
// and 600s duration setting, zone 2 off recently, zone 3 idle.
const hexStatus = "11#19D8211AD8201BD80021B70000025825AD0258"

func TestWT11WHexStatus(t *testing.T) {
	timer := NewWT11WTimer(DeviceInfo{
		ModelCode: ModelWT11W,
		Name:      "Garden",
		MID:       "12345",
		Address:   6,
	})

	if err := timer.ApplyStatus("D06", "1,-62,0;"+hexStatus); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	if timer.RSSI != -62 {
		t.Errorf("RSSI = %d, want -62", timer.RSSI)
	}

	zone1 := timer.Zone(1)
	if zone1.Status != ZoneOn || !zone1.Active {
		t.Errorf("zone 1 = %+v, want on/active", zone1)
	}
	if zone1.CountdownSeconds != 600 {
		t.Errorf("zone 1 countdown = %d, want 600", zone1.CountdownSeconds)
	}
	if zone1.DurationSetting != 600 {
		t.Errorf("zone 1 duration = %d, want 600", zone1.DurationSetting)
	}

	zone2 := timer.Zone(2)
	if zone2.Status != ZoneOffRecent || zone2.Active {
		t.Errorf("zone 2 = %+v, want off_recent/inactive", zone2)
	}

	zone3 := timer.Zone(3)
	if zone3.Status != ZoneOffIdle || zone3.Active {
		t.Errorf("zone 3 = %+v, want off_idle/inactive", zone3)
	}
}

func TestWT11WRawStatus(t *testing.T) {
	timer := NewWT11WTimer(DeviceInfo{
		ModelCode: ModelWT11W,
		MID:       "12345",
		Address:   6,
	})

	// Push payloads carry the bare hex value without a general prefix.
	if err := timer.ApplyRawStatus(hexStatus); err != nil {
		t.Fatalf("ApplyRawStatus failed: %v", err)
	}
	if !timer.Zone(1).Active {
		t.Error("zone 1 should be active")
	}

	if err := timer.ApplyRawStatus("no-hash"); err == nil {
		t.Error("expected error for payload without '#'")
	}
	if err := timer.ApplyRawStatus("12#19D821"); err == nil {
		t.Error("expected error for unexpected prefix")
	}
}

func TestWT11WPolledBareHexStatus(t *testing.T) {
	timer := NewWT11WTimer(DeviceInfo{
		ModelCode: ModelWT11W,
		MID:       "12345",
		Address:   6,
	})

	// The vendor sometimes reports a polled Dxx value in the bare hex form,
	// without the general prefix.
	if err := timer.ApplyStatus("D06", "11#19D821"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	if !timer.Zone(1).Active {
		t.Error("zone 1 should be active")
	}
	if timer.RawStatus != "11#19D821" {
		t.Errorf("raw status = %q, want the bare payload", timer.RawStatus)
	}
}

func TestWT11WConnectedAndState(t *testing.T) {
	timer := NewWT11WTimer(DeviceInfo{
		ModelCode: ModelWT11W,
		MID:       "12345",
		Address:   6,
	})

	if timer.IsConnected() {
		t.Error("timer should not report connected before any status")
	}
	if err := timer.ApplyStatus("connected", "1"); err != nil {
		t.Fatalf("ApplyStatus(connected) failed: %v", err)
	}
	if !timer.IsConnected() {
		t.Error("timer should report connected")
	}
	if err := timer.ApplyStatus("state", "0,-15"); err != nil {
		t.Fatalf("ApplyStatus(state) failed: %v", err)
	}
	if timer.State != "0,-15" {
		t.Errorf("state = %q, want %q", timer.State, "0,-15")
	}
	if err := timer.ApplyStatus("D99", "whatever"); err == nil {
		t.Error("expected error for unexpected status id")
	}
}

func TestZoneStatusText(t *testing.T) {
	if got := ZoneStatusText(ZoneOn); got != "On" {
		t.Errorf("ZoneStatusText(on) = %q", got)
	}
	if got := ZoneStatusText(ZoneOffRecent); got != "Off (Recent)" {
		t.Errorf("ZoneStatusText(off_recent) = %q", got)
	}
	if got := ZoneStatusText(ZoneOffIdle); got != "Off (Idle)" {
		t.Errorf("ZoneStatusText(off_idle) = %q", got)
	}
	if got := ZoneStatusText("other"); got != "other" {
		t.Errorf("ZoneStatusText(other) = %q", got)
	}
}
