package homgar

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseStats(t *testing.T) {
	stats, err := parseStats("781(781/723/1)")
	if err != nil {
		t.Fatalf("parseStats failed: %v", err)
	}
	if stats.Current != 781 || stats.DailyMax != 781 || stats.DailyMin != 723 || stats.Trend != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	stats, err = parseStats("-15(-10/-20/0)")
	if err != nil {
		t.Fatalf("parseStats failed on negative values: %v", err)
	}
	if stats.Current != -15 || stats.DailyMax != -10 || stats.DailyMin != -20 || stats.Trend != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if _, err := parseStats("garbage"); err == nil {
		t.Error("expected error for malformed stats value")
	}
}

func TestTempToMilliKelvin(t *testing.T) {
	// 78.1F is 25.61C.
	mk := tempToMilliKelvin(781)
	if mk != 298761 {
		t.Errorf("tempToMilliKelvin(781) = %d, want 298761", mk)
	}
	c := MilliKelvinToCelsius(mk)
	if math.Abs(c-25.611) > 0.001 {
		t.Errorf("MilliKelvinToCelsius(%d) = %f, want about 25.611", mk, c)
	}
}

func TestDisplayHubStatus(t *testing.T) {
	hub := newHub(DeviceInfo{
		Model:     "Irrigation Display Hub",
		ModelCode: ModelDisplayHub,
		Name:      "Hub",
		MID:       "12345",
	}, "device-name", "product-key", nil)

	if hub.Address != 1 {
		t.Fatalf("hub address = %d, want 1", hub.Address)
	}

	ids := hub.StatusIDs()
	if len(ids) != 3 || ids[0] != "connected" || ids[1] != "state" || ids[2] != "D01" {
		t.Fatalf("unexpected status ids: %v", ids)
	}

	if err := hub.ApplyStatus("connected", "1"); err != nil {
		t.Fatalf("ApplyStatus(connected) failed: %v", err)
	}
	if hub.Connected == nil || !*hub.Connected {
		t.Error("hub should be connected")
	}

	if err := hub.ApplyStatus("state", "0,-45"); err != nil {
		t.Fatalf("ApplyStatus(state) failed: %v", err)
	}
	if hub.BatteryState != 0 || hub.WiFiRSSI != -45 {
		t.Errorf("unexpected hub state: battery=%d rssi=%d", hub.BatteryState, hub.WiFiRSSI)
	}

	err := hub.ApplyStatus("D01", "1,-50,0;781(781/723/1),52(64/50/1),P=10213(10222/10205/1),")
	if err != nil {
		t.Fatalf("ApplyStatus(D01) failed: %v", err)
	}
	if hub.RSSI != -50 {
		t.Errorf("hub RSSI = %d, want -50", hub.RSSI)
	}
	if hub.Temperature == nil || hub.Temperature.Current != 298761 {
		t.Errorf("unexpected temperature: %+v", hub.Temperature)
	}
	if hub.Temperature.DailyMin != 295539 {
		t.Errorf("temperature daily min = %d, want 295539", hub.Temperature.DailyMin)
	}
	if hub.Humidity == nil || hub.Humidity.Current != 52 {
		t.Errorf("unexpected humidity: %+v", hub.Humidity)
	}
	if hub.Pressure == nil || hub.Pressure.Current != 10213 {
		t.Errorf("unexpected pressure: %+v", hub.Pressure)
	}
}

func TestHubAddressForcedToOne(t *testing.T) {
	hub := newHub(DeviceInfo{
		ModelCode: ModelDisplayHub,
		MID:       "12345",
		Address:   7,
	}, "device-name", "product-key", nil)
	if hub.Address != 1 {
		t.Fatalf("hub address = %d, want 1", hub.Address)
	}
	ids := hub.StatusIDs()
	if ids[len(ids)-1] != "D01" {
		t.Errorf("unexpected status ids: %v", ids)
	}
}

func TestSoilMoistureStatus(t *testing.T) {
	dev := newSubdevice(DeviceInfo{
		ModelCode: ModelSoilMoisture,
		Name:      "Soil",
		MID:       "12345",
		Address:   2,
	}, "device-name", "product-key")
	soil, ok := dev.(*SoilMoistureSensor)
	if !ok {
		t.Fatalf("expected *SoilMoistureSensor, got %T", dev)
	}

	if err := soil.ApplyStatus("D02", "1,-68,0;766,52,G=31351"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	if soil.RSSI != -68 {
		t.Errorf("RSSI = %d, want -68", soil.RSSI)
	}
	if soil.TempMilliKelvin != 297928 {
		t.Errorf("temperature = %d, want 297928", soil.TempMilliKelvin)
	}
	if soil.MoisturePercent != 52 {
		t.Errorf("moisture = %d, want 52", soil.MoisturePercent)
	}
	if math.Abs(soil.LightLux-3135.1) > 0.001 {
		t.Errorf("light = %f, want 3135.1", soil.LightLux)
	}
}

func TestRainSensorStatus(t *testing.T) {
	dev := newSubdevice(DeviceInfo{
		ModelCode: ModelRainSensor,
		Name:      "Rain",
		MID:       "12345",
		Address:   3,
	}, "device-name", "product-key")
	rain, ok := dev.(*RainSensor)
	if !ok {
		t.Fatalf("expected *RainSensor, got %T", dev)
	}

	if err := rain.ApplyStatus("D03", "1,-70,0;R=270(0/5/270)"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	if math.Abs(rain.TotalMM-27.0) > 0.001 {
		t.Errorf("total = %f, want 27.0", rain.TotalMM)
	}
	if math.Abs(rain.HourMM-0.0) > 0.001 {
		t.Errorf("hour = %f, want 0.0", rain.HourMM)
	}
	if math.Abs(rain.DayMM-0.5) > 0.001 {
		t.Errorf("day = %f, want 0.5", rain.DayMM)
	}
	if math.Abs(rain.WeekMM-27.0) > 0.001 {
		t.Errorf("week = %f, want 27.0", rain.WeekMM)
	}
}

func TestAirSensorStatus(t *testing.T) {
	dev := newSubdevice(DeviceInfo{
		ModelCode: ModelAirSensor,
		Name:      "Air",
		MID:       "12345",
		Address:   4,
	}, "device-name", "product-key")
	air, ok := dev.(*AirSensor)
	if !ok {
		t.Fatalf("expected *AirSensor, got %T", dev)
	}

	if err := air.ApplyStatus("D04", "1,-60,0;755(1020/588/1),54(91/24/1),"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	if air.Temperature == nil || air.Temperature.Current != 297317 {
		t.Errorf("unexpected temperature: %+v", air.Temperature)
	}
	if air.Humidity == nil || air.Humidity.Current != 54 || air.Humidity.DailyMax != 91 {
		t.Errorf("unexpected humidity: %+v", air.Humidity)
	}
}

func TestTwoZoneTimerStatus(t *testing.T) {
	dev := newSubdevice(DeviceInfo{
		ModelCode:  ModelTwoZoneTimer,
		Name:       "Timer",
		MID:        "12345",
		Address:    5,
		PortNumber: 2,
	}, "device-name", "product-key")
	timer, ok := dev.(*TwoZoneTimer)
	if !ok {
		t.Fatalf("expected *TwoZoneTimer, got %T", dev)
	}

	if err := timer.ApplyStatus("D05", "1,-55,0;0,9,0,0,0,0|0,1291,0,0,0,0"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	if len(timer.RawZones) != 2 {
		t.Fatalf("expected 2 raw zones, got %d", len(timer.RawZones))
	}
	if timer.Zones() != 2 {
		t.Errorf("Zones() = %d, want 2", timer.Zones())
	}
}

func TestNewSubdeviceUnknownModel(t *testing.T) {
	dev := newSubdevice(DeviceInfo{ModelCode: 9999}, "device-name", "product-key")
	if dev != nil {
		t.Errorf("expected nil for unknown model, got %T", dev)
	}
}

func TestSubdeviceInheritsHubIdentity(t *testing.T) {
	dev := newSubdevice(DeviceInfo{
		ModelCode: ModelSoilMoisture,
		MID:       "12345",
		Address:   2,
	}, "device-name", "product-key")
	info := dev.Info()
	if info.HubDeviceName != "device-name" || info.HubProductKey != "product-key" {
		t.Errorf("hub identity not propagated: %+v", info)
	}
}

func TestRestoreDevice(t *testing.T) {
	soil := newSubdevice(DeviceInfo{
		ModelCode: ModelSoilMoisture,
		Name:      "Soil",
		MID:       "12345",
		Address:   2,
	}, "device-name", "product-key")
	hub := newHub(DeviceInfo{
		ModelCode: ModelDisplayHub,
		Name:      "Hub",
		MID:       "12345",
	}, "device-name", "product-key", []Device{soil})
	if err := hub.ApplyStatus("connected", "1"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}

	state, err := json.Marshal(hub)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	dev, err := RestoreDevice(ModelDisplayHub, state)
	if err != nil {
		t.Fatalf("RestoreDevice(hub) failed: %v", err)
	}
	restored, ok := dev.(*Hub)
	if !ok {
		t.Fatalf("restored hub is %T", dev)
	}
	if restored.Name != "Hub" || restored.Connected == nil || !*restored.Connected {
		t.Errorf("unexpected restored hub: %+v", restored)
	}
	// Subdevices are persisted one row each and reattached by the caller.
	if len(restored.Subdevices) != 0 {
		t.Errorf("restored hub carries %d subdevices, want 0", len(restored.Subdevices))
	}

	state, err = json.Marshal(soil)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	dev, err = RestoreDevice(ModelSoilMoisture, state)
	if err != nil {
		t.Fatalf("RestoreDevice(soil) failed: %v", err)
	}
	if dev.Info().Address != 2 || dev.Info().HubDeviceName != "device-name" {
		t.Errorf("unexpected restored sensor: %+v", dev.Info())
	}

	if _, err := RestoreDevice(9999, []byte(`{}`)); err == nil {
		t.Error("expected error for unknown model code")
	}
}

func TestMalformedStatus(t *testing.T) {
	dev := newSubdevice(DeviceInfo{
		ModelCode: ModelSoilMoisture,
		MID:       "12345",
		Address:   2,
	}, "device-name", "product-key")

	if err := dev.ApplyStatus("D02", "no-separator"); err == nil {
		t.Error("expected error for value without ';'")
	}
	if err := dev.ApplyStatus("D02", "1,-68,0;bad"); err == nil {
		t.Error("expected error for malformed specific part")
	}
}
