package bridge

import (
	"fmt"
	"math"

	"github.com/homgar/bridge/pkg/homgar"
)

// EntityKind separates read-only sensors from controllable switches.
type EntityKind string

const (
	KindSensor EntityKind = "sensor"
	KindSwitch EntityKind = "switch"
)

// Entity is one host-platform entity projected from a device. Entities are
// published retained as JSON under homgar/<mid>/<addr>/<key>.
type Entity struct {
	UniqueID   string         `json:"unique_id"`
	Name       string         `json:"name"`
	Kind       EntityKind     `json:"kind"`
	Key        string         `json:"key"`
	State      any            `json:"state"`
	Unit       string         `json:"unit,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func entityID(info *homgar.DeviceInfo, key string) string {
	return fmt.Sprintf("%s_%d_%s", info.MID, info.Address, key)
}

// Topic returns the host broker topic for an entity of the given device.
func Topic(info *homgar.DeviceInfo, key string) string {
	return fmt.Sprintf("homgar/%s/%d/%s", info.MID, info.Address, key)
}

func sensor(info *homgar.DeviceInfo, key, name string, state any, unit string, attrs map[string]any) Entity {
	return Entity{
		UniqueID:   entityID(info, key),
		Name:       fmt.Sprintf("%s %s", info.Name, name),
		Kind:       KindSensor,
		Key:        key,
		State:      state,
		Unit:       unit,
		Attributes: attrs,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// commonAttributes carries link state shared by all of a device's entities.
func commonAttributes(dev homgar.Device) map[string]any {
	attrs := map[string]any{}
	switch d := dev.(type) {
	case *homgar.Hub:
		if d.Connected != nil {
			attrs["connected"] = *d.Connected
		}
		if d.WiFiRSSI != 0 {
			attrs["wifi_rssi"] = d.WiFiRSSI
		}
	case *homgar.WT11WTimer:
		if d.Connected != nil {
			attrs["connected"] = *d.Connected
		}
		if d.State != "" {
			attrs["device_state"] = d.State
		}
	}
	if rssi := deviceRSSI(dev); rssi != 0 {
		attrs["rssi"] = rssi
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func deviceRSSI(dev homgar.Device) int {
	switch d := dev.(type) {
	case *homgar.Hub:
		return d.RSSI
	case *homgar.SoilMoistureSensor:
		return d.RSSI
	case *homgar.RainSensor:
		return d.RSSI
	case *homgar.AirSensor:
		return d.RSSI
	case *homgar.TwoZoneTimer:
		return d.RSSI
	case *homgar.WT11WTimer:
		return d.RSSI
	}
	return 0
}

// EntitiesFor projects one device onto its host-platform entities.
func EntitiesFor(dev homgar.Device) []Entity {
	info := dev.Info()
	attrs := commonAttributes(dev)
	var entities []Entity

	switch d := dev.(type) {
	case *homgar.Hub:
		if d.ModelCode != homgar.ModelDisplayHub {
			return nil
		}
		if d.Temperature != nil {
			entities = append(entities,
				sensor(info, "temperature", "Temperature", round1(homgar.MilliKelvinToCelsius(d.Temperature.Current)), "°C", attrs))
		}
		if d.Humidity != nil {
			entities = append(entities,
				sensor(info, "humidity", "Humidity", d.Humidity.Current, "%", attrs))
		}
		if d.Pressure != nil {
			entities = append(entities,
				sensor(info, "pressure", "Pressure", d.Pressure.Current, "Pa", attrs))
		}

	case *homgar.SoilMoistureSensor:
		entities = append(entities,
			sensor(info, "soil_moisture", "Soil Moisture", d.MoisturePercent, "%", attrs),
			sensor(info, "temperature", "Temperature", round1(homgar.MilliKelvinToCelsius(d.TempMilliKelvin)), "°C", attrs),
			sensor(info, "light", "Light", round1(d.LightLux), "lx", attrs))

	case *homgar.RainSensor:
		entities = append(entities,
			sensor(info, "rainfall_total", "Total Rainfall", round1(d.TotalMM), "mm", attrs),
			sensor(info, "rainfall_hourly", "Hourly Rainfall", round1(d.HourMM), "mm", attrs),
			sensor(info, "rainfall_daily", "Daily Rainfall", round1(d.DayMM), "mm", attrs))

	case *homgar.AirSensor:
		if d.Temperature != nil {
			entities = append(entities,
				sensor(info, "temperature", "Temperature", round1(homgar.MilliKelvinToCelsius(d.Temperature.Current)), "°C", attrs))
		}
		if d.Humidity != nil {
			entities = append(entities,
				sensor(info, "humidity", "Humidity", d.Humidity.Current, "%", attrs))
		}

	case *homgar.WT11WTimer:
		for zone := 1; zone <= 3; zone++ {
			state := d.Zone(zone)
			if state == nil {
				continue
			}
			entities = append(entities, zoneEntities(info, zone, state, attrs)...)
		}

	case *homgar.TwoZoneTimer:
		for zone := 1; zone <= d.Zones(); zone++ {
			// Status grammar unknown upstream: expose the switch only.
			entities = append(entities, Entity{
				UniqueID:   entityID(info, fmt.Sprintf("zone_%d", zone)),
				Name:       fmt.Sprintf("%s Zone %d", info.Name, zone),
				Kind:       KindSwitch,
				Key:        fmt.Sprintf("zone_%d", zone),
				State:      "off",
				Attributes: attrs,
			})
		}
	}

	return entities
}

func zoneEntities(info *homgar.DeviceInfo, zone int, state *homgar.ZoneState, common map[string]any) []Entity {
	zonePrefix := fmt.Sprintf("zone_%d", zone)

	switchState := "off"
	if state.Active {
		switchState = "on"
	}
	switchAttrs := map[string]any{
		"zone_status":      homgar.ZoneStatusText(state.Status),
		"countdown_timer":  state.CountdownSeconds,
		"duration_setting": state.DurationSetting,
	}
	for k, v := range common {
		switchAttrs[k] = v
	}

	return []Entity{
		sensor(info, zonePrefix+"_status", fmt.Sprintf("Zone %d Status", zone), homgar.ZoneStatusText(state.Status), "", common),
		sensor(info, zonePrefix+"_countdown_timer", fmt.Sprintf("Zone %d Countdown Timer", zone), state.CountdownSeconds, "s", common),
		sensor(info, zonePrefix+"_duration_setting", fmt.Sprintf("Zone %d Duration Setting", zone), state.DurationSetting, "", common),
		{
			UniqueID:   entityID(info, zonePrefix),
			Name:       fmt.Sprintf("%s Zone %d", info.Name, zone),
			Kind:       KindSwitch,
			Key:        zonePrefix,
			State:      switchState,
			Attributes: switchAttrs,
		},
	}
}
