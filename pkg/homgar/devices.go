package homgar

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Known model codes.
const (
	ModelDisplayHub    = 264 // RainPoint Irrigation Display Hub
	ModelSoilMoisture  = 72  // RainPoint Soil Moisture Sensor
	ModelRainSensor    = 87  // RainPoint High Precision Rain Sensor
	ModelAirSensor     = 262 // RainPoint Outdoor Air Humidity Sensor
	ModelTwoZoneTimer  = 261 // RainPoint 2-Zone Water Timer
	ModelWT11W         = 271 // Diivoo WT-11W 3-Zone Water Timer
	ModelWaterTimerHub = 256 // HWG0538WRF Water Timer Hub
)

// DeviceInfo carries the identity fields shared by hubs and subdevices.
type DeviceInfo struct {
	Model      string `json:"model"`
	ModelCode  int    `json:"modelCode"`
	Name       string `json:"name"`
	DID        int64  `json:"did"` // unique identifier of this device
	MID        string `json:"mid"` // identifier of the sensor network (hub)
	Address    int    `json:"addr"`
	PortNumber int    `json:"portNumber"` // output ports, e.g. 2 for the 2-zone timer
	Alerts     int    `json:"alerts"`

	// Hub identity needed for control and push subscription; propagated
	// from the hub record onto its subdevices.
	HubDeviceName string `json:"hubDeviceName,omitempty"`
	HubProductKey string `json:"hubProductKey,omitempty"`
}

// Device is implemented by all HomGar devices, hubs and subdevices alike.
type Device interface {
	Info() *DeviceInfo
	// StatusIDs lists the subDeviceStatus IDs this device listens to.
	// Usually just "Dxx" where xx is the device address; hubs have extra keys.
	StatusIDs() []string
	// ApplyStatus updates the device from one subDeviceStatus entry.
	ApplyStatus(id, value string) error
	// Describe returns a human-readable summary.
	Describe() string
}

// statusID formats a device address into its subDeviceStatus key.
func statusID(addr int) string {
	return fmt.Sprintf("D%02d", addr)
}

// device is the shared base of all concrete device types.
type device struct {
	DeviceInfo
	RSSI int `json:"rssi"` // RF link to the hub, dBm
}

func (d *device) Info() *DeviceInfo {
	return &d.DeviceInfo
}

func (d *device) StatusIDs() []string {
	return []string{statusID(d.Address)}
}

func (d *device) Describe() string {
	return fmt.Sprintf("%s %q (DID %d)", d.Model, d.Name, d.DID)
}

// applyDValue handles a "Dxx" value: a general part and a device-specific
// part separated by ';'.
func (d *device) applyDValue(value string, specific func(string) error) error {
	general, rest, found := strings.Cut(value, ";")
	if !found {
		return fmt.Errorf("malformed status value %q", value)
	}
	if err := d.applyGeneral(general); err != nil {
		return err
	}
	if specific == nil {
		return nil
	}
	return specific(rest)
}

// applyGeneral parses the part before ';': three ','-separated fields of
// which the middle one is the RF RSSI in dBm.
func (d *device) applyGeneral(s string) error {
	fields := strings.Split(s, ",")
	if len(fields) < 3 {
		return fmt.Errorf("malformed general status %q", s)
	}
	rssi, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("malformed RSSI in %q: %w", s, err)
	}
	d.RSSI = rssi
	return nil
}

// Stats is a current/daily-max/daily-min/trend measurement quadruple as
// reported by weather-style sensors.
type Stats struct {
	Current  int `json:"current"`
	DailyMax int `json:"dailyMax"`
	DailyMin int `json:"dailyMin"`
	Trend    int `json:"trend"`
}

var statsValueRegex = regexp.MustCompile(`^(-?\d+)\((-?\d+)/(-?\d+)/(-?\d+)\)`)

func parseStats(s string) (Stats, error) {
	m := statsValueRegex.FindStringSubmatch(s)
	if m == nil {
		return Stats{}, fmt.Errorf("malformed stats value %q", s)
	}
	cur, _ := strconv.Atoi(m[1])
	max, _ := strconv.Atoi(m[2])
	min, _ := strconv.Atoi(m[3])
	trend, _ := strconv.Atoi(m[4])
	return Stats{Current: cur, DailyMax: max, DailyMin: min, Trend: trend}, nil
}

// tempToMilliKelvin converts a .1°F reading to milli-Kelvin.
func tempToMilliKelvin(tenthsF int) int {
	f := float64(tenthsF) * 0.1
	return int((((f-32)*5/9)+273.15)*1000 + 0.5)
}

// MilliKelvinToCelsius converts a milli-Kelvin reading to °C.
func MilliKelvinToCelsius(mk int) float64 {
	return float64(mk)*1e-3 - 273.15
}

func (s Stats) toMilliKelvin() Stats {
	return Stats{
		Current:  tempToMilliKelvin(s.Current),
		DailyMax: tempToMilliKelvin(s.DailyMax),
		DailyMin: tempToMilliKelvin(s.DailyMin),
		Trend:    s.Trend,
	}
}

// Hub gateways sensors and actuators. A home contains an arbitrary number of
// hubs, each with an arbitrary number of subdevices.
type Hub struct {
	device
	Subdevices []Device `json:"subdevices"`

	// Display hub (model 264) weather station readings. Temperatures are
	// milli-Kelvin, pressure Pa.
	Connected    *bool  `json:"connected,omitempty"`
	BatteryState int    `json:"batteryState,omitempty"`
	WiFiRSSI     int    `json:"wifiRSSI,omitempty"`
	Temperature  *Stats `json:"temperature,omitempty"`
	Humidity     *Stats `json:"humidity,omitempty"`
	Pressure     *Stats `json:"pressure,omitempty"`
}

func newHub(info DeviceInfo, deviceName, productKey string, subdevices []Device) *Hub {
	info.HubDeviceName = deviceName
	info.HubProductKey = productKey
	// Hubs always listen on D01, whatever addr the record reports.
	info.Address = 1
	return &Hub{
		device:     device{DeviceInfo: info},
		Subdevices: subdevices,
	}
}

func (h *Hub) StatusIDs() []string {
	if h.ModelCode == ModelDisplayHub {
		return []string{"connected", "state", statusID(h.Address)}
	}
	return []string{statusID(h.Address)}
}

func (h *Hub) ApplyStatus(id, value string) error {
	switch id {
	case "connected":
		connected := value == "1"
		h.Connected = &connected
		return nil
	case "state":
		fields := strings.Split(value, ",")
		if len(fields) != 2 {
			return fmt.Errorf("malformed hub state %q", value)
		}
		battery, err := strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		rssi, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		h.BatteryState = battery
		h.WiFiRSSI = rssi
		return nil
	case statusID(h.Address):
		if h.ModelCode == ModelDisplayHub {
			return h.applyDValue(value, h.applyWeather)
		}
		return h.applyDValue(value, nil)
	}
	return fmt.Errorf("unexpected status id %q", id)
}

// applyWeather parses the display hub reading, e.g.
// "781(781/723/1),52(64/50/1),P=10213(10222/10205/1),":
// temp[.1F](max/min/trend),humidity[%](...),P=pressure[Pa](...)
func (h *Hub) applyWeather(s string) error {
	fields := strings.SplitN(s, ",", 4)
	if len(fields) < 3 {
		return fmt.Errorf("malformed weather status %q", s)
	}
	temp, err := parseStats(fields[0])
	if err != nil {
		return err
	}
	hum, err := parseStats(fields[1])
	if err != nil {
		return err
	}
	press, err := parseStats(strings.TrimPrefix(fields[2], "P="))
	if err != nil {
		return err
	}
	temp = temp.toMilliKelvin()
	h.Temperature = &temp
	h.Humidity = &hum
	h.Pressure = &press
	return nil
}

func (h *Hub) Describe() string {
	s := fmt.Sprintf("%s with %d subdevices", h.device.Describe(), len(h.Subdevices))
	if h.Temperature != nil {
		s += fmt.Sprintf(": %.1f°C / %d%% / %dPa",
			MilliKelvinToCelsius(h.Temperature.Current), h.Humidity.Current, h.Pressure.Current)
	}
	return s
}

// UnmarshalJSON restores a hub snapshot without its subdevices; those are
// persisted one row each and reattached by the caller.
func (h *Hub) UnmarshalJSON(data []byte) error {
	type hub Hub
	aux := struct {
		*hub
		Subdevices json.RawMessage `json:"subdevices"`
	}{hub: (*hub)(h)}
	return json.Unmarshal(data, &aux)
}

// RestoreDevice rebuilds a device of the given model from a persisted JSON
// snapshot.
func RestoreDevice(modelCode int, state []byte) (Device, error) {
	var dev Device
	switch modelCode {
	case ModelDisplayHub, ModelWaterTimerHub:
		dev = &Hub{}
	case ModelSoilMoisture:
		dev = &SoilMoistureSensor{}
	case ModelRainSensor:
		dev = &RainSensor{}
	case ModelAirSensor:
		dev = &AirSensor{}
	case ModelTwoZoneTimer:
		dev = &TwoZoneTimer{}
	case ModelWT11W:
		dev = NewWT11WTimer(DeviceInfo{})
	default:
		return nil, fmt.Errorf("unknown model code %d", modelCode)
	}
	if err := json.Unmarshal(state, dev); err != nil {
		return nil, fmt.Errorf("malformed snapshot for model %d: %w", modelCode, err)
	}
	return dev, nil
}

// newSubdevice builds the concrete device for a model code, or nil when the
// model is unknown.
func newSubdevice(info DeviceInfo, hubDeviceName, hubProductKey string) Device {
	info.HubDeviceName = hubDeviceName
	info.HubProductKey = hubProductKey
	base := device{DeviceInfo: info}
	switch info.ModelCode {
	case ModelSoilMoisture:
		return &SoilMoistureSensor{device: base}
	case ModelRainSensor:
		return &RainSensor{device: base}
	case ModelAirSensor:
		return &AirSensor{device: base}
	case ModelTwoZoneTimer:
		return &TwoZoneTimer{device: base}
	case ModelWT11W:
		return NewWT11WTimer(info)
	default:
		return nil
	}
}
