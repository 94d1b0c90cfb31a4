package homgar

import (
	"fmt"
	"strconv"
	"strings"
)

// SoilMoistureSensor reports soil temperature, moisture and light level.
type SoilMoistureSensor struct {
	device
	TempMilliKelvin int     `json:"tempMilliKelvin,omitempty"`
	MoisturePercent int     `json:"moisturePercent,omitempty"`
	LightLux        float64 `json:"lightLux,omitempty"`
}

func (d *SoilMoistureSensor) ApplyStatus(id, value string) error {
	return d.applyDValue(value, d.applySpecific)
}

// applySpecific parses e.g. "766,52,G=31351":
// temp[.1F],soil-moisture[%],G=light[.1lux]
func (d *SoilMoistureSensor) applySpecific(s string) error {
	fields := strings.Split(s, ",")
	if len(fields) < 3 {
		return fmt.Errorf("malformed soil sensor status %q", s)
	}
	temp, err := strconv.Atoi(fields[0])
	if err != nil {
		return err
	}
	moist, err := strconv.Atoi(fields[1])
	if err != nil {
		return err
	}
	light, err := strconv.Atoi(strings.TrimPrefix(fields[2], "G="))
	if err != nil {
		return err
	}
	d.TempMilliKelvin = tempToMilliKelvin(temp)
	d.MoisturePercent = moist
	d.LightLux = float64(light) * 0.1
	return nil
}

func (d *SoilMoistureSensor) Describe() string {
	s := d.device.Describe()
	if d.TempMilliKelvin != 0 {
		s += fmt.Sprintf(": %.1f°C / %d%% / %.1flx",
			MilliKelvinToCelsius(d.TempMilliKelvin), d.MoisturePercent, d.LightLux)
	}
	return s
}

// RainSensor reports rainfall accumulation in mm.
type RainSensor struct {
	device
	TotalMM float64 `json:"totalMM,omitempty"`
	HourMM  float64 `json:"hourMM,omitempty"`
	DayMM   float64 `json:"dayMM,omitempty"`
	WeekMM  float64 `json:"weekMM,omitempty"`
}

func (d *RainSensor) ApplyStatus(id, value string) error {
	return d.applyDValue(value, d.applySpecific)
}

// applySpecific parses e.g. "R=270(0/0/270)":
// R=total[.1mm](hour[.1mm]/24h[.1mm]/7days[.1mm])
func (d *RainSensor) applySpecific(s string) error {
	stats, err := parseStats(strings.TrimPrefix(s, "R="))
	if err != nil {
		return err
	}
	d.TotalMM = float64(stats.Current) * 0.1
	d.HourMM = float64(stats.DailyMax) * 0.1
	d.DayMM = float64(stats.DailyMin) * 0.1
	d.WeekMM = float64(stats.Trend) * 0.1
	return nil
}

func (d *RainSensor) Describe() string {
	s := d.device.Describe()
	if d.TotalMM != 0 {
		s += fmt.Sprintf(": %.1fmm total / %.1fmm 1h / %.1fmm 24h / %.1fmm 7days",
			d.TotalMM, d.HourMM, d.DayMM, d.WeekMM)
	}
	return s
}

// AirSensor reports outdoor temperature and humidity.
type AirSensor struct {
	device
	Temperature *Stats `json:"temperature,omitempty"` // milli-Kelvin
	Humidity    *Stats `json:"humidity,omitempty"`    // percent
}

func (d *AirSensor) ApplyStatus(id, value string) error {
	return d.applyDValue(value, d.applySpecific)
}

// applySpecific parses e.g. "755(1020/588/1),54(91/24/1),":
// temp[.1F](max/min/trend),humidity[%](max/min/trend)
func (d *AirSensor) applySpecific(s string) error {
	fields := strings.SplitN(s, ",", 3)
	if len(fields) < 2 {
		return fmt.Errorf("malformed air sensor status %q", s)
	}
	temp, err := parseStats(fields[0])
	if err != nil {
		return err
	}
	hum, err := parseStats(fields[1])
	if err != nil {
		return err
	}
	temp = temp.toMilliKelvin()
	d.Temperature = &temp
	d.Humidity = &hum
	return nil
}

func (d *AirSensor) Describe() string {
	s := d.device.Describe()
	if d.Temperature != nil {
		s += fmt.Sprintf(": %.1f°C / %d%%",
			MilliKelvinToCelsius(d.Temperature.Current), d.Humidity.Current)
	}
	return s
}

// TwoZoneTimer is the RainPoint 2-zone water timer. The status grammar of
// this model is only partially understood upstream; the per-zone fields are
// kept raw. Observed example: "0,9,0,0,0,0|0,1291,0,0,0,0" where the second
// field per zone is the last usage in .1l.
type TwoZoneTimer struct {
	device
	RawZones []string `json:"rawZones,omitempty"`
}

func (d *TwoZoneTimer) ApplyStatus(id, value string) error {
	return d.applyDValue(value, func(s string) error {
		d.RawZones = strings.Split(s, "|")
		return nil
	})
}

// Zones returns the number of controllable zones.
func (d *TwoZoneTimer) Zones() int {
	if d.PortNumber > 0 {
		return d.PortNumber
	}
	return 2
}
