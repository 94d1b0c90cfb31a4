package bridge

import (
	"testing"

	"github.com/homgar/bridge/pkg/homgar"
)

func entityByKey(entities []Entity, key string) *Entity {
	for i := range entities {
		if entities[i].Key == key {
			return &entities[i]
		}
	}
	return nil
}

func TestTopic(t *testing.T) {
	info := &homgar.DeviceInfo{MID: "555", Address: 2}
	if got := Topic(info, "soil_moisture"); got != "homgar/555/2/soil_moisture" {
		t.Errorf("Topic = %q", got)
	}
}

func TestSoilMoistureEntities(t *testing.T) {
	soil := &homgar.SoilMoistureSensor{}
	soil.Info().MID = "555"
	soil.Info().Address = 2
	soil.Info().Name = "Soil"
	if err := soil.ApplyStatus("D02", "1,-68,0;766,52,G=31351"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}

	entities := EntitiesFor(soil)
	if len(entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(entities))
	}

	moisture := entityByKey(entities, "soil_moisture")
	if moisture == nil {
		t.Fatal("missing soil_moisture entity")
	}
	if moisture.UniqueID != "555_2_soil_moisture" {
		t.Errorf("unique id = %q", moisture.UniqueID)
	}
	if moisture.State != 52 || moisture.Unit != "%" {
		t.Errorf("unexpected moisture entity: %+v", moisture)
	}
	if moisture.Attributes["rssi"] != -68 {
		t.Errorf("rssi attribute = %v, want -68", moisture.Attributes["rssi"])
	}

	temp := entityByKey(entities, "temperature")
	if temp == nil {
		t.Fatal("missing temperature entity")
	}
	if temp.State != 24.8 || temp.Unit != "°C" {
		t.Errorf("unexpected temperature entity: %+v", temp)
	}

	light := entityByKey(entities, "light")
	if light == nil || light.State != 3135.1 {
		t.Errorf("unexpected light entity: %+v", light)
	}
}

func TestDisplayHubEntities(t *testing.T) {
	hub := &homgar.Hub{}
	hub.Info().MID = "555"
	hub.Info().Address = 1
	hub.Info().Name = "Hub"
	hub.Info().ModelCode = homgar.ModelDisplayHub

	// No readings yet: no entities.
	if entities := EntitiesFor(hub); len(entities) != 0 {
		t.Fatalf("got %d entities before any reading", len(entities))
	}

	err := hub.ApplyStatus("D01", "1,-50,0;781(781/723/1),52(64/50/1),P=10213(10222/10205/1),")
	if err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}
	entities := EntitiesFor(hub)
	if len(entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(entities))
	}
	temp := entityByKey(entities, "temperature")
	if temp == nil || temp.State != 25.6 {
		t.Errorf("unexpected temperature entity: %+v", temp)
	}
	pressure := entityByKey(entities, "pressure")
	if pressure == nil || pressure.State != 10213 || pressure.Unit != "Pa" {
		t.Errorf("unexpected pressure entity: %+v", pressure)
	}
}

func TestRainSensorEntities(t *testing.T) {
	rain := &homgar.RainSensor{}
	rain.Info().MID = "555"
	rain.Info().Address = 3
	rain.Info().Name = "Rain"
	if err := rain.ApplyStatus("D03", "1,-70,0;R=270(0/5/270)"); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}

	entities := EntitiesFor(rain)
	if len(entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(entities))
	}
	total := entityByKey(entities, "rainfall_total")
	if total == nil || total.State != 27.0 || total.Unit != "mm" {
		t.Errorf("unexpected total entity: %+v", total)
	}
	daily := entityByKey(entities, "rainfall_daily")
	if daily == nil || daily.State != 0.5 {
		t.Errorf("unexpected daily entity: %+v", daily)
	}
}

func TestWT11WEntities(t *testing.T) {
	timer := homgar.NewWT11WTimer(homgar.DeviceInfo{
		MID:     "555",
		Address: 4,
		Name:    "Garden Timer",
	})
	err := timer.ApplyRawStatus("11#19D8211AD8201BD80021B70000025825AD0258")
	if err != nil {
		t.Fatalf("ApplyRawStatus failed: %v", err)
	}

	entities := EntitiesFor(timer)
	// 3 zones, each with 3 sensors and 1 switch.
	if len(entities) != 12 {
		t.Fatalf("got %d entities, want 12", len(entities))
	}

	sw := entityByKey(entities, "zone_1")
	if sw == nil {
		t.Fatal("missing zone_1 switch")
	}
	if sw.Kind != KindSwitch || sw.State != "on" {
		t.Errorf("unexpected zone 1 switch: %+v", sw)
	}
	if sw.Attributes["zone_status"] != "On" || sw.Attributes["countdown_timer"] != 600 {
		t.Errorf("unexpected zone 1 attributes: %v", sw.Attributes)
	}

	status := entityByKey(entities, "zone_2_status")
	if status == nil || status.State != "Off (Recent)" {
		t.Errorf("unexpected zone 2 status: %+v", status)
	}

	sw3 := entityByKey(entities, "zone_3")
	if sw3 == nil || sw3.State != "off" {
		t.Errorf("unexpected zone 3 switch: %+v", sw3)
	}
}

func TestTwoZoneTimerEntities(t *testing.T) {
	dev := &homgar.TwoZoneTimer{}
	dev.Info().MID = "555"
	dev.Info().Address = 5
	dev.Info().Name = "Patio Timer"
	dev.Info().PortNumber = 2

	entities := EntitiesFor(dev)
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	for _, e := range entities {
		if e.Kind != KindSwitch {
			t.Errorf("entity %s kind = %s, want switch", e.Key, e.Kind)
		}
	}
}
