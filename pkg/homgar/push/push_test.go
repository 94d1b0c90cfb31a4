package push

import (
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/homgar/bridge/pkg/homgar"
)

func TestNewClient(t *testing.T) {
	log := testr.New(t)

	sub := homgar.Subscription{
		MqttHostURL:  "broker.example.com",
		DeviceName:   "sub-device",
		ProductKey:   "sub-product",
		DeviceSecret: "sub-secret",
	}
	c, err := NewClient(log, sub, 16)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.topic != "/sub-product/sub-device/user/status" {
		t.Errorf("topic = %q", c.topic)
	}

	if _, err := NewClient(log, homgar.Subscription{}, 16); err == nil {
		t.Error("expected error for missing broker host")
	}
	if _, err := NewClient(log, homgar.Subscription{MqttHostURL: "broker.example.com"}, 16); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestSplitHostPort(t *testing.T) {
	host, port := splitHostPort("broker.example.com")
	if host != "broker.example.com" || port != DefaultPort {
		t.Errorf("got %s:%d", host, port)
	}
	host, port = splitHostPort("broker.example.com:8883")
	if host != "broker.example.com" || port != 8883 {
		t.Errorf("got %s:%d", host, port)
	}
}

func TestSubscriptionExpired(t *testing.T) {
	now := time.Now()

	if !SubscriptionExpired(homgar.Subscription{}, now) {
		t.Error("zero expiry should count as expired")
	}

	fresh := homgar.Subscription{Expire: now.Add(time.Hour).UnixMilli()}
	if SubscriptionExpired(fresh, now) {
		t.Error("subscription expiring in an hour should not be expired")
	}

	closing := homgar.Subscription{Expire: now.Add(2 * time.Minute).UnixMilli()}
	if !SubscriptionExpired(closing, now) {
		t.Error("subscription within the renewal window should be expired")
	}

	past := homgar.Subscription{Expire: now.Add(-time.Minute).UnixMilli()}
	if !SubscriptionExpired(past, now) {
		t.Error("past subscription should be expired")
	}
}

func TestParseUpdate(t *testing.T) {
	u, err := ParseUpdate([]byte(`{"mid":555,"id":"D02","value":"1,-68,0;766,52,G=31351"}`))
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if u.MID != "555" || u.ID != "D02" {
		t.Errorf("unexpected update: %+v", u)
	}

	u, err = ParseUpdate([]byte(`{"deviceId":"555","value":"11#19D821"}`))
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if u.MID != "555" || u.Value != "11#19D821" {
		t.Errorf("unexpected update: %+v", u)
	}

	// Water timers push bare hex strings.
	u, err = ParseUpdate([]byte("11#19D8211AD800"))
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if u.MID != "" || u.Value != "11#19D8211AD800" {
		t.Errorf("unexpected update: %+v", u)
	}

	if _, err := ParseUpdate([]byte(`{}`)); err == nil {
		t.Error("expected error for payload without identifier or value")
	}
}
