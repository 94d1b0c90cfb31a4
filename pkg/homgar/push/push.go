// Package push maintains the real-time status channel offered by the HomGar
// cloud: an MQTT session against the vendor-operated Alibaba Cloud IoT broker,
// bootstrapped by Client.SubscribeStatus.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/homgar/bridge/pkg/homgar"
)

const DefaultPort = 1883

// A subscription is renewed when it expires within this window.
const expiryLead = 5 * time.Minute

// Message is one raw push payload.
type Message struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// Client is a connection to the vendor push broker.
type Client struct {
	log      logr.Logger
	sub      homgar.Subscription
	topic    string
	mqtt     mqtt.Client
	messages chan Message
}

// NewClient prepares a push connection from a subscription bootstrap. The
// credentials follow the Alibaba Cloud IoT convention: username is
// "deviceName&productKey", password is the device secret.
func NewClient(log logr.Logger, sub homgar.Subscription, qlen uint) (*Client, error) {
	if sub.MqttHostURL == "" {
		return nil, fmt.Errorf("subscription has no broker host")
	}
	if sub.DeviceName == "" || sub.ProductKey == "" || sub.DeviceSecret == "" {
		return nil, fmt.Errorf("subscription is missing broker credentials")
	}

	host, port := splitHostPort(sub.MqttHostURL)

	c := &Client{
		log:      log.WithName("push.Client"),
		sub:      sub,
		topic:    fmt.Sprintf("/%s/%s/user/status", sub.ProductKey, sub.DeviceName),
		messages: make(chan Message, qlen),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.SetClientID(sub.DeviceName)
	opts.SetUsername(fmt.Sprintf("%s&%s", sub.DeviceName, sub.ProductKey))
	opts.SetPassword(sub.DeviceSecret)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	c.mqtt = mqtt.NewClient(opts)

	c.log.Info("Push client initialized", "broker", sub.MqttHostURL, "topic", c.topic)
	return c, nil
}

func splitHostPort(hostURL string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostURL)
	if err != nil {
		return hostURL, DefaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, DefaultPort
	}
	return host, port
}

// Connect dials the broker, retrying with exponential backoff until the
// context is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	dial := func() error {
		token := c.mqtt.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("timed out connecting to push broker")
		}
		return token.Error()
	}
	err := backoff.Retry(dial, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		c.log.Error(err, "failed to connect to push broker", "broker", c.sub.MqttHostURL)
		return err
	}
	return nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.log.Info("Connected to push broker", "topic", c.topic)
	token := client.Subscribe(c.topic, 1 /*at-least-once*/, func(client mqtt.Client, msg mqtt.Message) {
		c.log.V(1).Info("Received push", "topic", msg.Topic(), "payload", string(msg.Payload()))
		select {
		case c.messages <- Message{Topic: msg.Topic(), Payload: msg.Payload()}:
		default:
			c.log.Info("Dropping push message, channel full", "topic", msg.Topic())
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error(err, "failed to subscribe", "topic", c.topic)
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	// Polling keeps working; paho reconnects in the background.
	c.log.Error(err, "Push broker connection lost")
}

// Messages returns the stream of raw push payloads.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

func (c *Client) IsConnected() bool {
	return c.mqtt.IsConnected()
}

// Subscription returns the bootstrap this client was built from.
func (c *Client) Subscription() homgar.Subscription {
	return c.sub
}

// Expired reports whether the subscription is expired, or will be within the
// renewal window, at the given time.
func (c *Client) Expired(now time.Time) bool {
	return SubscriptionExpired(c.sub, now)
}

func SubscriptionExpired(sub homgar.Subscription, now time.Time) bool {
	if sub.Expire == 0 {
		return true
	}
	expires := time.UnixMilli(sub.Expire)
	return expires.Sub(now) <= expiryLead
}

func (c *Client) Close() {
	if c.mqtt.IsConnected() {
		c.mqtt.Disconnect(250 /* milliseconds */)
	}
}

// Update is a decoded push payload. The vendor sends either a JSON object
// carrying a device identifier plus a subDeviceStatus-style id/value pair, or
// a bare "11#<hex>" string for water timers.
type Update struct {
	MID   string `json:"mid"`
	ID    string `json:"id"`
	Value string `json:"value"`
}

type rawUpdate struct {
	DeviceID json.RawMessage `json:"deviceId"`
	MID      json.RawMessage `json:"mid"`
	ID       string          `json:"id"`
	Value    string          `json:"value"`
}

// ParseUpdate decodes a push payload. Non-JSON payloads are returned as a
// value-only update for the caller to route by topic.
func ParseUpdate(payload []byte) (*Update, error) {
	var raw rawUpdate
	if err := json.Unmarshal(payload, &raw); err != nil {
		// Not JSON: water timers push bare hex status strings.
		return &Update{Value: string(payload)}, nil
	}
	u := &Update{ID: raw.ID, Value: raw.Value}
	if mid := decodeFlexible(raw.DeviceID); mid != "" {
		u.MID = mid
	} else {
		u.MID = decodeFlexible(raw.MID)
	}
	if u.MID == "" && u.Value == "" {
		return nil, fmt.Errorf("push payload carries no device identifier")
	}
	return u, nil
}

func decodeFlexible(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
