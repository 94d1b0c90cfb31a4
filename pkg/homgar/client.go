package homgar

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// <https://region3.homgarus.com> is the cloud endpoint the official app talks to.
const DefaultBaseURL = "https://region3.homgarus.com"

const DefaultAreaCode = "31"

const apiTimeout = 10 * time.Second

// Token is refreshed when it expires within this window.
const tokenExpiryLead = 60 * time.Minute

// APIError is a non-zero business code returned by the HomGar cloud.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("HomGar API returned code %d", e.Code)
	if e.Msg != "" {
		s += fmt.Sprintf(" (%q)", e.Msg)
	}
	return s
}

// AuthCache holds a login session. It serializes to JSON so the daemon can
// persist it and resume without logging in again.
type AuthCache struct {
	Email        string    `json:"email"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	TokenExpires time.Time `json:"tokenExpires"`
}

// Client talks to the HomGar cloud HTTP API.
type Client struct {
	http *http.Client
	base string
	log  logr.Logger

	mu   sync.Mutex
	auth AuthCache
}

// NewClient returns a client for the given API base URL (no trailing slash).
// An empty baseURL selects DefaultBaseURL.
func NewClient(log logr.Logger, baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: apiTimeout}
	}
	return &Client{
		http: hc,
		base: strings.TrimSuffix(baseURL, "/"),
		log:  log.WithName("homgar.Client"),
	}
}

// Auth returns a copy of the current session.
func (c *Client) Auth() AuthCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

// SetAuth restores a previously persisted session.
func (c *Client) SetAuth(auth AuthCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = auth
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) requestJSON(ctx context.Context, method, path string, query url.Values, body any, withAuth bool, out any) error {
	requestURL := c.base + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		c.log.Error(err, "error creating HTTP request", "method", method, "url", requestURL)
		return err
	}
	req.Header.Set("lang", "en")
	req.Header.Set("appCode", "1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withAuth {
		c.mu.Lock()
		token := c.auth.Token
		c.mu.Unlock()
		if token == "" {
			return fmt.Errorf("not logged in")
		}
		req.Header.Set("auth", token)
	}

	c.log.V(1).Info("Calling", "method", method, "url", requestURL)
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Error(err, "HTTP error", "method", method, "url", requestURL)
		return err
	}
	defer res.Body.Close()
	c.log.V(1).Info("status code", "code", res.StatusCode)

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		c.log.Error(err, "HTTP error decoding response", "url", requestURL)
		return err
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.log.Error(err, "error decoding response data", "url", requestURL)
			return err
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.requestJSON(ctx, http.MethodGet, path, query, nil, true, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	return c.requestJSON(ctx, http.MethodPost, path, nil, body, true, out)
}

type loginResponse struct {
	Token        string `json:"token"`
	TokenExpired int64  `json:"tokenExpired"` // seconds from now
	RefreshToken string `json:"refreshToken"`
}

// Login performs a fresh login. areaCode is the phone country code associated
// with the account, e.g. "31" for NL.
func (c *Client) Login(ctx context.Context, email, password, areaCode string) error {
	if areaCode == "" {
		areaCode = DefaultAreaCode
	}

	sum := md5.Sum([]byte(password))

	deviceID := make([]byte, 16)
	if _, err := rand.Read(deviceID); err != nil {
		return err
	}

	var data loginResponse
	err := c.requestJSON(ctx, http.MethodPost, "/auth/basic/app/login", nil, map[string]string{
		"areaCode":     areaCode,
		"phoneOrEmail": email,
		"password":     hex.EncodeToString(sum[:]),
		"deviceId":     hex.EncodeToString(deviceID),
	}, false, &data)
	if err != nil {
		c.log.Error(err, "login failed", "email", email)
		return err
	}

	c.mu.Lock()
	c.auth = AuthCache{
		Email:        email,
		Token:        data.Token,
		RefreshToken: data.RefreshToken,
		TokenExpires: time.Now().Add(time.Duration(data.TokenExpired) * time.Second),
	}
	c.mu.Unlock()

	c.log.Info("Logged in", "email", email, "token_expires", c.Auth().TokenExpires)
	return nil
}

// EnsureLoggedIn verifies the cached token and logs in again when it is
// missing, belongs to another account, or expires soon.
func (c *Client) EnsureLoggedIn(ctx context.Context, email, password, areaCode string) error {
	c.mu.Lock()
	valid := c.auth.Email == email && time.Until(c.auth.TokenExpires) >= tokenExpiryLead
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.Login(ctx, email, password, areaCode)
}

// Home is a HomGar home. A home owns a number of hubs, each of which gateways
// sensors and actuators (subdevices).
type Home struct {
	HID  string `json:"hid"`
	Name string `json:"name"`
}

type homeRecord struct {
	HID      flexID `json:"hid"`
	HomeName string `json:"homeName"`
}

// Homes lists all homes associated with the logged-in account.
func (c *Client) Homes(ctx context.Context) ([]Home, error) {
	var records []homeRecord
	if err := c.getJSON(ctx, "/app/member/appHome/list", nil, &records); err != nil {
		return nil, err
	}
	homes := make([]Home, 0, len(records))
	for _, r := range records {
		homes = append(homes, Home{HID: string(r.HID), Name: r.HomeName})
	}
	return homes, nil
}

type deviceRecord struct {
	Model      string         `json:"model"`
	ModelCode  int            `json:"modelCode"`
	Name       string         `json:"name"`
	DID        int64          `json:"did"`
	MID        flexID         `json:"mid"`
	Addr       int            `json:"addr"`
	PortNumber int            `json:"portNumber"`
	Alerts     int            `json:"alerts"`
	DeviceName string         `json:"deviceName"` // hub record only
	ProductKey string         `json:"productKey"` // hub record only
	SubDevices []deviceRecord `json:"subDevices"`
}

func (r deviceRecord) info() DeviceInfo {
	return DeviceInfo{
		Model:      r.Model,
		ModelCode:  r.ModelCode,
		Name:       r.Name,
		DID:        r.DID,
		MID:        string(r.MID),
		Address:    r.Addr,
		PortNumber: r.PortNumber,
		Alerts:     r.Alerts,
	}
}

// DevicesForHome retrieves the device tree of the home identified by hid: a
// list of hubs, each carrying the subdevices that use it as gateway.
func (c *Client) DevicesForHome(ctx context.Context, hid string) ([]*Hub, error) {
	var records []deviceRecord
	query := url.Values{"hid": []string{hid}}
	if err := c.getJSON(ctx, "/app/device/getDeviceByHid", query, &records); err != nil {
		return nil, err
	}

	hubs := make([]*Hub, 0, len(records))
	for _, hubRecord := range records {
		subdevices := make([]Device, 0, len(hubRecord.SubDevices))
		for _, sub := range hubRecord.SubDevices {
			if sub.DID == 1 {
				// the hub's own display entry
				continue
			}
			dev := newSubdevice(sub.info(), hubRecord.DeviceName, hubRecord.ProductKey)
			if dev == nil {
				c.log.Info("Unknown device", "model", sub.Model, "model_code", sub.ModelCode)
				continue
			}
			subdevices = append(subdevices, dev)
		}
		hubs = append(hubs, newHub(hubRecord.info(), hubRecord.DeviceName, hubRecord.ProductKey, subdevices))
	}
	return hubs, nil
}

type statusEntry struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type statusResponse struct {
	SubDeviceStatus []statusEntry `json:"subDeviceStatus"`
}

// DeviceStatus refreshes the status of the hub and all its subdevices.
func (c *Client) DeviceStatus(ctx context.Context, hub *Hub) error {
	var data statusResponse
	query := url.Values{"mid": []string{hub.MID}}
	if err := c.getJSON(ctx, "/app/device/getDeviceStatus", query, &data); err != nil {
		return err
	}

	byID := make(map[string]Device)
	for _, dev := range append([]Device{hub}, hub.Subdevices...) {
		for _, id := range dev.StatusIDs() {
			byID[id] = dev
		}
	}

	for _, entry := range data.SubDeviceStatus {
		dev, ok := byID[entry.ID]
		if !ok {
			continue
		}
		if err := dev.ApplyStatus(entry.ID, entry.Value); err != nil {
			c.log.Error(err, "failed to apply device status", "id", entry.ID, "value", entry.Value)
		}
	}
	return nil
}

// ControlRequest switches the work mode of one port (zone) of a device.
type ControlRequest struct {
	DeviceName string `json:"deviceName"`
	ProductKey string `json:"productKey"`
	MID        string `json:"mid"`
	Addr       int    `json:"addr"`
	Port       int    `json:"port"`
	Mode       int    `json:"mode"`     // 0 = off, 1 = on
	Duration   int    `json:"duration"` // seconds, 0 for indefinite
	Param      string `json:"param"`
}

// ControlWorkMode issues an irrigation command.
func (c *Client) ControlWorkMode(ctx context.Context, req ControlRequest) error {
	return c.postJSON(ctx, "/app/device/controlWorkMode", req, nil)
}

// SubscribeTarget identifies a hub for push subscriptions.
type SubscribeTarget struct {
	DeviceName string `json:"deviceName"`
	MID        string `json:"mid"`
	ProductKey string `json:"productKey"`
}

// Subscription is the broker bootstrap returned by the subscribe call. The
// credentials follow the Alibaba Cloud IoT convention.
type Subscription struct {
	MqttHostURL  string `json:"mqttHostUrl"`
	DeviceName   string `json:"deviceName"`
	ProductKey   string `json:"productKey"`
	DeviceSecret string `json:"deviceSecret"`
	Expire       int64  `json:"expire"` // milliseconds since epoch
}

// PushProductKey identifies this application for push registration. The
// official app obtains it out of band; it is overridable via configuration.
var PushProductKey = "push_product_key_placeholder"

// SubscribeStatus registers for real-time status updates of the given hubs.
func (c *Client) SubscribeStatus(ctx context.Context, hid string, hids []string, targets []SubscribeTarget) (*Subscription, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no devices to subscribe to")
	}

	subscriberID := strings.ReplaceAll(uuid.NewString(), "-", "")

	body := map[string]any{
		"hid":         hid,
		"hidList":     hids,
		"subscribe":   targets,
		"unsubscribe": []SubscribeTarget{},
		"userInfo": map[string]any{
			"deviceName": subscriberID[:20],
			"deviceType": 1,
			"notice":     0,
			"productKey": PushProductKey,
			"pushId":     strings.ReplaceAll(uuid.NewString(), "-", ""),
		},
	}

	var sub Subscription
	if err := c.postJSON(ctx, "/app/device/subscribeStatus", body, &sub); err != nil {
		c.log.Error(err, "failed to subscribe to device status", "hid", hid)
		return nil, err
	}
	if sub.MqttHostURL == "" {
		c.log.Info("Subscription response missing broker host", "hid", hid)
	}
	return &sub, nil
}

// flexID tolerates vendor identifiers that arrive as either JSON strings or
// numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) Int64() int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}
