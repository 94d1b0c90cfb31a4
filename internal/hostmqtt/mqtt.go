// Package hostmqtt connects to the home network's MQTT broker, where bridge
// entities are published and RPC requests arrive.
package hostmqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
)

const BrokerService = "_mqtt._tcp."

const DefaultPort = 1883

type Client struct {
	Id        string      // MQTT client_id (this client)
	mqtt      mqtt.Client // MQTT stack
	brokerUrl *url.URL    // MQTT broker to connect to
	log       logr.Logger // Logger to use
}

// NewClientE resolves the broker named by where ("host", "host:port" or ""
// for mDNS discovery falling back to localhost) and prepares a client.
func NewClientE(log logr.Logger, where string) (*Client, error) {
	clientId := fmt.Sprintf("%v%v", path.Base(os.Args[0]), os.Getpid())
	log.Info("Initializing MQTT client", "client_id", clientId)

	brokerUrl, err := lookupBroker(log, where)
	if err != nil {
		log.Error(err, "could not find MQTT broker", "where", where)
		return nil, err
	}
	log.Info("Using MQTT broker", "url", brokerUrl)

	opts := mqtt.NewClientOptions()
	opts.SetClientID(clientId)
	opts.AddBroker(brokerUrl.String())
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	c := Client{
		Id:        clientId,
		mqtt:      mqtt.NewClient(opts),
		log:       log,
		brokerUrl: brokerUrl,
	}
	c.log.Info("MQTT client initialized", "client_id", clientId)
	return &c, nil
}

func (c *Client) connect() error {
	if c.mqtt.IsConnected() {
		return nil
	}

	token := c.mqtt.Connect()
	for !token.WaitTimeout(3 * time.Second) {
		c.log.Info("MQTT client trying to connect as", "client_id", c.Id)
	}
	if err := token.Error(); err != nil {
		c.log.Error(err, "MQTT client failed to connect", "client_id", c.Id)
		return err
	}
	return nil
}

func lookupBroker(log logr.Logger, where string) (*url.URL, error) {
	if where == "" {
		if u, err := lookupBrokerViaZeroConf(log); err == nil {
			return u, nil
		}
		// No broker advertised; assume the embedded one.
		return &url.URL{Scheme: "tcp", Host: fmt.Sprintf("localhost:%d", DefaultPort)}, nil
	}

	p := strings.Split(where, ":")
	host := p[0]
	port := DefaultPort
	if len(p) > 1 {
		var err error
		port, err = strconv.Atoi(p[1])
		if err != nil {
			return nil, err
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return &url.URL{
			Scheme: "tcp",
			Host:   fmt.Sprintf("%s:%d", host, port),
		}, nil
	}

	if _, err := net.LookupHost(host); err == nil {
		return &url.URL{
			Scheme: "tcp",
			Host:   fmt.Sprintf("%s:%d", host, port),
		}, nil
	}

	return lookupBrokerViaZeroConf(log)
}

func lookupBrokerViaZeroConf(log logr.Logger) (*url.URL, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Error(err, "Failed to initialize zeroconf resolver")
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	brokers := make([]*url.URL, 0)

	go func() {
		for entry := range entries {
			// Filter-out spurious candidates
			if strings.Contains(entry.Service, BrokerService) {
				log.Info("Found MQTT broker", "addrs", entry.AddrIPv4, "port", entry.Port)
				for _, addrIpV4 := range entry.AddrIPv4 {
					brokers = append(brokers, &url.URL{
						Scheme: "tcp",
						Host:   fmt.Sprintf("%v:%v", addrIpV4, entry.Port),
					})
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	err = resolver.Browse(ctx, BrokerService, "local.", entries)
	if err != nil {
		log.Error(err, "failed to browse")
		return nil, err
	}

	<-ctx.Done()

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no MQTT broker found")
	}
	log.Info("Using MQTT", "broker", brokers[0], "service", BrokerService)
	return brokers[0], nil
}

func (c *Client) BrokerUrl() *url.URL {
	return c.brokerUrl
}

func (c *Client) IsConnected() bool {
	return c.mqtt.IsConnected()
}

func (c *Client) Close() {
	if c.mqtt.IsConnected() {
		c.mqtt.Disconnect(250 /* milliseconds */)
	}
}

type Message struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// Subscribe delivers messages for topic (wildcards allowed) on a buffered
// channel.
func (c *Client) Subscribe(topic string, qlen uint) (chan Message, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}

	mch := make(chan Message, qlen)

	c.log.Info("Subscribing to:", "topic", topic)
	token := c.mqtt.Subscribe(topic, 1 /*at-least-once*/, func(client mqtt.Client, msg mqtt.Message) {
		mch <- Message{Topic: msg.Topic(), Payload: msg.Payload()}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error(err, "failed to subscribe", "topic", topic)
		return nil, err
	}

	return mch, nil
}

func (c *Client) Unsubscribe(topic string) {
	c.log.Info("Unsubscribing:", "topic", topic)
	c.mqtt.Unsubscribe(topic)
}

// Publish sends msg to topic, retained, QoS 1.
func (c *Client) Publish(topic string, msg []byte) error {
	if err := c.connect(); err != nil {
		return err
	}
	c.log.V(1).Info("Publishing:", "topic", topic, "payload", string(msg))
	token := c.mqtt.Publish(topic, 1 /*qos:at-least-once*/, true /*retain*/, msg)
	token.Wait()
	return token.Error()
}

// PublishTransient sends msg to topic without the retain flag (for RPC
// replies and event streams).
func (c *Client) PublishTransient(topic string, msg []byte) error {
	if err := c.connect(); err != nil {
		return err
	}
	token := c.mqtt.Publish(topic, 1, false, msg)
	token.Wait()
	return token.Error()
}
