// Package metrics exposes the published entity states in Prometheus text
// format over HTTP.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/homgar/bridge/internal/hostmqtt"
)

// MetricsCache stores the latest metric line for each entity
type MetricsCache struct {
	mu      sync.RWMutex
	metrics map[string]string // entity unique_id -> metric line
}

func NewMetricsCache() *MetricsCache {
	return &MetricsCache{
		metrics: make(map[string]string),
	}
}

func (mc *MetricsCache) Set(entityID, metric string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if metric == "" {
		delete(mc.metrics, entityID)
		return
	}
	mc.metrics[entityID] = metric
}

func (mc *MetricsCache) GetAll() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	ids := make([]string, 0, len(mc.metrics))
	for id := range mc.metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(mc.metrics[id])
	}
	return sb.String()
}

// entityPayload is the subset of the published entity JSON the exporter
// cares about.
type entityPayload struct {
	UniqueID string `json:"unique_id"`
	Kind     string `json:"kind"`
	Key      string `json:"key"`
	State    any    `json:"state"`
	Unit     string `json:"unit"`
}

// Exporter handles MQTT subscription and HTTP serving for Prometheus metrics
type Exporter struct {
	mqttClient   *hostmqtt.Client
	cache        *MetricsCache
	httpServer   *http.Server
	mqttTopic    string
	httpAddr     string
	log          logr.Logger
	ctx          context.Context
	subscription chan hostmqtt.Message
}

// NewExporter creates a new metrics exporter watching the given topic prefix
func NewExporter(ctx context.Context, log logr.Logger, mqttClient *hostmqtt.Client, mqttTopic, httpAddr string) *Exporter {
	return &Exporter{
		ctx:        ctx,
		mqttClient: mqttClient,
		cache:      NewMetricsCache(),
		mqttTopic:  mqttTopic,
		httpAddr:   httpAddr,
		log:        log.WithName("MetricsExporter"),
	}
}

// Start begins the metrics exporter service
func (e *Exporter) Start() error {
	topic := e.mqttTopic + "/#"
	sub, err := e.mqttClient.Subscribe(topic, 8)
	if err != nil {
		return fmt.Errorf("failed to subscribe to MQTT topic %s: %w", topic, err)
	}
	e.subscription = sub
	e.log.Info("Subscribed to MQTT topic", "topic", topic)

	go e.processMessages()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", e.handleMetrics)
	mux.HandleFunc("/health", e.handleHealth)

	e.httpServer = &http.Server{
		Addr:    e.httpAddr,
		Handler: mux,
	}

	go func() {
		e.log.Info("Starting HTTP server for Prometheus metrics", "addr", e.httpAddr)
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.Error(err, "HTTP server error")
		}
	}()

	return nil
}

func (e *Exporter) processMessages() {
	for {
		select {
		case <-e.ctx.Done():
			e.log.Info("Stopping message processor")
			return
		case msg, ok := <-e.subscription:
			if !ok {
				e.log.Info("Subscription channel closed")
				return
			}
			e.handleMessage(msg)
		}
	}
}

func (e *Exporter) handleMessage(msg hostmqtt.Message) {
	var entity entityPayload
	if err := json.Unmarshal(msg.Payload, &entity); err != nil {
		e.log.V(1).Info("Ignoring non-entity payload", "topic", msg.Topic)
		return
	}
	if entity.UniqueID == "" {
		return
	}
	e.cache.Set(entity.UniqueID, promLine(entity))
	e.log.V(1).Info("Received entity", "unique_id", entity.UniqueID)
}

// promLine converts one entity state to a Prometheus gauge sample. States
// without a numeric reading map to 0/1 where possible, or nothing.
func promLine(entity entityPayload) string {
	value, ok := numericState(entity.State)
	if !ok {
		return ""
	}
	name := "homgar_" + sanitize(entity.Key)
	return fmt.Sprintf("%s{entity=%q} %v\n", name, entity.UniqueID, value)
}

func numericState(state any) (float64, bool) {
	switch v := state.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		switch v {
		case "on", "connected":
			return 1, true
		case "off", "off_recent", "off_idle", "disconnected":
			return 0, true
		}
	}
	return 0, false
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return '_'
	}, key)
}

// Stop shuts down the metrics exporter
func (e *Exporter) Stop() error {
	e.log.Info("Shutting down metrics exporter")

	if e.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	e.mqttClient.Unsubscribe(e.mqttTopic + "/#")
	return nil
}

func (e *Exporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprint(w, e.cache.GetAll())
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK\n")
}
