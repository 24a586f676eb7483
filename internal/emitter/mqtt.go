// Package emitter forwards detection results, stream state and mission
// state to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/metrics"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

var ErrNotConnected = errors.New("mqtt not connected")

const publishTimeout = 2 * time.Second

// Publisher is the part of mqtt.Client the emitter needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Logger      *zap.Logger
}

// MQTTEmitter publishes JSON messages under TopicPrefix.
type MQTTEmitter struct {
	opts   Options
	client Publisher
	close  func()

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// Stats counts publishes per topic and failures.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Connect dials the broker with automatic reconnect enabled.
func Connect(ctx context.Context, opts Options) (*MQTTEmitter, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	logger := opts.Logger

	co := mqtt.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", broker), zap.String("client_id", opts.ClientID))
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, reconnecting", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		// With connect retry on, the client keeps trying in the background.
		logger.Warn("mqtt broker not reachable yet, continuing in background", zap.String("broker", broker))
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}

	e := New(client, opts)
	e.close = func() { client.Disconnect(250) }
	return e, nil
}

// New wraps an existing client.
func New(client Publisher, opts Options) *MQTTEmitter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.TopicPrefix = strings.TrimRight(opts.TopicPrefix, "/")
	return &MQTTEmitter{opts: opts, client: client, published: make(map[string]uint64)}
}

type detectionMessage struct {
	Objects    []vision.Detection `json:"objects"`
	Navigation *vision.Navigation `json:"navigation,omitempty"`
	Timestamp  int64              `json:"timestamp"`
}

// PublishDetection sends one detection result to <prefix>/detections.
func (e *MQTTEmitter) PublishDetection(res vision.Result, at time.Time) error {
	return e.publish("detections", false, detectionMessage{
		Objects:    res.Objects,
		Navigation: res.Navigation,
		Timestamp:  at.UnixMilli(),
	})
}

// PublishState sends the stream state to <prefix>/stream/state, retained so
// late subscribers see the current value.
func (e *MQTTEmitter) PublishState(s stream.State, source stream.SourceKind) error {
	return e.publish("stream/state", true, map[string]string{
		"state":  s.String(),
		"source": source.String(),
	})
}

// PublishMission sends mission state to <prefix>/mission, retained.
func (e *MQTTEmitter) PublishMission(state any) error {
	return e.publish("mission", true, state)
}

func (e *MQTTEmitter) publish(suffix string, retained bool, v any) error {
	topic := e.opts.TopicPrefix + "/" + suffix
	if !e.client.IsConnected() {
		e.fail()
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.fail()
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := e.client.Publish(topic, e.opts.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.fail()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	e.opts.Logger.Debug("mqtt published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

func (e *MQTTEmitter) fail() {
	metrics.MQTTPublishErrorsTotal.Inc()
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.client.IsConnected(), Published: published, Errors: e.errors}
}

// Close disconnects from the broker with a short grace period.
func (e *MQTTEmitter) Close() {
	if e.close != nil {
		e.close()
		e.opts.Logger.Info("mqtt disconnected")
	}
}
