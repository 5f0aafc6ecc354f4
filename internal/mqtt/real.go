package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 32
)

// ClientID returns id, or "volume-knob-" plus a short random suffix when id
// is empty.
func ClientID(id string) string {
	if id != "" {
		return id
	}
	return "volume-knob-" + uuid.NewString()[:8]
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	base   string
	log    logrus.FieldLogger

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher connects to broker. The last will marks the knob
// OFFLINE on the system topic.
func NewRealPublisher(broker, base, clientID string, log logrus.FieldLogger) (*RealPublisher, error) {
	p := &RealPublisher{
		base:   base,
		log:    log,
		buffer: newRingBuffer(bufferCapacity, log),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventOffline,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(ClientID(clientID)).
		SetWill(SystemTopic(base), string(will), 1, true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { p.replay() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		})

	p.client = paho.NewClient(opts)
	// With ConnectRetry the token only completes once connected, so a
	// timeout leaves paho retrying in the background while we buffer.
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.WithField("broker", broker).Warn("mqtt broker not reachable yet, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		p.client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishVolume sends the volume as retained state (QoS 0).
func (p *RealPublisher) PublishVolume(event VolumeEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: StateTopic(p.base), payload: payload, retained: true})
}

// PublishSystem sends a lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: SystemTopic(p.base), payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// replay runs on every (re)connect.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	if len(pending) == 0 {
		p.log.Info("mqtt connected")
		return
	}
	p.log.WithField("buffered", len(pending)).Info("mqtt connected, replaying buffered messages")
	for _, msg := range pending {
		// Fire and forget: blocking here would stall paho's connect handler.
		p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
