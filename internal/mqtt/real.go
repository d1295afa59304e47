package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/button-sensor/internal/logic"
)

// bufferCapacity bounds the messages kept while the broker is unreachable.
const bufferCapacity = 256

// RealPublisher publishes to an actual MQTT broker.
// Messages published while disconnected are buffered and replayed in order
// once the client reconnects.
type RealPublisher struct {
	client paho.Client
	topic  string

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool // true once the first connection has been made
	replaying bool // onConnect is draining the buffer
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// cannot be reached within the connect timeout the publisher is still
// returned; it keeps retrying in the background and buffers messages.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{
		topic:  Topic,
		buffer: newRingBuffer(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "LWT", Timestamp: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warnf("mqtt: broker %s not reachable yet, buffering until connected", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect replays buffered messages. On reconnects it also announces
// RECONNECTED on the system topic. Live publishes keep going to the buffer
// until it has been emptied so they cannot overtake older messages.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	p.replaying = true
	dropped := p.buffer.droppedCount()
	queued := p.buffer.len()
	p.mu.Unlock()

	if queued > 0 {
		log.Infof("mqtt: connected, replaying %d buffered messages (%d dropped)", queued, dropped)
	} else {
		log.Infof("mqtt: connected")
	}

	for {
		p.mu.Lock()
		pending := p.buffer.drainAll()
		if len(pending) == 0 {
			p.replaying = false
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		for i, msg := range pending {
			err := p.send(msg)
			if err == nil {
				continue
			}
			if !p.client.IsConnectionOpen() {
				p.mu.Lock()
				p.requeue(pending[i:])
				p.replaying = false
				p.mu.Unlock()
				log.Warnf("mqtt: connection lost during replay, %d messages kept: %v", len(pending)-i, err)
				return
			}
			log.Warnf("mqtt: replay to %s failed: %v", msg.topic, err)
		}
	}

	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err == nil {
			err = p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1})
		}
		if err != nil {
			log.Warnf("mqtt: publish reconnect event: %v", err)
		}
	}
}

// requeue puts msgs back in front of anything buffered since they were
// drained. Caller must hold p.mu.
func (p *RealPublisher) requeue(msgs []bufferedMsg) {
	newer := p.buffer.drainAll()
	for _, m := range msgs {
		p.buffer.push(m)
	}
	for _, m := range newer {
		p.buffer.push(m)
	}
}

// Publish sends a button event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() || p.replaying || p.buffer.len() > 0 {
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.send(msg)
	if err != nil && !p.client.IsConnectionOpen() {
		// Dropped between the check and the send; keep it for the replay.
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		log.Warnf("mqtt: connection lost while publishing to %s, buffered", msg.topic)
		return nil
	}
	return err
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
