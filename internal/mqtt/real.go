package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures a RealPublisher.
type Options struct {
	Broker        string // e.g. "tcp://localhost:1883"
	ClientID      string
	TopicPrefix   string
	BufferSize    int
	RetryInterval time.Duration
	ConnectWait   time.Duration // how long NewRealPublisher waits for the first connection
	Logger        *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are kept in a replay queue and resent, oldest
// first, when the client reconnects.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *slog.Logger

	mu     sync.Mutex
	queue  *replayQueue
	online bool // set once buffered messages have been replayed
}

// NewRealPublisher creates a publisher for the given broker. The client keeps
// retrying in the background; if the broker is not reachable within
// ConnectWait the publisher is still returned and starts out buffering.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "gate-timer"
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.ConnectWait <= 0 {
		o.ConnectWait = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	p := &RealPublisher{
		topics: NewTopics(o.TopicPrefix),
		log:    o.Logger,
		queue:  newReplayQueue(o.BufferSize, o.Logger),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(o.RetryInterval).
		SetMaxReconnectInterval(o.RetryInterval).
		SetBinaryWill(p.topics.System, will, 1, false).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.mu.Lock()
			p.online = false
			p.mu.Unlock()
			p.log.Warn("mqtt connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(o.ConnectWait) {
		p.log.Warn("mqtt broker not reachable yet, buffering", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishLap sends a lap to <prefix>/laps.
func (p *RealPublisher) PublishLap(event LapEvent) error {
	payload, err := FormatLapPayload(event)
	if err != nil {
		return fmt.Errorf("format lap payload: %w", err)
	}
	p.send(bufferedMsg{topic: p.topics.Laps, payload: payload, qos: 1})
	return nil
}

// PublishRace sends a race transition to <prefix>/race.
func (p *RealPublisher) PublishRace(event RaceEvent) error {
	payload, err := FormatRacePayload(event)
	if err != nil {
		return fmt.Errorf("format race payload: %w", err)
	}
	p.send(bufferedMsg{topic: p.topics.Race, payload: payload, qos: 1, retained: true})
	return nil
}

// PublishSystem sends a system lifecycle event to <prefix>/system.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	p.send(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

// PublishSystemSync sends a system event and waits for the broker to
// acknowledge it. Used for SHUTDOWN, where the process is about to exit.
func (p *RealPublisher) PublishSystemSync(event SystemEvent, timeout time.Duration) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("publish system: not connected")
	}
	token := p.client.Publish(p.topics.System, 1, event.Retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Until the replay has run, new messages queue behind the buffered ones.
	if !p.online || !p.client.IsConnectionOpen() {
		p.queue.add(msg)
		return
	}
	p.publish(msg)
}

// publish hands msg to the client without waiting for the broker.
// Must hold p.mu.
func (p *RealPublisher) publish(msg bufferedMsg) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.log.Warn("mqtt publish failed", "topic", msg.topic, "error", token.Error())
		}
	}()
}

func (p *RealPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.online = true
	msgs, dropped := p.queue.take()
	for topic, n := range dropped {
		p.log.Warn("mqtt messages lost while offline", "topic", topic, "count", n)
	}
	if len(msgs) > 0 {
		p.log.Info("mqtt connected, replaying buffered messages", "count", len(msgs))
	} else {
		p.log.Info("mqtt connected")
	}
	for _, m := range msgs {
		p.publish(m)
	}
}
