package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/pipeline"
	"github.com/banshee-data/nightwatchman/internal/timeutil"
)

const (
	// DefaultTopicPrefix is the Home Assistant topic root.
	DefaultTopicPrefix = "home/nightwatchman"
	// DefaultClientID is the MQTT client identifier.
	DefaultClientID = "nightwatchman"

	stateInitializing = "INITIALIZING"
	stateOffline      = "OFFLINE"
	alertPayload      = "PERSON_SITTING_UP"
)

// ErrNotConnected is returned by MQTTSink.Publish while the broker is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Broker is the subset of mqtt.Client used by MQTTSink.
type Broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Commander receives remote gate commands. *pipeline.Pipeline implements it.
type Commander interface {
	Command(cmd gate.Command) (gate.State, []pipeline.Event)
}

// MQTTConfig configures DialMQTT.
type MQTTConfig struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Topics are the MQTT topic names under a prefix.
type Topics struct {
	State   string // gate state, retained
	Posture string // posture alert state, retained
	Alert   string // PERSON_SITTING_UP, not retained
	Stats   string // JSON counters, retained
	Command string // inbound start|stop|pause|resume
}

// TopicsFor returns the topic layout under prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	return Topics{
		State:   prefix + "/state",
		Posture: prefix + "/posture",
		Alert:   prefix + "/alert",
		Stats:   prefix + "/stats",
		Command: prefix + "/command",
	}
}

// MQTTSink publishes gate and posture state for Home Assistant and accepts
// remote commands.
type MQTTSink struct {
	log       *zap.Logger
	client    Broker
	topics    Topics
	qos       byte
	timeout   time.Duration
	commander Commander
	started   time.Time
}

// NewMQTTSink wraps an already connected client. Call Start to subscribe to
// commands and announce the service.
func NewMQTTSink(log *zap.Logger, client Broker, cfg MQTTConfig, commander Commander) *MQTTSink {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTSink{
		log:       log,
		client:    client,
		topics:    TopicsFor(cfg.TopicPrefix),
		qos:       cfg.QoS,
		timeout:   cfg.ConnectTimeout,
		commander: commander,
		started:   time.Now(),
	}
}

// DialMQTT connects to the broker with a retained OFFLINE last will and
// returns a started sink. The command subscription and the INITIALIZING
// announcement are repeated after every reconnect.
func DialMQTT(log *zap.Logger, cfg MQTTConfig, commander Commander) (*MQTTSink, error) {
	cfg = cfg.withDefaults()
	topics := TopicsFor(cfg.TopicPrefix)

	var sink *MQTTSink
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(topics.State, stateOffline, cfg.QoS, true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if err := sink.Start(); err != nil {
			sink.log.Warn("mqtt on-connect setup failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	sink = NewMQTTSink(log, client, cfg, commander)

	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	log.Info("connected to mqtt broker", zap.String("broker", cfg.Broker), zap.String("prefix", cfg.TopicPrefix))
	return sink, nil
}

// Topics returns the sink's topic layout.
func (s *MQTTSink) Topics() Topics { return s.topics }

// Start subscribes to the command topic and publishes INITIALIZING.
func (s *MQTTSink) Start() error {
	if s.commander != nil {
		token := s.client.Subscribe(s.topics.Command, s.qos, s.onCommand)
		if err := s.wait(token); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.topics.Command, err)
		}
	}
	return s.publish(s.topics.State, true, stateInitializing)
}

func (s *MQTTSink) onCommand(_ mqtt.Client, msg mqtt.Message) {
	raw := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
	cmd, err := gate.ParseCommand(raw)
	if err != nil {
		s.log.Warn("ignoring mqtt command", zap.String("topic", msg.Topic()), zap.String("payload", raw), zap.Error(err))
		return
	}
	state, _ := s.commander.Command(cmd)
	s.log.Info("mqtt command applied", zap.String("command", string(cmd)), zap.String("gate", string(state)))
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Publish maps an event onto the Home Assistant topics.
func (s *MQTTSink) Publish(_ context.Context, ev pipeline.Event) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	switch ev.Kind {
	case pipeline.EventGate:
		return s.publish(s.topics.State, true, string(ev.Gate))
	case pipeline.EventPosture:
		if ev.Posture == nil {
			return nil
		}
		return s.publish(s.topics.Posture, true, string(ev.Posture.To))
	case pipeline.EventAlert:
		return s.publish(s.topics.Alert, false, alertPayload)
	}
	return nil
}

// Stats is the retained statistics payload.
type Stats struct {
	AlertCount    int    `json:"alert_count"`
	FrameCount    uint64 `json:"frame_count"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// NewStats builds the statistics payload from a snapshot.
func NewStats(snap pipeline.Snapshot) Stats {
	up := int64(snap.Uptime)
	return Stats{
		AlertCount:    snap.AlertCount,
		FrameCount:    snap.FrameCount,
		Uptime:        fmt.Sprintf("%02d:%02d:%02d", up/3600, up%3600/60, up%60),
		UptimeSeconds: up,
		Timestamp:     snap.Timestamp.Format(time.RFC3339),
	}
}

// PublishStats publishes counters from snap to the retained stats topic.
func (s *MQTTSink) PublishStats(snap pipeline.Snapshot) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	b, err := json.Marshal(NewStats(snap))
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return s.publish(s.topics.Stats, true, b)
}

// RunStats publishes stats from snap every interval of clock until ctx is
// done. Publish failures are logged and the loop continues.
func (s *MQTTSink) RunStats(ctx context.Context, clock timeutil.Clock, every time.Duration, snap func() pipeline.Snapshot) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			if err := s.PublishStats(snap()); err != nil {
				s.log.Warn("publishing mqtt stats", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *MQTTSink) publish(topic string, retained bool, payload any) error {
	if err := s.wait(s.client.Publish(topic, s.qos, retained, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) wait(token mqtt.Token) error {
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("timed out after %s", s.timeout)
	}
	return token.Error()
}

// Close publishes OFFLINE and disconnects.
func (s *MQTTSink) Close() error {
	var err error
	if s.client.IsConnected() {
		err = s.publish(s.topics.State, true, stateOffline)
	}
	s.client.Disconnect(250)
	return err
}
