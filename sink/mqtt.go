// mqtt.go : observables and events published to an MQTT broker
package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wkazubski/gnss-sdr/gnss"
)

// MQTTConfig of the broker connection
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

// publisher is the part of mqtt.Client used by the sink
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Observation is the JSON payload of one observable
type Observation struct {
	Session          string    `json:"session"`
	Satellite        string    `json:"sat"`
	Signal           string    `json:"signal"`
	Channel          int       `json:"channel"`
	PromptI          float64   `json:"prompt_i"`
	PromptQ          float64   `json:"prompt_q"`
	CodePhaseSamples float64   `json:"code_phase_samples"`
	CarrierPhaseRads float64   `json:"carrier_phase_rad"`
	DopplerHz        float64   `json:"doppler_hz"`
	CN0dBHz          float64   `json:"cn0_dbhz"`
	CorrelationMs    int       `json:"correlation_ms"`
	SampleCount      uint64    `json:"sample_count"`
	Valid            bool      `json:"valid"`
	PLL180           bool      `json:"pll180"`
	Timestamp        time.Time `json:"timestamp"`
}

// EventMessage is the JSON payload of a channel event
type EventMessage struct {
	Session   string    `json:"session"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTT publishes to {prefix}/observables/{sat} and {prefix}/events
type MQTT struct {
	client  publisher
	config  MQTTConfig
	session string
	log     *log.Logger
	now     func() time.Time
}

// ClientID returns a unique MQTT client id
func ClientID() string {
	return "gnss_sdr_" + uuid.NewString()
}

// NewMQTT connects to the broker
func NewMQTT(config MQTTConfig, session string, logger *log.Logger) (*MQTT, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(ClientID())
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", config.Broker, token.Error())
	}
	return newMQTT(client, config, session, logger), nil
}

func newMQTT(client publisher, config MQTTConfig, session string, logger *log.Logger) *MQTT {
	return &MQTT{client: client, config: config, session: session, log: logger, now: time.Now}
}

func (m *MQTT) Observable(s gnss.Synchro) {
	sat := gnss.SatName(s.System, s.PRN)
	m.publish(fmt.Sprintf("%s/observables/%s", m.config.TopicPrefix, sat), Observation{
		Session:          m.session,
		Satellite:        sat,
		Signal:           string(s.Signal),
		Channel:          s.Channel,
		PromptI:          s.PromptI,
		PromptQ:          s.PromptQ,
		CodePhaseSamples: s.CodePhaseSamples,
		CarrierPhaseRads: s.CarrierPhaseRads,
		DopplerHz:        s.CarrierDopplerHz,
		CN0dBHz:          s.CN0dBHz,
		CorrelationMs:    s.CorrelationLengthMs,
		SampleCount:      s.TrackingSampleCount,
		Valid:            s.FlagValidSymbol,
		PLL180:           s.FlagPLL180,
		Timestamp:        m.now(),
	})
}

func (m *MQTT) Publish(ev gnss.Event) {
	m.publish(m.config.TopicPrefix+"/events", EventMessage{Session: m.session, Event: ev.String(), Timestamp: m.now()})
}

func (m *MQTT) publish(topic string, msg any) {
	if !m.client.IsConnected() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("marshal", "topic", topic, "err", err)
		return
	}
	token := m.client.Publish(topic, m.config.QoS, m.config.Retain, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			m.log.Warn("publish", "topic", topic, "err", token.Error())
		}
	}()
}

// Close disconnects from the broker
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
