package sink

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkazubski/gnss-sdr/gnss"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (doneToken) Error() error { return nil }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	msgs         []message
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic, payload.([]byte)})
	return doneToken{}
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Disconnect(uint) { f.disconnected = true }

func synchro(valid bool) gnss.Synchro {
	return gnss.Synchro{
		System: gnss.GPS, Signal: gnss.SignalL1CA, PRN: 7, Channel: 2,
		PromptI: 1200, CarrierDopplerHz: -1250, CN0dBHz: 44.5,
		CorrelationLengthMs: 1, TrackingSampleCount: 123456, FlagValidSymbol: valid,
	}
}

func TestMQTTObservable(t *testing.T) {
	fc := &fakeClient{connected: true}
	m := newMQTT(fc, MQTTConfig{TopicPrefix: "rx"}, "s1", log.New(io.Discard))
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return ts }

	m.Observable(synchro(true))
	m.Publish(gnss.EventLossOfLock)
	require.Len(t, fc.msgs, 2)

	assert.Equal(t, "rx/observables/G07", fc.msgs[0].topic)
	var obs Observation
	require.NoError(t, json.Unmarshal(fc.msgs[0].payload, &obs))
	assert.Equal(t, "s1", obs.Session)
	assert.Equal(t, "G07", obs.Satellite)
	assert.Equal(t, "1C", obs.Signal)
	assert.Equal(t, 2, obs.Channel)
	assert.Equal(t, -1250.0, obs.DopplerHz)
	assert.EqualValues(t, 123456, obs.SampleCount)
	assert.True(t, obs.Valid)
	assert.True(t, ts.Equal(obs.Timestamp))

	assert.Equal(t, "rx/events", fc.msgs[1].topic)
	var ev EventMessage
	require.NoError(t, json.Unmarshal(fc.msgs[1].payload, &ev))
	assert.Equal(t, "LOSS_OF_LOCK", ev.Event)

	m.Close()
	assert.True(t, fc.disconnected)
}

func TestMQTTDisconnectedDrops(t *testing.T) {
	fc := &fakeClient{}
	m := newMQTT(fc, MQTTConfig{TopicPrefix: "rx"}, "s1", log.New(io.Discard))
	m.Observable(synchro(true))
	assert.Empty(t, fc.msgs)
	m.Close()
	assert.False(t, fc.disconnected)
}

func TestClientID(t *testing.T) {
	a, b := ClientID(), ClientID()
	assert.True(t, strings.HasPrefix(a, "gnss_sdr_"))
	assert.NotEqual(t, a, b)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(log.New(&buf), 10)
	for k := 0; k < 25; k++ {
		l.Observable(synchro(true))
	}
	assert.Equal(t, 3, strings.Count(buf.String(), "observable"))

	buf.Reset()
	l.Observable(synchro(false))
	l.Publish(gnss.EventPositiveAcq)
	out := buf.String()
	assert.Contains(t, out, "invalid observable")
	assert.Contains(t, out, "POSITIVE_ACQ")
}

type countSink struct{ obs, evs int }

func (c *countSink) Observable(gnss.Synchro) { c.obs++ }
func (c *countSink) Publish(gnss.Event)      { c.evs++ }

func TestMulti(t *testing.T) {
	a, b := &countSink{}, &countSink{}
	m := Multi{a, b}
	m.Observable(synchro(true))
	m.Publish(gnss.EventStop)
	assert.Equal(t, 1, a.obs)
	assert.Equal(t, 1, b.evs)
}
