package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/rover"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/internal/vision"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t fakeToken) Wait() bool                     { return !t.timeout }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	token     fakeToken
	msgs      []message
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{topic, qos, retained, payload.([]byte)})
	return c.token
}

func TestPublishDetection(t *testing.T) {
	c := &fakeClient{connected: true}
	e := New(c, Options{TopicPrefix: "rover/", QoS: 1})

	res := vision.Result{
		Objects:    []vision.Detection{{Class: "balloon", Confidence: 0.8}},
		Navigation: &vision.Navigation{Action: vision.ActionTurnLeft, Message: "balloon left"},
	}
	if err := e.PublishDetection(res, time.UnixMilli(1234)); err != nil {
		t.Fatal(err)
	}
	if len(c.msgs) != 1 {
		t.Fatalf("msgs = %d", len(c.msgs))
	}
	m := c.msgs[0]
	if m.topic != "rover/detections" || m.qos != 1 || m.retained {
		t.Errorf("message = %+v", m)
	}
	var got detectionMessage
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Timestamp != 1234 || got.Objects[0].Class != "balloon" || got.Navigation.Action != vision.ActionTurnLeft {
		t.Errorf("payload = %+v", got)
	}
	if s := e.Stats(); s.Published["rover/detections"] != 1 || !s.Connected {
		t.Errorf("stats = %+v", s)
	}
}

func TestPublishStateIsRetained(t *testing.T) {
	c := &fakeClient{connected: true}
	e := New(c, Options{TopicPrefix: "rover"})
	if err := e.PublishState(stream.Connected, stream.RemoteCamera); err != nil {
		t.Fatal(err)
	}
	m := c.msgs[0]
	if m.topic != "rover/stream/state" || !m.retained || string(m.payload) != `{"source":"remote","state":"CONNECTED"}` {
		t.Errorf("message = %+v payload=%s", m, m.payload)
	}
}

func TestPublishMissionCarriesLog(t *testing.T) {
	c := &fakeClient{connected: true}
	e := New(c, Options{TopicPrefix: "rover"})
	st := rover.State{Target: "BLACK", Log: []rover.LogEntry{{Timestamp: "10:00:00", Text: "landed"}}}
	if err := e.PublishMission(st); err != nil {
		t.Fatal(err)
	}
	var got rover.State
	if err := json.Unmarshal(c.msgs[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if c.msgs[0].topic != "rover/mission" || !c.msgs[0].retained || len(got.Log) != 1 || got.Log[0].Text != "landed" {
		t.Errorf("message = %+v payload=%s", c.msgs[0], c.msgs[0].payload)
	}
}

func TestPublishFailures(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		want   error
	}{
		{"disconnected", &fakeClient{}, ErrNotConnected},
		{"broker error", &fakeClient{connected: true, token: fakeToken{err: errors.New("not authorized")}}, nil},
		{"timeout", &fakeClient{connected: true, token: fakeToken{timeout: true}}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(tc.client, Options{TopicPrefix: "rover"})
			err := e.PublishMission(map[string]bool{"autonomous": true})
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if s := e.Stats(); s.Errors != 1 || len(s.Published) != 0 {
				t.Errorf("stats = %+v", s)
			}
		})
	}
}
