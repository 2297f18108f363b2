package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ibs-source/ledger-consumer/internal/config"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/queue"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeBroker struct {
	token        *fakeToken
	topic        string
	qos          byte
	payload      []byte
	connected    bool
	disconnected bool
}

func (b *fakeBroker) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	b.topic = topic
	b.qos = qos
	b.payload, _ = payload.([]byte)
	return b.token
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Disconnect(uint) { b.disconnected = true }

func newTestPublisher(broker *fakeBroker, writeTimeout time.Duration) *Client {
	cfg := &config.MQTTConfig{
		DispositionTopic:  "ledger/dispositions",
		QoS:               1,
		WriteTimeout:      writeTimeout,
		DisconnectTimeout: 250,
	}
	return newClient(broker, cfg, log.NewWithOutput(io.Discard))
}

func sampleEvent() queue.Event {
	return queue.Event{
		MessageID:     "1-0",
		Stream:        "ledger-transactions",
		Disposition:   queue.DeadLettered,
		Reason:        "account 5 not found",
		DeliveryCount: 2,
		Body:          []byte(`{"MessageType":"Debit","Amount":5}`),
		At:            time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestEncodeEvent(t *testing.T) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(encodeEvent(sampleEvent()), &parsed); err != nil {
		t.Fatalf("encodeEvent produced invalid JSON: %v", err)
	}

	want := map[string]interface{}{
		"message_id":     "1-0",
		"stream":         "ledger-transactions",
		"disposition":    "dead_letter",
		"reason":         "account 5 not found",
		"delivery_count": float64(2),
		"final":          true,
		"at":             "2025-03-04T05:06:07Z",
	}
	for k, v := range want {
		if parsed[k] != v {
			t.Errorf("%s = %v; want %v", k, parsed[k], v)
		}
	}
	if _, ok := parsed["outcome"]; ok {
		t.Error("outcome present on a dead-lettered event")
	}
	body, ok := parsed["body"].(map[string]interface{})
	if !ok {
		t.Fatalf("body = %v; want embedded object", parsed["body"])
	}
	if body["MessageType"] != "Debit" {
		t.Errorf("body.MessageType = %v; want Debit", body["MessageType"])
	}
}

func TestEncodeEvent_AbandonedWithInvalidBody(t *testing.T) {
	ev := queue.Event{MessageID: "3-0", Disposition: queue.Abandoned, Body: []byte("not json"), DeliveryCount: 4}

	var parsed map[string]interface{}
	if err := json.Unmarshal(encodeEvent(ev), &parsed); err != nil {
		t.Fatalf("encodeEvent produced invalid JSON: %v", err)
	}
	if parsed["final"] != false {
		t.Errorf("final = %v; want false", parsed["final"])
	}
	if _, ok := parsed["body"]; ok {
		t.Error("invalid JSON body was embedded")
	}
}

func TestEncodeEvent_Completed(t *testing.T) {
	ev := queue.Event{MessageID: "2-0", Disposition: queue.Completed, Outcome: "duplicate", DeliveryCount: 1}

	var parsed map[string]interface{}
	if err := json.Unmarshal(encodeEvent(ev), &parsed); err != nil {
		t.Fatalf("encodeEvent produced invalid JSON: %v", err)
	}
	if parsed["outcome"] != "duplicate" {
		t.Errorf("outcome = %v; want duplicate", parsed["outcome"])
	}
	if _, ok := parsed["reason"]; ok {
		t.Error("reason present on a completed event")
	}
}

func TestPublishDisposition(t *testing.T) {
	broker := &fakeBroker{token: completedToken(nil)}
	c := newTestPublisher(broker, time.Second)

	if err := c.PublishDisposition(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("PublishDisposition() error = %v", err)
	}
	if broker.topic != "ledger/dispositions" {
		t.Errorf("topic = %s; want ledger/dispositions", broker.topic)
	}
	if broker.qos != 1 {
		t.Errorf("qos = %d; want 1", broker.qos)
	}
	if len(broker.payload) == 0 {
		t.Error("payload is empty")
	}
}

func TestPublishDisposition_BrokerError(t *testing.T) {
	broker := &fakeBroker{token: completedToken(errors.New("not authorized"))}
	c := newTestPublisher(broker, time.Second)

	if err := c.PublishDisposition(context.Background(), sampleEvent()); err == nil {
		t.Fatal("PublishDisposition() error = nil; want broker error")
	}
}

func TestPublishDisposition_Timeout(t *testing.T) {
	broker := &fakeBroker{token: &fakeToken{done: make(chan struct{})}}
	c := newTestPublisher(broker, 10*time.Millisecond)

	err := c.PublishDisposition(context.Background(), sampleEvent())
	if err == nil || err.Error() != "mqtt publish timeout" {
		t.Fatalf("PublishDisposition() error = %v; want timeout", err)
	}
}

func TestPublishDisposition_ContextCancelled(t *testing.T) {
	broker := &fakeBroker{token: &fakeToken{done: make(chan struct{})}}
	c := newTestPublisher(broker, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.PublishDisposition(ctx, sampleEvent()); !errors.Is(err, context.Canceled) {
		t.Fatalf("PublishDisposition() error = %v; want context.Canceled", err)
	}
}

func TestClose(t *testing.T) {
	broker := &fakeBroker{connected: true}
	c := newTestPublisher(broker, time.Second)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !broker.disconnected {
		t.Error("Close() did not disconnect a connected client")
	}

	idle := &fakeBroker{}
	if err := newTestPublisher(idle, time.Second).Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if idle.disconnected {
		t.Error("Close() disconnected a client that was not connected")
	}
}
