// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/registry"
)

func testPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return pubSub
}

func subscribe(t *testing.T, pubSub *gochannel.GoChannel, topic string) <-chan *message.Message {
	t.Helper()
	messages, err := pubSub.Subscribe(context.Background(), topic)
	if err != nil {
		t.Fatalf("Subscribe(%s): %v", topic, err)
	}
	return messages
}

func startBridge(t *testing.T, reg *registry.Registry, pubSub *gochannel.GoChannel, names []string) {
	t.Helper()
	b := New(reg, NewPublisher(pubSub), names, "argos", 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ready := true
		for _, name := range names {
			if reg.Subscribers(name) == 0 {
				ready = false
			}
		}
		if ready {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("bridge never registered its inboxes")
}

func TestBridgeForwardsEnvelopes(t *testing.T) {
	reg := registry.New()
	pubSub := testPubSub(t)
	messages := subscribe(t, pubSub, "argos.ops_team.monitor_data")
	startBridge(t, reg, pubSub, []string{"ops_team"})

	env := envelope.NewSuccess("mon-1", map[string]any{"status_code": 200}, time.Now())
	reg.Dispatch("ops_team", registry.Message{Tag: registry.TagMonitorData, Envelope: env})

	select {
	case msg := <-messages:
		msg.Ack()
		if got := msg.Metadata.Get("monitor_id"); got != "mon-1" {
			t.Errorf("metadata monitor_id = %q", got)
		}
		if got := msg.Metadata.Get("tag"); got != "monitor_data" {
			t.Errorf("metadata tag = %q", got)
		}
		var decoded registry.Message
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if decoded.Envelope.MonitorID != "mon-1" || decoded.Envelope.Status != envelope.StatusOK {
			t.Errorf("decoded envelope = %+v", decoded.Envelope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message forwarded")
	}
}

func TestBridgeSubjectCarriesRuleAndTag(t *testing.T) {
	reg := registry.New()
	pubSub := testPubSub(t)
	errorTopic := subscribe(t, pubSub, "argos.audit.monitor_error")
	dataTopic := subscribe(t, pubSub, "argos.audit.monitor_data")
	startBridge(t, reg, pubSub, []string{"audit"})

	reg.Dispatch("audit", registry.Message{
		Tag:      registry.TagMonitorError,
		Envelope: envelope.NewError("mon-2", envelope.TypeNetwork, "down", nil, time.Time{}),
	})

	select {
	case msg := <-errorTopic:
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("error subject never received")
	}
	select {
	case <-dataTopic:
		t.Error("error envelope leaked onto the data subject")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridgeFansInMultipleRules(t *testing.T) {
	reg := registry.New()
	pubSub := testPubSub(t)
	ops := subscribe(t, pubSub, "argos.ops_team.monitor_data")
	audit := subscribe(t, pubSub, "argos.audit.monitor_data")
	startBridge(t, reg, pubSub, []string{"ops_team", "audit"})

	env := envelope.NewSuccess("mon-3", nil, time.Now())
	reg.Dispatch("ops_team", registry.Message{Tag: registry.TagMonitorData, Envelope: env})
	reg.Dispatch("audit", registry.Message{Tag: registry.TagMonitorData, Envelope: env})

	for name, topic := range map[string]<-chan *message.Message{"ops_team": ops, "audit": audit} {
		select {
		case msg := <-topic:
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("%s subject never received", name)
		}
	}
}

func TestPublisherClose(t *testing.T) {
	pubSub := testPubSub(t)
	p := NewPublisher(pubSub)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.Publish("argos.x.monitor_data", message.NewMessage("id", nil)); err == nil {
		t.Error("Publish after Close succeeded")
	}
}
