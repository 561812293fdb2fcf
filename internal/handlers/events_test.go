package handlers_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fosslife/rykard/internal/testutil"
)

func TestDockerEventSubscription(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "subscribe_to_docker_events")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("subscribe failed: %v", resp)
	}

	// The ack confirms the relay exists, not that the engine stream is
	// registered yet, so publish repeatedly until one comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.Daemon.PublishContainerEvent("start", "web")
			}
		}
	}()

	type eventPayload struct {
		Type   string `json:"type"`
		Action string `json:"action"`
		Actor  struct {
			ID         string            `json:"id"`
			Attributes map[string]string `json:"attributes"`
		} `json:"actor"`
		Time int64 `json:"time"`
	}

	var evt eventPayload
	if err := json.Unmarshal(env.WaitForEvent(t, conn, "docker-event"), &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != "container" || evt.Action != "start" {
		t.Errorf("event = %s/%s, want container/start", evt.Type, evt.Action)
	}
	if evt.Actor.Attributes["name"] != "web" {
		t.Errorf("actor attributes = %v", evt.Actor.Attributes)
	}
	if evt.Time == 0 {
		t.Error("event time is zero")
	}
}

func TestDockerEventUnsubscribe(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "subscribe_to_docker_events")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("subscribe failed: %v", resp)
	}

	resp = env.SendAndReceive(t, conn, "unsubscribe_docker_events")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("unsubscribe failed: %v", resp)
	}
	if had, _ := resp["subscribed"].(bool); !had {
		t.Error("expected subscribed=true on first unsubscribe")
	}

	// Give the relay a moment to wind down, then verify nothing is
	// forwarded anymore.
	env.DrainPushes(t, conn, 300*time.Millisecond)
	env.Daemon.PublishContainerEvent("start", "web")
	env.Daemon.PublishContainerEvent("stop", "web")
	env.AssertNoEvent(t, conn, "docker-event", 500*time.Millisecond)

	resp = env.SendAndReceive(t, conn, "unsubscribe_docker_events")
	if had, _ := resp["subscribed"].(bool); had {
		t.Error("expected subscribed=false on second unsubscribe")
	}
}

func TestDockerEventResubscribeReplaces(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "subscribe_to_docker_events")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("subscribe failed: %v", resp)
	}

	// Resubscribing replaces the old relay instead of doubling deliveries.
	resp = env.SendAndReceive(t, conn, "subscribe_to_docker_events")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("resubscribe failed: %v", resp)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.Daemon.PublishContainerEvent("die", "cache")
			}
		}
	}()

	// Exactly one relay is live: the next docker-event is a single delivery
	// for the replaced subscription.
	raw := env.WaitForEvent(t, conn, "docker-event")
	var evt struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Action != "die" {
		t.Errorf("action = %q", evt.Action)
	}
}
