package handlers_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fosslife/rykard/internal/testutil"
)

func TestGetContainerLogs(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "get_container_logs", "web", 2)
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("get_container_logs failed: %v", resp)
	}
	lines, _ := resp["lines"].([]interface{})
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
	last, _ := lines[1].(string)
	if !strings.Contains(last, "/api/health") {
		t.Errorf("last line = %q", last)
	}

	// Logs of a stopped container still read back.
	resp = env.SendAndReceive(t, conn, "get_container_logs", "db")
	lines, _ = resp["lines"].([]interface{})
	if len(lines) != 3 {
		t.Errorf("got %d lines for db, want 3", len(lines))
	}
}

func TestFollowContainerLogs(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "follow_container_logs", "web")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("follow_container_logs failed: %v", resp)
	}
	if _, hasBuffer := resp["buffer"]; !hasBuffer {
		t.Error("ack has no buffer field")
	}

	// Live lines arrive as pushes named after the log terminal.
	var chunk string
	sawHeartbeat := false
	for i := 0; i < 20 && !sawHeartbeat; i++ {
		if err := json.Unmarshal(env.WaitForEvent(t, conn, "log:web"), &chunk); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(chunk, "heartbeat") {
			sawHeartbeat = true
		}
	}
	if !sawHeartbeat {
		t.Fatal("no heartbeat line in follow stream")
	}

	// Leaving tears the log pipe down once nobody is attached.
	resp = env.SendAndReceive(t, conn, "terminal_leave", "log:web")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("terminal_leave failed: %v", resp)
	}
	if env.App.Terms.Get("log:web") != nil {
		t.Error("log terminal still alive after last reader left")
	}
}
