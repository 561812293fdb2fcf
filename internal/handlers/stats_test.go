package handlers_test

import (
	"testing"

	"github.com/fosslife/rykard/internal/testutil"
)

func TestGetContainerStats(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "get_container_stats", "web")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("get_container_stats failed: %v", resp)
	}
	stats, _ := resp["stats"].(map[string]interface{})
	if stats == nil {
		t.Fatal("no stats in response")
	}
	if cpu, _ := stats["cpu_usage_percent"].(float64); cpu <= 0 {
		t.Errorf("cpu_usage_percent = %v, want > 0", cpu)
	}
	if limit, _ := stats["memory_limit"].(float64); limit != 2147483648 {
		t.Errorf("memory_limit = %v", limit)
	}
	if pct, _ := stats["memory_usage_percent"].(float64); pct <= 0 || pct >= 100 {
		t.Errorf("memory_usage_percent = %v", pct)
	}

	t.Run("stopped container", func(t *testing.T) {
		resp := env.SendAndReceive(t, conn, "get_container_stats", "db")
		stats, _ := resp["stats"].(map[string]interface{})
		if cpu, _ := stats["cpu_usage_percent"].(float64); cpu != 0 {
			t.Errorf("cpu_usage_percent = %v for stopped container", cpu)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		resp := env.SendAndReceive(t, conn, "get_container_stats")
		if ok, _ := resp["ok"].(bool); ok {
			t.Fatal("expected error without a name")
		}
	})
}

func TestGetAllStats(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "get_all_stats")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("get_all_stats failed: %v", resp)
	}
	stats, _ := resp["stats"].(map[string]interface{})
	if len(stats) != 2 {
		t.Fatalf("got %d samples, want 2 (running containers only): %v", len(stats), stats)
	}
	for _, name := range []string{"web", "cache"} {
		sample, _ := stats[name].(map[string]interface{})
		if sample == nil {
			t.Errorf("missing sample for %s", name)
			continue
		}
		if cpu, _ := sample["cpu_usage_percent"].(float64); cpu <= 0 {
			t.Errorf("%s cpu_usage_percent = %v", name, cpu)
		}
	}
}
