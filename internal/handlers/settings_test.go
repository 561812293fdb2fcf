package handlers_test

import (
	"testing"

	"github.com/fosslife/rykard/internal/testutil"
)

func TestSettingsRoundTrip(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "update_settings", map[string]interface{}{
		"theme":           "dark",
		"telemetry":       false,
		"refreshInterval": 5,
	})
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("update_settings failed: %v", resp)
	}

	// The read after a write sees the fresh values, not a stale cache.
	resp = env.SendAndReceive(t, conn, "get_settings")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("get_settings failed: %v", resp)
	}
	settings, _ := resp["settings"].(map[string]interface{})
	if v, _ := settings["theme"].(string); v != "dark" {
		t.Errorf("theme = %q", v)
	}
	if v, _ := settings["telemetry"].(string); v != "0" {
		t.Errorf("telemetry = %q, want \"0\"", v)
	}
	if v, _ := settings["refreshInterval"].(string); v != "5" {
		t.Errorf("refreshInterval = %q", v)
	}
}

func TestSettingsNeverExposeJWTSecret(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "get_settings")
	settings, _ := resp["settings"].(map[string]interface{})
	if _, leaked := settings["jwtSecret"]; leaked {
		t.Fatal("jwtSecret leaked through get_settings")
	}

	// Writes to the secret key are ignored rather than honored.
	resp = env.SendAndReceive(t, conn, "update_settings", map[string]interface{}{
		"jwtSecret": "attacker-controlled",
		"theme":     "light",
	})
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("update_settings failed: %v", resp)
	}

	secret, err := env.App.Settings.Get("jwtSecret")
	if err != nil {
		t.Fatal(err)
	}
	if secret == "attacker-controlled" {
		t.Fatal("update_settings overwrote the JWT secret")
	}

	resp = env.SendAndReceive(t, conn, "get_settings")
	settings, _ = resp["settings"].(map[string]interface{})
	if v, _ := settings["theme"].(string); v != "light" {
		t.Errorf("theme = %q", v)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "update_settings", map[string]interface{}{})
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatal("expected empty update to fail")
	}
}
