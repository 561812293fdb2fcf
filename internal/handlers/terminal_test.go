package handlers_test

import (
	"testing"

	"github.com/fosslife/rykard/internal/testutil"
)

func TestExecTerminalRequiresName(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "exec_terminal")
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatal("expected exec_terminal without a container name to fail")
	}
	if msg, _ := resp["msg"].(string); msg != "Container name required" {
		t.Errorf("msg = %q", msg)
	}
}

func TestTerminalInputUnknownTerminal(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "terminal_input", "terminal:ghost", "ls\n")
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatal("expected input to unknown terminal to fail")
	}
	if msg, _ := resp["msg"].(string); msg != "Terminal not found" {
		t.Errorf("msg = %q", msg)
	}
}

func TestTerminalLeaveAndResizeAreTolerant(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	// Leaving or resizing a terminal that is already gone is not an error:
	// the shell fires these on teardown races.
	resp := env.SendAndReceive(t, conn, "terminal_leave", "terminal:ghost")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Errorf("terminal_leave on missing terminal: %v", resp)
	}

	resp = env.SendAndReceive(t, conn, "terminal_resize", "terminal:ghost", 24, 80)
	if ok, _ := resp["ok"].(bool); !ok {
		t.Errorf("terminal_resize on missing terminal: %v", resp)
	}
}
