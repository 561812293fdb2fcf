package handlers

import (
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/fosslife/rykard/internal/terminal"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterTerminalHandlers(app *App) {
	app.WS.Handle("exec_terminal", app.handleExecTerminal)
	app.WS.Handle("terminal_input", app.handleTerminalInput)
	app.WS.Handle("terminal_resize", app.handleTerminalResize)
	app.WS.Handle("terminal_leave", app.handleTerminalLeave)
}

// handleExecTerminal opens an interactive shell inside a container through a
// PTY terminal named terminal:<container>. If a session is already running,
// the client joins it and receives the scrollback instead of spawning a
// second shell.
func (app *App) handleExecTerminal(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	name := argString(args, 0)
	shell := argString(args, 1)

	if name == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Container name required"})
		}
		return
	}
	if shell == "" {
		shell = "bash"
	}

	termName := "terminal:" + name

	existing := app.Terms.Get(termName)
	if existing != nil && existing.IsRunning() {
		buf := existing.JoinAndGetBuffer(c.ID(), makeTermWriter(c, termName))
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, struct {
				OK     bool   `json:"ok"`
				Buffer string `json:"buffer"`
			}{OK: true, Buffer: buf})
		}
		return
	}

	term := app.Terms.Recreate(termName, terminal.TypePTY)

	// Register the requesting client BEFORE starting the shell so the
	// prompt is captured and delivered.
	term.AddWriter(c.ID(), makeTermWriter(c, termName))

	cmd := exec.Command("docker", "exec", "-it", name, shell)
	cmd.Env = os.Environ()

	if err := term.StartPTY(cmd); err != nil {
		slog.Error("exec terminal start", "err", err, "container", name)
		app.Terms.Remove(termName)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Failed to start terminal: " + err.Error()})
		}
		return
	}

	// Keep the exit message visible briefly, then reap the terminal.
	term.OnExit(func() {
		app.Terms.RemoveAfter(termName, 30*time.Second)
	})

	slog.Info("exec terminal started", "name", termName, "container", name)

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK     bool   `json:"ok"`
			Buffer string `json:"buffer"`
		}{OK: true, Buffer: ""})
	}
}

// handleTerminalInput writes input to a terminal's PTY stdin.
func (app *App) handleTerminalInput(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	termName := argString(args, 0)
	input := argString(args, 1)

	term := app.Terms.Get(termName)
	if term == nil {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Terminal not found"})
		}
		return
	}

	if err := term.Input(input); err != nil {
		slog.Warn("terminal input", "err", err, "term", termName)
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true})
	}
}

// handleTerminalResize resizes a terminal's PTY.
func (app *App) handleTerminalResize(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	termName := argString(args, 0)
	rows := argInt(args, 1)
	cols := argInt(args, 2)

	term := app.Terms.Get(termName)
	if term != nil && rows > 0 && cols > 0 {
		if err := term.Resize(uint16(rows), uint16(cols)); err != nil {
			slog.Warn("terminal resize", "err", err, "term", termName)
		}
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true})
	}
}

// handleTerminalLeave detaches the client from a terminal. A log pipe with no
// remaining readers is torn down; a PTY session keeps running so the client
// can reattach.
func (app *App) handleTerminalLeave(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	termName := argString(args, 0)

	if termName != "" {
		term := app.Terms.Get(termName)
		if term != nil {
			term.RemoveWriter(c.ID())
			if term.Type == terminal.TypePipe && term.WriterCount() == 0 {
				app.Terms.Remove(termName)
			}
		}
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true})
	}
}

// makeTermWriter creates a WriteFunc that pushes terminal output frames. The
// terminal name doubles as the event name, so the shell routes frames to the
// component that owns the terminal.
func makeTermWriter(c *ws.Conn, termName string) terminal.WriteFunc {
	return func(data string) {
		ws.SendEvent(c, termName, data)
	}
}
