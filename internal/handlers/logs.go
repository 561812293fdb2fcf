package handlers

import (
	"bufio"
	"context"
	"log/slog"
	"time"

	"github.com/fosslife/rykard/internal/terminal"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterLogHandlers(app *App) {
	app.WS.Handle("get_container_logs", app.handleGetContainerLogs)
	app.WS.Handle("follow_container_logs", app.handleFollowContainerLogs)
}

func (app *App) handleGetContainerLogs(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	name := argString(args, 0)
	if name == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Container name required"})
		}
		return
	}
	tail := argInt(args, 1)
	if tail <= 0 {
		tail = app.LogTail
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	lines, err := cli.ContainerLogs(ctx, name, tail)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK    bool     `json:"ok"`
			Lines []string `json:"lines"`
		}{OK: true, Lines: lines})
	}
}

// handleFollowContainerLogs starts a live log stream for one container and
// fans it out through a pipe terminal named log:<container>. The ack carries
// the scrollback the terminal already holds; later lines arrive as push
// frames under the terminal name.
func (app *App) handleFollowContainerLogs(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	name := argString(args, 0)
	if name == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Container name required"})
		}
		return
	}
	tail := argInt(args, 1)
	if tail <= 0 {
		tail = app.LogTail
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	termName := "log:" + name

	// Always recreate: the shell's terminal component may have joined an
	// empty terminal already. Recreate carries registered writers over while
	// starting a fresh stream.
	term := app.Terms.Recreate(termName, terminal.TypePipe)

	ctx, cancel := context.WithCancel(context.Background())
	term.SetCancel(cancel)

	go func() {
		defer app.Terms.RemoveAfter(termName, 30*time.Second)

		stream, err := cli.FollowLogs(ctx, name, tail)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("follow logs", "err", err, "container", name)
				term.Write([]byte("[Error] " + err.Error() + "\r\n"))
			}
			return
		}
		defer stream.Close()

		scanner := bufio.NewScanner(stream)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for scanner.Scan() {
			b := scanner.Bytes()
			term.Write(append(b, '\n'))
		}
	}()

	// Atomic join: register the writer and read the buffer under one lock so
	// a line arriving in between is neither dropped nor delivered twice.
	buf := term.JoinAndGetBuffer(c.ID(), makeTermWriter(c, termName))

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK     bool   `json:"ok"`
			Buffer string `json:"buffer"`
		}{OK: true, Buffer: buf})
	}
}
