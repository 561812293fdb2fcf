package handlers

import (
	"context"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterEngineHandlers(app *App) {
	app.WS.Handle("get_docker_status", app.handleGetDockerStatus)
	app.WS.Handle("reset_docker_connection", app.handleResetDockerConnection)
	app.WS.Handle("get_engine_version", app.handleGetEngineVersion)
}

func (app *App) handleGetDockerStatus(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	status := app.Engine.Status(ctx)
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK     bool          `json:"ok"`
			Status docker.Status `json:"status"`
		}{OK: true, Status: status})
	}
}

// handleResetDockerConnection tears down the current engine client and
// dials fresh. This is the recovery path after a daemon restart or a
// socket path change.
func (app *App) handleResetDockerConnection(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	_, err := app.Engine.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	status := app.Engine.Status(ctx)

	// Other clients learn the outcome through the status channel.
	app.TriggerEngineStatusBroadcast()

	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK     bool          `json:"ok"`
			Status docker.Status `json:"status"`
		}{OK: true, Status: status})
	}
}

func (app *App) handleGetEngineVersion(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	v, err := cli.ServerVersion(ctx)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK      bool                `json:"ok"`
			Version *docker.VersionInfo `json:"version"`
		}{OK: true, Version: v})
	}
}
