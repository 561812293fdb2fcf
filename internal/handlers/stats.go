package handlers

import (
	"context"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterStatsHandlers(app *App) {
	app.WS.Handle("get_container_stats", app.handleGetContainerStats)
	app.WS.Handle("get_all_stats", app.handleGetAllStats)
}

func (app *App) handleGetContainerStats(c *ws.Conn, msg *ws.ClientMessage) {
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

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	stats, err := cli.ContainerStats(ctx, name)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK    bool          `json:"ok"`
			Stats *docker.Stats `json:"stats"`
		}{OK: true, Stats: stats})
	}
}

// handleGetAllStats samples every running container in one bounded sweep.
// The sweep is a point-in-time snapshot, so it gets the slower deadline.
func (app *App) handleGetAllStats(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), slowOpTimeout)
	defer cancel()

	stats, err := docker.CollectAll(ctx, cli, app.StatsWorkers)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK    bool                    `json:"ok"`
			Stats map[string]docker.Stats `json:"stats"`
		}{OK: true, Stats: stats})
	}
}
