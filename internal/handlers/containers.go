package handlers

import (
	"context"
	"log/slog"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterContainerHandlers(app *App) {
	app.WS.Handle("list_containers", app.handleListContainers)
	app.WS.Handle("get_container_config", app.handleGetContainerConfig)
	app.WS.Handle("start_container", app.handleStartContainer)
	app.WS.Handle("stop_container", app.handleStopContainer)
	app.WS.Handle("remove_container", app.handleRemoveContainer)
	app.WS.Handle("create_container", app.handleCreateContainer)
}

func (app *App) handleListContainers(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	all := true
	if len(args) > 0 {
		all = argBool(args, 0)
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	containers, err := cli.ListContainers(ctx, all)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK         bool               `json:"ok"`
			Containers []docker.Container `json:"containers"`
		}{OK: true, Containers: containers})
	}
}

func (app *App) handleGetContainerConfig(c *ws.Conn, msg *ws.ClientMessage) {
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

	details, err := cli.InspectContainer(ctx, name)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK        bool                     `json:"ok"`
			Container *docker.ContainerDetails `json:"container"`
		}{OK: true, Container: details})
	}
}

func (app *App) handleStartContainer(c *ws.Conn, msg *ws.ClientMessage) {
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

	if err := cli.StartContainer(ctx, name); err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Container started"})
	}
	slog.Info("container started", "name", name)
}

func (app *App) handleStopContainer(c *ws.Conn, msg *ws.ClientMessage) {
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

	// Stop waits for the engine's grace period before SIGKILL.
	ctx, cancel := context.WithTimeout(context.Background(), slowOpTimeout)
	defer cancel()

	if err := cli.StopContainer(ctx, name); err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Container stopped"})
	}
	slog.Info("container stopped", "name", name)
}

func (app *App) handleRemoveContainer(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	name := argString(args, 0)
	force := argBool(args, 1)
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

	ctx, cancel := context.WithTimeout(context.Background(), slowOpTimeout)
	defer cancel()

	if err := cli.RemoveContainer(ctx, name, force); err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Container removed"})
	}
	slog.Info("container removed", "name", name, "force", force)
}

func (app *App) handleCreateContainer(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	var spec docker.CreateSpec
	if !argObject(args, 0, &spec) || spec.Image == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Image is required"})
		}
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), slowOpTimeout)
	defer cancel()

	id, err := cli.CreateContainer(ctx, spec)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK bool   `json:"ok"`
			ID string `json:"id"`
		}{OK: true, ID: id})
	}
	slog.Info("container created", "id", id, "image", spec.Image)
}
