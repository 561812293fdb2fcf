package handlers

import (
	"context"
	"log/slog"

	"github.com/docker/go-units"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterImageHandlers(app *App) {
	app.WS.Handle("list_images", app.handleListImages)
	app.WS.Handle("remove_image", app.handleRemoveImage)
	app.WS.Handle("pull_image_with_progress", app.handlePullImage)
}

// imageEntry decorates an image with a display size so the shell renders
// "142.5MB" without shipping a formatting library.
type imageEntry struct {
	docker.Image
	SizeHuman string `json:"size_human"`
}

func (app *App) handleListImages(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	images, err := cli.ListImages(ctx)
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}

	entries := make([]imageEntry, 0, len(images))
	for _, img := range images {
		entries = append(entries, imageEntry{
			Image:     img,
			SizeHuman: units.HumanSize(float64(img.Size)),
		})
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK     bool         `json:"ok"`
			Images []imageEntry `json:"images"`
		}{OK: true, Images: entries})
	}
}

func (app *App) handleRemoveImage(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	id := argString(args, 0)
	force := argBool(args, 1)
	if id == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Image ID required"})
		}
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), slowOpTimeout)
	defer cancel()

	if err := cli.RemoveImage(ctx, id, force); err != nil {
		ackEngineError(c, msg, err)
		return
	}
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Image removed"})
	}
	slog.Info("image removed", "id", id, "force", force)
}

// handlePullImage starts a pull and relays its progress stream to the
// requesting connection as pull-progress pushes. The ack only confirms the
// pull started; completion is the stream ending.
func (app *App) handlePullImage(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	ref := argString(args, 0)
	if ref == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Image reference required"})
		}
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	// Named per connection and ref: a repeated request replaces the old
	// subscription, and disconnect cleanup cancels by the c.ID() prefix.
	name := c.ID() + ":pull:" + ref
	stream := func(ctx context.Context) (<-chan docker.PullProgress, <-chan error, error) {
		return cli.PullImage(ctx, ref)
	}

	_, err := docker.Subscribe(context.Background(), app.Relay, name, stream, c, "pull-progress", "pull-progress-error")
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Pull started"})
	}
	slog.Info("image pull started", "ref", ref, "conn", c.ID())
}
