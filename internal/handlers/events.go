package handlers

import (
	"context"
	"log/slog"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterEventHandlers(app *App) {
	app.WS.Handle("subscribe_to_docker_events", app.handleSubscribeEvents)
	app.WS.Handle("unsubscribe_docker_events", app.handleUnsubscribeEvents)
}

// eventSubName names a connection's engine event subscription. The c.ID()
// prefix is what disconnect cleanup cancels by.
func eventSubName(c *ws.Conn) string {
	return c.ID() + ":events"
}

// handleSubscribeEvents relays the engine's lifecycle event stream to this
// connection as docker-event pushes. Subscribing twice replaces the previous
// subscription instead of doubling up deliveries.
func (app *App) handleSubscribeEvents(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	cli := app.engineClient(c, msg)
	if cli == nil {
		return
	}

	stream := func(ctx context.Context) (<-chan docker.Event, <-chan error, error) {
		events, errs := cli.Events(ctx)
		return events, errs, nil
	}

	_, err := docker.Subscribe(context.Background(), app.Relay, eventSubName(c), stream, c, "docker-event", "docker-event-error")
	if err != nil {
		ackEngineError(c, msg, err)
		return
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Subscribed"})
	}
	slog.Debug("event subscription opened", "conn", c.ID())
}

func (app *App) handleUnsubscribeEvents(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	existed := app.Relay.Cancel(eventSubName(c))

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK         bool `json:"ok"`
			Subscribed bool `json:"subscribed"`
		}{OK: true, Subscribed: existed})
	}
	slog.Debug("event subscription closed", "conn", c.ID(), "existed", existed)
}
