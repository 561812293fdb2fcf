package handlers

import (
	"log/slog"
	"strconv"

	"github.com/fosslife/rykard/internal/ws"
)

// jwtSecretKey never leaves the settings bucket through the wire API.
const jwtSecretKey = "jwtSecret"

func RegisterSettingsHandlers(app *App) {
	app.WS.Handle("get_settings", app.handleGetSettings)
	app.WS.Handle("update_settings", app.handleUpdateSettings)
}

func (app *App) handleGetSettings(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	settings, err := app.Settings.GetAll()
	if err != nil {
		slog.Error("get settings", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Failed to load settings"})
		}
		return
	}

	delete(settings, jwtSecretKey)

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK       bool              `json:"ok"`
			Settings map[string]string `json:"settings"`
		}{OK: true, Settings: settings})
	}
}

func (app *App) handleUpdateSettings(c *ws.Conn, msg *ws.ClientMessage) {
	if checkLogin(c, msg) == 0 {
		return
	}

	args := parseArgs(msg)
	var updates map[string]interface{}
	if !argObject(args, 0, &updates) || len(updates) == 0 {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Invalid arguments"})
		}
		return
	}

	for key, value := range updates {
		if key == jwtSecretKey {
			continue
		}

		var str string
		switch v := value.(type) {
		case string:
			str = v
		case bool:
			if v {
				str = "1"
			} else {
				str = "0"
			}
		case float64:
			str = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			slog.Warn("update settings: unsupported type", "key", key)
			continue
		}

		if err := app.Settings.Set(key, str); err != nil {
			slog.Error("update settings", "key", key, "err", err)
			if msg.ID != nil {
				ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Failed to save settings"})
			}
			return
		}
	}

	app.Settings.InvalidateCache()

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Saved"})
	}
	slog.Info("settings updated", "keys", len(updates))
}
