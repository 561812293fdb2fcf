package handlers

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/models"
	"github.com/fosslife/rykard/internal/terminal"
	"github.com/fosslife/rykard/internal/ws"
)

// Per-operation deadlines. Stop and remove wait on the engine's own stop
// grace period, so they get a longer leash than plain queries.
const (
	opTimeout     = 10 * time.Second
	slowOpTimeout = 30 * time.Second
)

// App holds shared dependencies for all handlers.
type App struct {
	Users    *models.UserStore
	Settings *models.SettingStore
	WS       *ws.Server
	Engine   *docker.Manager
	Relay    *docker.Relay
	Terms    *terminal.Manager

	JWTSecret string
	JWTTTL    time.Duration
	Version   string
	NoAuth    bool // Skip authentication checks (all endpoints open)

	LogTail      int   // default line count for log requests
	StatsWorkers int64 // concurrency cap for the all-containers stats sweep

	bcastState *broadcastState
	debouncer  *channelDebouncer
}

// checkLogin verifies that the connection is authenticated.
// Returns the user ID or sends an error ack and returns 0.
// When --no-auth is enabled, connections are auto-authenticated at connect
// time, so this function returns a real ID without any special handling.
func checkLogin(c *ws.Conn, msg *ws.ClientMessage) int {
	uid := c.UserID()
	if uid == 0 && msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Not logged in"})
	}
	return uid
}

// engineClient resolves the shared engine client, connecting lazily on first
// use. On failure it acks the classified error and returns nil.
func (app *App) engineClient(c *ws.Conn, msg *ws.ClientMessage) docker.Client {
	cli, err := app.Engine.EnsureConnected()
	if err != nil {
		ackEngineError(c, msg, err)
		return nil
	}
	return cli
}

// ackEngineError classifies err and acks it with a machine-readable kind so
// the frontend can tell an unreachable daemon apart from a bad request.
func ackEngineError(c *ws.Conn, msg *ws.ClientMessage, err error) {
	if msg == nil || msg.ID == nil {
		return
	}
	de := docker.Classify(err)
	ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: de.Message, Kind: string(de.Kind)})
}

// parseArgs unmarshals the Args JSON array into a slice of json.RawMessage.
func parseArgs(msg *ws.ClientMessage) []json.RawMessage {
	if msg == nil || len(msg.Args) == 0 {
		return nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(msg.Args, &args); err != nil {
		slog.Warn("parse args", "err", err)
		return nil
	}
	return args
}

// argString extracts a string from args at the given index.
func argString(args []json.RawMessage, index int) string {
	if index >= len(args) {
		return ""
	}
	var s string
	if err := json.Unmarshal(args[index], &s); err != nil {
		return ""
	}
	return s
}

// argObject extracts a JSON object from args at the given index into dst.
func argObject(args []json.RawMessage, index int, dst interface{}) bool {
	if index >= len(args) {
		return false
	}
	return json.Unmarshal(args[index], dst) == nil
}

// argBool extracts a bool from args at the given index.
func argBool(args []json.RawMessage, index int) bool {
	if index >= len(args) {
		return false
	}
	var b bool
	if err := json.Unmarshal(args[index], &b); err != nil {
		return false
	}
	return b
}

// argInt extracts an integer from args at the given index.
func argInt(args []json.RawMessage, index int) int {
	if index >= len(args) {
		return 0
	}
	var n float64 // JSON numbers decode as float64
	if err := json.Unmarshal(args[index], &n); err != nil {
		return 0
	}
	return int(n)
}
