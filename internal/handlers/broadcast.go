package handlers

import (
	"context"
	"encoding/json"
	"hash"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/ws"
)

// chanEngineStatus is the push channel for daemon reachability changes.
const chanEngineStatus = "engine-status"

// channelDebouncer manages per-channel trailing-edge debounce timers.
// Each channel resets its own timer; the timer fires 200ms after the last
// trigger of that channel.
type channelDebouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newChannelDebouncer() *channelDebouncer {
	return &channelDebouncer{
		timers: make(map[string]*time.Timer),
	}
}

// trigger resets the timer for the given channel. When the timer fires
// (200ms after the last trigger), it calls fn in a new goroutine.
func (d *channelDebouncer) trigger(channel string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[channel]; ok {
		t.Stop()
	}
	d.timers[channel] = time.AfterFunc(200*time.Millisecond, fn)
}

// stop cancels all pending timers.
func (d *channelDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
}

// broadcastState holds per-channel FNV hashes for deduplication.
type broadcastState struct {
	mu       sync.Mutex
	lastHash map[string]uint64
	hasher   hash.Hash64
}

func newBroadcastState() *broadcastState {
	return &broadcastState{
		lastHash: make(map[string]uint64),
		hasher:   fnv.New64a(),
	}
}

// broadcastIfChanged marshals data, computes its FNV-1a hash, and broadcasts
// to all authenticated connections only if the hash differs from the last
// broadcast on this channel. Returns true if a broadcast was sent.
func (bs *broadcastState) broadcastIfChanged(wss *ws.Server, channel string, data any) bool {
	// Marshal the full envelope once — used for both hashing and sending.
	msg, err := json.Marshal(ws.ServerMessage[any]{
		Event: channel,
		Data:  data,
	})
	if err != nil {
		slog.Error("broadcast marshal", "channel", channel, "err", err)
		return false
	}

	bs.mu.Lock()
	bs.hasher.Reset()
	bs.hasher.Write(msg)
	sum := bs.hasher.Sum64()

	old := bs.lastHash[channel]
	changed := sum != old
	if changed {
		bs.lastHash[channel] = sum
	}
	bs.mu.Unlock()

	if !changed {
		slog.Debug("broadcast skipped (unchanged)", "channel", channel)
		return false
	}

	wss.BroadcastAuthenticatedBytes(msg)
	slog.Debug("broadcast sent", "channel", channel, "bytes", len(msg))
	return true
}

// InitBroadcast initializes broadcast state. Must be called before
// StartStatusWatcher or any broadcast trigger.
func (app *App) InitBroadcast() {
	app.bcastState = newBroadcastState()
	app.debouncer = newChannelDebouncer()
}

// sendEngineStatus probes the connection state and pushes it to a single
// connection. Used right after login so the shell renders the engine
// indicator without a round trip.
func (app *App) sendEngineStatus(c *ws.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ws.SendEvent(c, chanEngineStatus, app.Engine.Status(ctx))
}

// broadcastEngineStatus probes the engine and pushes the result to every
// authenticated client, skipping the send when nothing changed since the
// last broadcast.
func (app *App) broadcastEngineStatus() {
	if !app.WS.HasAuthenticatedConns() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	status := app.Engine.Status(ctx)
	app.bcastState.broadcastIfChanged(app.WS, chanEngineStatus, status)
}

// TriggerEngineStatusBroadcast schedules a debounced engine-status broadcast.
// Socket flaps during a daemon restart collapse into one probe.
func (app *App) TriggerEngineStatusBroadcast() {
	if app.debouncer != nil {
		app.debouncer.trigger(chanEngineStatus, app.broadcastEngineStatus)
	}
}

// StartStatusWatcher wires the daemon socket watcher to the status channel.
// Runs until ctx is cancelled.
func (app *App) StartStatusWatcher(ctx context.Context, dockerHost string, interval time.Duration) {
	go func() {
		defer app.debouncer.stop()
		docker.WatchSocket(ctx, dockerHost, interval, app.TriggerEngineStatusBroadcast)
	}()
}
