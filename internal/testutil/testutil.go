package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fosslife/rykard/internal/db"
	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/handlers"
	"github.com/fosslife/rykard/internal/models"
	"github.com/fosslife/rykard/internal/terminal"
	"github.com/fosslife/rykard/internal/ws"

	"github.com/coder/websocket"
)

var msgIDCounter int64

// TestEnv holds a fully wired test application: temp BoltDB, fake engine on a
// Unix socket, and a real WebSocket server.
type TestEnv struct {
	App     *handlers.App
	Server  *httptest.Server
	WS      *ws.Server
	Daemon  *docker.FakeDaemon
	DataDir string
	cancel  context.CancelFunc
}

// Setup assembles the application the way main does, wired against a fake
// engine, and tears everything down through t.Cleanup.
func Setup(t testing.TB) *TestEnv {
	t.Helper()

	dataDir := t.TempDir()

	database, err := db.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	users := models.NewUserStore(database)
	settings := models.NewSettingStore(database)

	jwtSecret, err := settings.EnsureJWTSecret()
	if err != nil {
		t.Fatal(err)
	}

	daemon, host, daemonCleanup, err := docker.StartFakeDaemon()
	if err != nil {
		t.Fatal("start fake daemon:", err)
	}
	daemon.SetFollowInterval(25 * time.Millisecond)

	engine := docker.NewManager(func() (docker.Client, error) {
		return docker.NewClient(docker.ModeAPI, host)
	})

	wss := ws.NewServer()
	relay := docker.NewRelay()
	terms := terminal.NewManager()

	app := &handlers.App{
		Users:        users,
		Settings:     settings,
		WS:           wss,
		Engine:       engine,
		Relay:        relay,
		Terms:        terms,
		JWTSecret:    jwtSecret,
		JWTTTL:       time.Hour,
		Version:      "test",
		LogTail:      100,
		StatsWorkers: 4,
	}
	app.InitBroadcast()

	handlers.RegisterAuthHandlers(app)
	handlers.RegisterEngineHandlers(app)
	handlers.RegisterContainerHandlers(app)
	handlers.RegisterImageHandlers(app)
	handlers.RegisterStatsHandlers(app)
	handlers.RegisterLogHandlers(app)
	handlers.RegisterEventHandlers(app)
	handlers.RegisterTerminalHandlers(app)
	handlers.RegisterSettingsHandlers(app)

	wss.OnDisconnect(func(c *ws.Conn) {
		relay.CancelPrefix(c.ID() + ":")
		terms.RemoveWriterFromAll(c.ID())
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wss)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	app.StartStatusWatcher(ctx, host, 0)

	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		server.Close()
		engine.Close()
		daemonCleanup()
		database.Close()
	})

	return &TestEnv{
		App:     app,
		Server:  server,
		WS:      wss,
		Daemon:  daemon,
		DataDir: dataDir,
		cancel:  cancel,
	}
}

// SeedAdmin creates the admin user for tests that need authentication.
func (e *TestEnv) SeedAdmin(t testing.TB) {
	t.Helper()
	if _, err := e.App.Users.Create("admin", "testpass123"); err != nil {
		t.Fatal("seed admin:", err)
	}
}

// DialWS opens a WebSocket connection to the test server. Push messages sent
// on connect (info, setup) are not drained here — SendAndReceive skips
// non-ack messages automatically.
func (e *TestEnv) DialWS(t testing.TB) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + e.Server.URL[4:] + "/ws" // http -> ws

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal("dial ws:", err)
	}
	conn.SetReadLimit(1 << 20)

	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
	})

	return conn
}

// Login authenticates the connection as the seeded admin and returns the
// issued token.
func (e *TestEnv) Login(t testing.TB, conn *websocket.Conn) string {
	t.Helper()
	resp := e.SendAndReceive(t, conn, "login", "admin", "testpass123")
	ok, _ := resp["ok"].(bool)
	if !ok {
		t.Fatalf("login failed: %v", resp)
	}
	token, _ := resp["token"].(string)
	return token
}

// SendAndReceive sends a WS event with an ack ID and returns the parsed ack
// data, skipping any push messages that arrive first.
func (e *TestEnv) SendAndReceive(t testing.TB, conn *websocket.Conn, event string, args ...interface{}) map[string]interface{} {
	t.Helper()

	id := atomic.AddInt64(&msgIDCounter, 1)

	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatal("marshal args:", err)
	}

	msg := map[string]interface{}{
		"id":    id,
		"event": event,
		"args":  json.RawMessage(argsJSON),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal("marshal msg:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatal("write:", err)
	}

	for {
		_, respData, err := conn.Read(ctx)
		if err != nil {
			t.Fatal("read:", err)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(respData, &raw); err != nil {
			t.Fatal("unmarshal response:", err)
		}

		if idRaw, ok := raw["id"]; ok {
			var ackID int64
			if err := json.Unmarshal(idRaw, &ackID); err == nil && ackID == id {
				var ack struct {
					Data map[string]interface{} `json:"data"`
				}
				if err := json.Unmarshal(respData, &ack); err != nil {
					t.Fatal("unmarshal ack:", err)
				}
				return ack.Data
			}
		}
		// Not our ack — a push message, skip it.
	}
}

// SendEvent sends a WS event without waiting for an ack.
func (e *TestEnv) SendEvent(t testing.TB, conn *websocket.Conn, event string, args ...interface{}) {
	t.Helper()

	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatal("marshal args:", err)
	}
	msg := map[string]interface{}{
		"event": event,
		"args":  json.RawMessage(argsJSON),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal("marshal msg:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatal("write:", err)
	}
}

// DrainPushes discards every frame that arrives within the window. Used to
// reach a known-quiet connection before asserting on push traffic.
func (e *TestEnv) DrainPushes(t testing.TB, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// AssertNoEvent fails if a push with the given event name arrives within the
// window. Other frames are ignored.
func (e *TestEnv) AssertNoEvent(t testing.TB, conn *websocket.Conn, event string, window time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	for {
		_, respData, err := conn.Read(ctx)
		if err != nil {
			return // window elapsed
		}
		var frame struct {
			ID    *int64 `json:"id"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal(respData, &frame); err != nil {
			continue
		}
		if frame.ID == nil && frame.Event == event {
			t.Fatalf("unexpected %q push", event)
		}
	}
}

// WaitForEvent reads frames until a push message with the given event name
// arrives and returns its raw payload. Acks and other pushes are skipped.
func (e *TestEnv) WaitForEvent(t testing.TB, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		_, respData, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}

		var frame struct {
			ID    *int64          `json:"id"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(respData, &frame); err != nil {
			t.Fatal("unmarshal frame:", err)
		}
		if frame.ID == nil && frame.Event == event {
			return frame.Data
		}
	}
}
