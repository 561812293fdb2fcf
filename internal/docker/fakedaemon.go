package docker

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FakeDaemon is an HTTP server on a Unix socket that implements the slice of
// the Docker Engine API this package uses, over a small in-memory world.
// The real SDKClient connects to it exactly as it would to a real daemon, so
// tests exercise the full wire path: JSON shapes, stdcopy log framing, the
// stats counter format and the event stream.
//
// Unlike a canned-response stub, the world is mutable: start, stop, create
// and remove change container state and publish matching lifecycle events.
type FakeDaemon struct {
	listener net.Listener
	server   *http.Server

	mu         sync.Mutex
	containers []*fakeContainer
	images     []*fakeImage

	eventsMu  sync.Mutex
	eventSubs map[int]chan eventMessage
	nextSubID int

	// followInterval paces synthetic lines on follow-mode log streams.
	followInterval time.Duration
}

type fakeContainer struct {
	id      string
	name    string
	image   string // ref, e.g. "nginx:1.27"
	imageID string // sha256:...
	state   string // running | exited | created
	labels  map[string]string
	ports   []portJSON
	env     []string
	command string
	mounts  []mountJSON
	restart string
	netMode string
	created time.Time
	logs    []string
}

type fakeImage struct {
	id      string // sha256:...
	ref     string // repo:tag
	size    int64
	created time.Time
}

// eventMessage is a Docker-style event for JSON streaming.
type eventMessage struct {
	Status   string     `json:"status"`
	ID       string     `json:"id"`
	Type     string     `json:"Type"`
	Action   string     `json:"Action"`
	Actor    eventActor `json:"Actor"`
	Time     int64      `json:"time"`
	TimeNano int64      `json:"timeNano"`
}

type eventActor struct {
	ID         string            `json:"ID"`
	Attributes map[string]string `json:"Attributes"`
}

// StartFakeDaemon starts a fake engine on a Unix socket, seeded with the
// default world. It returns the daemon handle for test control, a host URL
// suitable for DOCKER_HOST, and a cleanup function.
func StartFakeDaemon() (*FakeDaemon, string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "rykard-fake-*")
	if err != nil {
		return nil, "", nil, fmt.Errorf("create temp dir: %w", err)
	}

	sockPath := filepath.Join(tmpDir, "docker.sock")
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, "", nil, fmt.Errorf("listen unix: %w", err)
	}

	fd := &FakeDaemon{
		listener:       listener,
		eventSubs:      make(map[int]chan eventMessage),
		followInterval: 150 * time.Millisecond,
	}
	fd.containers, fd.images = defaultWorld()

	mux := http.NewServeMux()
	fd.registerRoutes(mux)

	fd.server = &http.Server{Handler: fd.stripVersionPrefix(mux)}

	go func() {
		if err := fd.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("fake daemon serve", "err", err)
		}
	}()

	cleanup := func() {
		fd.server.Close()
		listener.Close()
		os.RemoveAll(tmpDir)
	}

	return fd, "unix://" + sockPath, cleanup, nil
}

// defaultWorld seeds two running containers, one exited container and a
// spare unused image, which is enough surface for every list/filter/remove
// combination the handlers exercise.
func defaultWorld() ([]*fakeContainer, []*fakeImage) {
	base := time.Date(2025, 8, 1, 9, 30, 0, 0, time.UTC)

	images := []*fakeImage{
		{id: fakeImageID("nginx:1.27"), ref: "nginx:1.27", size: 192_000_000, created: base.Add(-30 * 24 * time.Hour)},
		{id: fakeImageID("postgres:16"), ref: "postgres:16", size: 432_000_000, created: base.Add(-45 * 24 * time.Hour)},
		{id: fakeImageID("redis:7"), ref: "redis:7", size: 117_000_000, created: base.Add(-20 * 24 * time.Hour)},
		{id: fakeImageID("alpine:3.20"), ref: "alpine:3.20", size: 8_000_000, created: base.Add(-60 * 24 * time.Hour)},
	}

	containers := []*fakeContainer{
		{
			id:      fakeContainerID("web"),
			name:    "web",
			image:   "nginx:1.27",
			imageID: fakeImageID("nginx:1.27"),
			state:   "running",
			labels:  map[string]string{"app": "web"},
			ports: []portJSON{
				{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"},
			},
			env:     []string{"PATH=/usr/sbin:/usr/bin", "NGINX_VERSION=1.27.0"},
			command: "nginx -g daemon off;",
			mounts: []mountJSON{
				{Type: "bind", Source: "/srv/web", Destination: "/usr/share/nginx/html", Mode: "ro", RW: false},
			},
			restart: "unless-stopped",
			netMode: "bridge",
			created: base.Add(-2 * time.Hour),
			logs: []string{
				`172.17.0.1 - - [01/Aug/2025:09:31:02 +0000] "GET / HTTP/1.1" 200 615`,
				`172.17.0.1 - - [01/Aug/2025:09:31:11 +0000] "GET /assets/app.js HTTP/1.1" 200 18244`,
				`172.17.0.1 - - [01/Aug/2025:09:32:40 +0000] "GET /api/health HTTP/1.1" 200 2`,
			},
		},
		{
			id:      fakeContainerID("cache"),
			name:    "cache",
			image:   "redis:7",
			imageID: fakeImageID("redis:7"),
			state:   "running",
			labels:  map[string]string{"app": "cache"},
			ports: []portJSON{
				{PrivatePort: 6379, Type: "tcp"},
			},
			env:     []string{"PATH=/usr/local/bin:/usr/bin"},
			command: "redis-server",
			restart: "always",
			netMode: "bridge",
			created: base.Add(-26 * time.Hour),
			logs: []string{
				"1:M 01 Aug 2025 09:30:10.117 * Ready to accept connections tcp",
				"1:M 01 Aug 2025 10:00:00.001 * 100 changes in 300 seconds. Saving...",
				"1:M 01 Aug 2025 10:00:00.014 * Background saving terminated with success",
			},
		},
		{
			id:      fakeContainerID("db"),
			name:    "db",
			image:   "postgres:16",
			imageID: fakeImageID("postgres:16"),
			state:   "exited",
			labels:  map[string]string{"app": "db"},
			ports:   []portJSON{},
			env:     []string{"PATH=/usr/lib/postgresql/16/bin", "PGDATA=/var/lib/postgresql/data"},
			command: "postgres",
			mounts: []mountJSON{
				{Type: "volume", Source: "pgdata", Destination: "/var/lib/postgresql/data", Mode: "", RW: true},
			},
			restart: "no",
			netMode: "bridge",
			created: base.Add(-72 * time.Hour),
			logs: []string{
				"2025-08-01 09:30:01.000 UTC [1] LOG:  starting PostgreSQL 16.3",
				"2025-08-01 09:30:01.200 UTC [1] LOG:  database system is ready to accept connections",
				"2025-08-01 11:45:09.881 UTC [1] LOG:  received fast shutdown request",
			},
		},
	}

	return containers, images
}

// fakeContainerID derives a stable 64-hex container ID from a name.
func fakeContainerID(name string) string {
	sum := sha256.Sum256([]byte("container:" + name))
	return hex.EncodeToString(sum[:])
}

// fakeImageID derives a stable image digest from a reference.
func fakeImageID(ref string) string {
	sum := sha256.Sum256([]byte("image:" + ref))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// simpleHash gives a stable per-container seed for synthetic stats.
func simpleHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// stripVersionPrefix strips the /v{version}/ prefix the SDK prepends after
// API version negotiation (e.g. /v1.47/containers/json).
func (fd *FakeDaemon) stripVersionPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if len(path) > 2 && path[0] == '/' && path[1] == 'v' {
			if idx := strings.IndexByte(path[2:], '/'); idx >= 0 {
				r.URL.Path = path[2+idx:]
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (fd *FakeDaemon) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("HEAD /_ping", fd.handlePing)
	mux.HandleFunc("GET /_ping", fd.handlePing)
	mux.HandleFunc("GET /version", fd.handleVersion)

	mux.HandleFunc("GET /containers/json", fd.handleContainerList)
	mux.HandleFunc("POST /containers/create", fd.handleContainerCreate)
	mux.HandleFunc("GET /containers/{id}/json", fd.handleContainerInspect)
	mux.HandleFunc("POST /containers/{id}/start", fd.handleContainerStart)
	mux.HandleFunc("POST /containers/{id}/stop", fd.handleContainerStop)
	mux.HandleFunc("DELETE /containers/{id}", fd.handleContainerRemove)
	mux.HandleFunc("GET /containers/{id}/stats", fd.handleContainerStats)
	mux.HandleFunc("GET /containers/{id}/logs", fd.handleContainerLogs)

	mux.HandleFunc("GET /images/json", fd.handleImageList)
	mux.HandleFunc("POST /images/create", fd.handleImagePull)
	// Image references contain slashes and colons, so the delete route
	// matches by prefix instead of a path pattern.
	mux.HandleFunc("DELETE /images/", fd.handleImageDelete)

	mux.HandleFunc("GET /events", fd.handleEvents)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeEngineError writes the daemon's error envelope.
func writeEngineError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// findContainer resolves an ID, ID prefix or name. Callers hold fd.mu.
func (fd *FakeDaemon) findContainer(idOrName string) *fakeContainer {
	for _, c := range fd.containers {
		if c.id == idOrName || c.name == idOrName {
			return c
		}
		if len(idOrName) >= 12 && strings.HasPrefix(c.id, idOrName) {
			return c
		}
	}
	return nil
}

// --- Ping and version ---

func (fd *FakeDaemon) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Api-Version", "1.47")
	w.Header().Set("Ostype", "linux")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (fd *FakeDaemon) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"Version":    "27.3.1",
		"ApiVersion": "1.47",
		"Os":         "linux",
		"Arch":       "amd64",
	})
}

// --- Containers ---

// containerJSON matches the SDK container.Summary wire fields.
type containerJSON struct {
	ID      string            `json:"Id"`
	Names   []string          `json:"Names"`
	Image   string            `json:"Image"`
	ImageID string            `json:"ImageID"`
	Command string            `json:"Command"`
	Created int64             `json:"Created"`
	Ports   []portJSON        `json:"Ports"`
	Labels  map[string]string `json:"Labels"`
	State   string            `json:"State"`
	Status  string            `json:"Status"`
}

type portJSON struct {
	IP          string `json:"IP,omitempty"`
	PrivatePort uint16 `json:"PrivatePort"`
	PublicPort  uint16 `json:"PublicPort,omitempty"`
	Type        string `json:"Type"`
}

type mountJSON struct {
	Type        string `json:"Type"`
	Source      string `json:"Source"`
	Destination string `json:"Destination"`
	Mode        string `json:"Mode"`
	RW          bool   `json:"RW"`
}

// statusText renders the human state line the way the daemon does.
func (c *fakeContainer) statusText() string {
	switch c.state {
	case "running":
		return "Up " + units(time.Since(c.created))
	case "exited":
		return "Exited (0) " + units(time.Since(c.created)) + " ago"
	default:
		return "Created"
	}
}

func units(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours())/24)
	case d >= time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
}

func (c *fakeContainer) summary() containerJSON {
	return containerJSON{
		ID:      c.id,
		Names:   []string{"/" + c.name},
		Image:   c.image,
		ImageID: c.imageID,
		Command: c.command,
		Created: c.created.Unix(),
		Ports:   c.ports,
		Labels:  c.labels,
		State:   c.state,
		Status:  c.statusText(),
	}
}

func (fd *FakeDaemon) handleContainerList(w http.ResponseWriter, r *http.Request) {
	allParam := r.URL.Query().Get("all")
	all := allParam == "1" || allParam == "true"

	fd.mu.Lock()
	result := make([]containerJSON, 0, len(fd.containers))
	for _, c := range fd.containers {
		if !all && c.state != "running" {
			continue
		}
		result = append(result, c.summary())
	}
	fd.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

// inspectJSON matches the SDK container.InspectResponse wire fields the
// client reads. Created is RFC3339Nano here, unlike the Unix seconds the
// list endpoint reports.
type inspectJSON struct {
	ID              string          `json:"Id"`
	Created         string          `json:"Created"`
	Path            string          `json:"Path"`
	Args            []string        `json:"Args"`
	State           stateJSON       `json:"State"`
	Image           string          `json:"Image"`
	Name            string          `json:"Name"`
	Mounts          []mountJSON     `json:"Mounts"`
	Config          configJSON      `json:"Config"`
	HostConfig      hostConfigJSON  `json:"HostConfig"`
	NetworkSettings networkSettings `json:"NetworkSettings"`
}

type stateJSON struct {
	Status  string `json:"Status"`
	Running bool   `json:"Running"`
	Pid     int    `json:"Pid"`
}

type configJSON struct {
	Image  string            `json:"Image"`
	Env    []string          `json:"Env"`
	Labels map[string]string `json:"Labels"`
	Tty    bool              `json:"Tty"`
}

type hostConfigJSON struct {
	NetworkMode   string            `json:"NetworkMode"`
	RestartPolicy restartPolicyJSON `json:"RestartPolicy"`
	Binds         []string          `json:"Binds"`
}

type restartPolicyJSON struct {
	Name string `json:"Name"`
}

type networkSettings struct {
	Ports map[string][]portBindingJSON `json:"Ports"`
}

type portBindingJSON struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

func (fd *FakeDaemon) handleContainerInspect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fd.mu.Lock()
	c := fd.findContainer(id)
	if c == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such container: "+id)
		return
	}

	parts := strings.Fields(c.command)
	path := ""
	var args []string
	if len(parts) > 0 {
		path = parts[0]
		args = parts[1:]
	}

	pid := 0
	if c.state == "running" {
		pid = 1000 + int(simpleHash(c.id)%9000)
	}

	ports := make(map[string][]portBindingJSON, len(c.ports))
	for _, p := range c.ports {
		key := fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)
		if p.PublicPort == 0 {
			ports[key] = nil
			continue
		}
		ports[key] = append(ports[key], portBindingJSON{
			HostIP:   p.IP,
			HostPort: strconv.Itoa(int(p.PublicPort)),
		})
	}

	resp := inspectJSON{
		ID:      c.id,
		Created: c.created.Format(time.RFC3339Nano),
		Path:    path,
		Args:    args,
		State:   stateJSON{Status: c.state, Running: c.state == "running", Pid: pid},
		Image:   c.imageID,
		Name:    "/" + c.name,
		Mounts:  c.mounts,
		Config: configJSON{
			Image:  c.image,
			Env:    c.env,
			Labels: c.labels,
		},
		HostConfig: hostConfigJSON{
			NetworkMode:   c.netMode,
			RestartPolicy: restartPolicyJSON{Name: c.restart},
		},
		NetworkSettings: networkSettings{Ports: ports},
	}
	fd.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// createRequestJSON decodes the fields of a create request this fake honors.
type createRequestJSON struct {
	Image      string            `json:"Image"`
	Env        []string          `json:"Env"`
	Cmd        []string          `json:"Cmd"`
	Labels     map[string]string `json:"Labels"`
	HostConfig struct {
		Binds        []string                     `json:"Binds"`
		PortBindings map[string][]portBindingJSON `json:"PortBindings"`
	} `json:"HostConfig"`
}

func (fd *FakeDaemon) handleContainerCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	name := r.URL.Query().Get("name")

	fd.mu.Lock()

	img := fd.findImage(req.Image)
	if img == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such image: "+req.Image)
		return
	}

	if name == "" {
		name = fmt.Sprintf("c%012x", simpleHash(req.Image+time.Now().String())&0xffffffffffff)
	} else if fd.findContainer(name) != nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusConflict,
			fmt.Sprintf("Conflict. The container name %q is already in use", "/"+name))
		return
	}

	var ports []portJSON
	for key, bindings := range req.HostConfig.PortBindings {
		private, proto := splitPortKey(key)
		if len(bindings) == 0 {
			ports = append(ports, portJSON{PrivatePort: private, Type: proto})
			continue
		}
		for _, b := range bindings {
			public, _ := strconv.Atoi(b.HostPort)
			ports = append(ports, portJSON{
				IP:          b.HostIP,
				PrivatePort: private,
				PublicPort:  uint16(public),
				Type:        proto,
			})
		}
	}

	var mounts []mountJSON
	for _, bind := range req.HostConfig.Binds {
		parts := strings.SplitN(bind, ":", 3)
		if len(parts) < 2 {
			continue
		}
		mode := "rw"
		if len(parts) == 3 {
			mode = parts[2]
		}
		mounts = append(mounts, mountJSON{
			Type:        "bind",
			Source:      parts[0],
			Destination: parts[1],
			Mode:        mode,
			RW:          mode != "ro",
		})
	}

	c := &fakeContainer{
		id:      fakeContainerID(name + "@" + strconv.FormatInt(time.Now().UnixNano(), 16)),
		name:    name,
		image:   req.Image,
		imageID: img.id,
		state:   "created",
		labels:  req.Labels,
		ports:   ports,
		env:     req.Env,
		command: strings.Join(req.Cmd, " "),
		mounts:  mounts,
		restart: "no",
		netMode: "bridge",
		created: time.Now(),
	}
	if c.labels == nil {
		c.labels = map[string]string{}
	}
	fd.containers = append(fd.containers, c)
	id := c.id
	fd.mu.Unlock()

	fd.publishContainerEvent("create", c)

	writeJSON(w, http.StatusCreated, map[string]any{"Id": id, "Warnings": []string{}})
}

// splitPortKey parses a "80/tcp" binding key.
func splitPortKey(key string) (uint16, string) {
	proto := "tcp"
	portStr := key
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		portStr = key[:idx]
		proto = key[idx+1:]
	}
	n, _ := strconv.Atoi(portStr)
	return uint16(n), proto
}

func (fd *FakeDaemon) handleContainerStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fd.mu.Lock()
	c := fd.findContainer(id)
	if c == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such container: "+id)
		return
	}
	if c.state == "running" {
		fd.mu.Unlock()
		w.WriteHeader(http.StatusNotModified)
		return
	}
	c.state = "running"
	fd.mu.Unlock()

	fd.publishContainerEvent("start", c)
	w.WriteHeader(http.StatusNoContent)
}

func (fd *FakeDaemon) handleContainerStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fd.mu.Lock()
	c := fd.findContainer(id)
	if c == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such container: "+id)
		return
	}
	if c.state != "running" {
		fd.mu.Unlock()
		w.WriteHeader(http.StatusNotModified)
		return
	}
	c.state = "exited"
	fd.mu.Unlock()

	fd.publishContainerEvent("die", c)
	fd.publishContainerEvent("stop", c)
	w.WriteHeader(http.StatusNoContent)
}

func (fd *FakeDaemon) handleContainerRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	forceParam := r.URL.Query().Get("force")
	force := forceParam == "1" || forceParam == "true"

	fd.mu.Lock()
	c := fd.findContainer(id)
	if c == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such container: "+id)
		return
	}
	if c.state == "running" && !force {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusConflict,
			fmt.Sprintf("cannot remove container %q: container is running: stop the container before removing or force remove", "/"+c.name))
		return
	}
	for i, cc := range fd.containers {
		if cc == c {
			fd.containers = append(fd.containers[:i], fd.containers[i+1:]...)
			break
		}
	}
	fd.mu.Unlock()

	fd.publishContainerEvent("destroy", c)
	w.WriteHeader(http.StatusNoContent)
}

// --- Stats ---

type statsJSON struct {
	Read        string                  `json:"read"`
	PreRead     string                  `json:"preread"`
	CPUStats    cpuStatsJSON            `json:"cpu_stats"`
	PreCPUStats cpuStatsJSON            `json:"precpu_stats"`
	MemoryStats memStatsJSON            `json:"memory_stats"`
	Networks    map[string]netStatsJSON `json:"networks,omitempty"`
	BlkioStats  blkioStatsJSON          `json:"blkio_stats"`
	PidsStats   pidsStatsJSON           `json:"pids_stats"`
}

type cpuStatsJSON struct {
	CPUUsage    cpuUsageJSON `json:"cpu_usage"`
	SystemUsage uint64       `json:"system_cpu_usage"`
	OnlineCPUs  uint32       `json:"online_cpus"`
}

type cpuUsageJSON struct {
	TotalUsage uint64 `json:"total_usage"`
}

type memStatsJSON struct {
	Usage uint64 `json:"usage"`
	Limit uint64 `json:"limit"`
}

type netStatsJSON struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

type blkioStatsJSON struct {
	IoServiceBytesRecursive []blkioEntryJSON `json:"io_service_bytes_recursive"`
}

type blkioEntryJSON struct {
	Op    string `json:"op"`
	Value uint64 `json:"value"`
}

type pidsStatsJSON struct {
	Current uint64 `json:"current"`
}

// fakeMemLimit is the memory limit every synthetic sample reports (2 GiB).
const fakeMemLimit = 2147483648

func (fd *FakeDaemon) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	fd.mu.Lock()
	c := fd.findContainer(id)
	if c == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such container: "+id)
		return
	}
	state := c.state
	cid := c.id
	fd.mu.Unlock()

	now := time.Now()
	stats := statsJSON{
		Read:    now.Format(time.RFC3339Nano),
		PreRead: now.Add(-time.Second).Format(time.RFC3339Nano),
	}

	if state != "running" {
		// Stopped containers report zeroed counters, like the real daemon.
		stats.CPUStats = cpuStatsJSON{OnlineCPUs: 4}
		stats.PreCPUStats = cpuStatsJSON{OnlineCPUs: 4}
		stats.MemoryStats = memStatsJSON{Limit: fakeMemLimit}
	} else {
		// Deterministic per-container counters: the delta window is always
		// 100ms of system time, so derived percentages are stable.
		h := simpleHash(cid)
		cpuDelta := 50_000 + h%500_000
		memUsage := (10 + h%200) * 1024 * 1024

		stats.CPUStats = cpuStatsJSON{
			CPUUsage:    cpuUsageJSON{TotalUsage: 100_000_000 + cpuDelta},
			SystemUsage: 83_400_000_000,
			OnlineCPUs:  4,
		}
		stats.PreCPUStats = cpuStatsJSON{
			CPUUsage:    cpuUsageJSON{TotalUsage: 100_000_000},
			SystemUsage: 83_300_000_000,
			OnlineCPUs:  4,
		}
		stats.MemoryStats = memStatsJSON{Usage: memUsage, Limit: fakeMemLimit}
		stats.Networks = map[string]netStatsJSON{
			"eth0": {RxBytes: 1000 + h%100_000, TxBytes: 500 + (h/100)%50_000},
		}
		stats.BlkioStats = blkioStatsJSON{
			IoServiceBytesRecursive: []blkioEntryJSON{
				{Op: "read", Value: h % 10_000_000},
				{Op: "write", Value: (h / 10) % 5_000_000},
			},
		}
		stats.PidsStats = pidsStatsJSON{Current: 2 + h%20}
	}

	writeJSON(w, http.StatusOK, stats)
}

// --- Logs ---

func (fd *FakeDaemon) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	follow := q.Get("follow") == "1" || q.Get("follow") == "true"

	fd.mu.Lock()
	c := fd.findContainer(id)
	if c == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such container: "+id)
		return
	}
	lines := append([]string(nil), c.logs...)
	name := c.name
	interval := fd.followInterval
	fd.mu.Unlock()

	if tail := q.Get("tail"); tail != "" && tail != "all" {
		if n, err := strconv.Atoi(tail); err == nil && n >= 0 && n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}

	// Non-TTY containers multiplex stdout and stderr with stdcopy framing.
	w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
	w.WriteHeader(http.StatusOK)

	for _, line := range lines {
		writeStdcopyLine(w, line+"\n")
	}

	if !follow {
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	n := len(lines)
	for {
		select {
		case <-r.Context().Done():
			return
		case t := <-ticker.C:
			line := fmt.Sprintf("%s [INFO] %s heartbeat #%d", t.UTC().Format("2006/01/02 15:04:05"), name, n)
			n++
			if err := writeStdcopyLine(w, line+"\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// writeStdcopyLine writes a line with the stdcopy multiplexing header:
// [stream_type(1)][0 0 0][size(4, big-endian)][payload].
func writeStdcopyLine(w io.Writer, line string) error {
	header := make([]byte, 8)
	header[0] = 1 // stdout
	binary.BigEndian.PutUint32(header[4:], uint32(len(line)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write([]byte(line))
	return err
}

// --- Images ---

type imageJSON struct {
	ID       string   `json:"Id"`
	RepoTags []string `json:"RepoTags"`
	Created  int64    `json:"Created"`
	Size     int64    `json:"Size"`
}

// findImage resolves a ref ("nginx:1.27", "nginx"), an ID or an ID prefix.
// Callers hold fd.mu.
func (fd *FakeDaemon) findImage(ref string) *fakeImage {
	for _, img := range fd.images {
		if img.ref == ref || img.id == ref || img.id == "sha256:"+ref {
			return img
		}
		if repo, _, ok := strings.Cut(img.ref, ":"); ok && repo == ref {
			return img
		}
		bare := strings.TrimPrefix(img.id, "sha256:")
		if len(ref) >= 12 && strings.HasPrefix(bare, ref) {
			return img
		}
	}
	return nil
}

func (fd *FakeDaemon) handleImageList(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	result := make([]imageJSON, 0, len(fd.images))
	for _, img := range fd.images {
		result = append(result, imageJSON{
			ID:       img.id,
			RepoTags: []string{img.ref},
			Created:  img.created.Unix(),
			Size:     img.size,
		})
	}
	fd.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

// handleImagePull streams jsonmessage progress items. Refs whose repository
// contains "unknown" fail with a registry-style error; anything else
// succeeds and registers the image.
func (fd *FakeDaemon) handleImagePull(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromImage := q.Get("fromImage")
	tag := q.Get("tag")
	if tag == "" {
		tag = "latest"
	}
	ref := fromImage + ":" + tag

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	if strings.Contains(fromImage, "unknown") {
		msg := fmt.Sprintf("pull access denied for %s, repository does not exist or may require 'docker login'", fromImage)
		enc.Encode(map[string]any{
			"errorDetail": map[string]string{"message": msg},
			"error":       msg,
		})
		flush()
		return
	}

	enc.Encode(map[string]string{"status": "Pulling from library/" + fromImage, "id": tag})
	flush()

	h := simpleHash(ref)
	layers := []string{
		fmt.Sprintf("%012x", h&0xffffffffffff),
		fmt.Sprintf("%012x", (h>>8)&0xffffffffffff),
	}
	for _, layer := range layers {
		total := int64(1_000_000 + h%4_000_000)
		enc.Encode(map[string]any{"status": "Pulling fs layer", "id": layer})
		enc.Encode(map[string]any{
			"status": "Downloading", "id": layer,
			"progressDetail": map[string]int64{"current": total / 2, "total": total},
		})
		enc.Encode(map[string]any{
			"status": "Downloading", "id": layer,
			"progressDetail": map[string]int64{"current": total, "total": total},
		})
		enc.Encode(map[string]any{"status": "Pull complete", "id": layer})
		flush()
	}

	fd.mu.Lock()
	if fd.findImage(ref) == nil {
		fd.images = append(fd.images, &fakeImage{
			id:      fakeImageID(ref),
			ref:     ref,
			size:    int64(30_000_000 + h%400_000_000),
			created: time.Now(),
		})
	}
	fd.mu.Unlock()

	fd.publishEvent(eventMessage{
		Status: "pull", ID: ref, Type: "image", Action: "pull",
		Actor: eventActor{ID: ref, Attributes: map[string]string{"name": fromImage}},
	})

	enc.Encode(map[string]string{"status": "Digest: " + fakeImageID(ref)})
	enc.Encode(map[string]string{"status": "Status: Downloaded newer image for " + ref})
	flush()
}

func (fd *FakeDaemon) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/images/")
	forceParam := r.URL.Query().Get("force")
	force := forceParam == "1" || forceParam == "true"

	fd.mu.Lock()
	img := fd.findImage(ref)
	if img == nil {
		fd.mu.Unlock()
		writeEngineError(w, http.StatusNotFound, "No such image: "+ref)
		return
	}

	if !force {
		for _, c := range fd.containers {
			if c.imageID == img.id {
				fd.mu.Unlock()
				writeEngineError(w, http.StatusConflict,
					fmt.Sprintf("conflict: unable to remove repository reference %q (must force) - container %s is using its referenced image", img.ref, c.id[:12]))
				return
			}
		}
	}

	for i, ii := range fd.images {
		if ii == img {
			fd.images = append(fd.images[:i], fd.images[i+1:]...)
			break
		}
	}
	fd.mu.Unlock()

	fd.publishEvent(eventMessage{
		Status: "delete", ID: img.id, Type: "image", Action: "delete",
		Actor: eventActor{ID: img.id, Attributes: map[string]string{"name": img.ref}},
	})

	writeJSON(w, http.StatusOK, []map[string]string{
		{"Untagged": img.ref},
		{"Deleted": img.id},
	})
}

// --- Events ---

func (fd *FakeDaemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	subID, ch := fd.subscribeEvents()
	defer fd.unsubscribeEvents(subID)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if err := enc.Encode(evt); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func (fd *FakeDaemon) subscribeEvents() (int, chan eventMessage) {
	fd.eventsMu.Lock()
	defer fd.eventsMu.Unlock()
	id := fd.nextSubID
	fd.nextSubID++
	ch := make(chan eventMessage, 64)
	fd.eventSubs[id] = ch
	return id, ch
}

func (fd *FakeDaemon) unsubscribeEvents(id int) {
	fd.eventsMu.Lock()
	defer fd.eventsMu.Unlock()
	if ch, ok := fd.eventSubs[id]; ok {
		close(ch)
		delete(fd.eventSubs, id)
	}
}

// publishEvent fans an event out to all subscribers, dropping on slow ones.
func (fd *FakeDaemon) publishEvent(evt eventMessage) {
	now := time.Now()
	evt.Time = now.Unix()
	evt.TimeNano = now.UnixNano()

	fd.eventsMu.Lock()
	defer fd.eventsMu.Unlock()
	for _, ch := range fd.eventSubs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (fd *FakeDaemon) publishContainerEvent(action string, c *fakeContainer) {
	fd.publishEvent(eventMessage{
		Status: action,
		ID:     c.id,
		Type:   "container",
		Action: action,
		Actor: eventActor{
			ID: c.id,
			Attributes: map[string]string{
				"name":  c.name,
				"image": c.image,
			},
		},
	})
}

// --- Test control ---

// SetFollowInterval changes the pacing of synthetic follow-mode log lines.
func (fd *FakeDaemon) SetFollowInterval(d time.Duration) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.followInterval = d
}

// PublishContainerEvent injects a lifecycle event by container name, for
// driving event-stream assertions without a real state change.
func (fd *FakeDaemon) PublishContainerEvent(action, name string) bool {
	fd.mu.Lock()
	c := fd.findContainer(name)
	fd.mu.Unlock()
	if c == nil {
		return false
	}
	fd.publishContainerEvent(action, c)
	return true
}

// SetContainerState forces a container's state without publishing events.
func (fd *FakeDaemon) SetContainerState(name, state string) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	c := fd.findContainer(name)
	if c == nil {
		return false
	}
	c.state = state
	return true
}

// ContainerState reports a container's current state, or "" if missing.
func (fd *FakeDaemon) ContainerState(name string) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	c := fd.findContainer(name)
	if c == nil {
		return ""
	}
	return c.state
}
