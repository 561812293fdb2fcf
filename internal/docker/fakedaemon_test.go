package docker

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"
)

// startTestEngine boots a fake daemon and a real SDK client dialed to it.
func startTestEngine(t *testing.T) (*FakeDaemon, Client) {
	t.Helper()

	fd, host, cleanup, err := StartFakeDaemon()
	if err != nil {
		t.Fatalf("StartFakeDaemon: %v", err)
	}
	t.Cleanup(cleanup)

	cli, err := NewClient(ModeAPI, host)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { cli.Close() })

	return fd, cli
}

func TestFakeDaemonEngineInfo(t *testing.T) {
	t.Parallel()
	_, cli := startTestEngine(t)
	ctx := context.Background()

	if err := cli.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	v, err := cli.ServerVersion(ctx)
	if err != nil {
		t.Fatalf("ServerVersion: %v", err)
	}
	if v.Version != "27.3.1" {
		t.Errorf("Version = %q, want 27.3.1", v.Version)
	}
	if v.APIVersion != "1.47" {
		t.Errorf("APIVersion = %q, want 1.47", v.APIVersion)
	}
	if v.OS != "linux" || v.Arch != "amd64" {
		t.Errorf("OS/Arch = %q/%q, want linux/amd64", v.OS, v.Arch)
	}
}

func TestSDKListAndInspect(t *testing.T) {
	t.Parallel()
	_, cli := startTestEngine(t)
	ctx := context.Background()

	t.Run("list all includes stopped", func(t *testing.T) {
		containers, err := cli.ListContainers(ctx, true)
		if err != nil {
			t.Fatalf("ListContainers: %v", err)
		}
		if len(containers) != 3 {
			t.Fatalf("got %d containers, want 3", len(containers))
		}

		byName := map[string]Container{}
		for _, c := range containers {
			if len(c.Names) == 0 {
				t.Fatalf("container %s has no names", c.ID)
			}
			byName[c.Names[0]] = c
		}

		web, ok := byName["web"]
		if !ok {
			t.Fatal("container web missing; names should have the leading slash stripped")
		}
		if web.State != "running" {
			t.Errorf("web.State = %q, want running", web.State)
		}
		if web.Image != "nginx:1.27" {
			t.Errorf("web.Image = %q", web.Image)
		}
		if strings.HasPrefix(web.ImageID, "sha256:") {
			t.Errorf("web.ImageID = %q, want digest prefix stripped", web.ImageID)
		}
		if web.Labels["app"] != "web" {
			t.Errorf("web.Labels = %v", web.Labels)
		}
		if len(web.Ports) != 1 || web.Ports[0].PrivatePort != 80 || web.Ports[0].PublicPort != 8080 {
			t.Errorf("web.Ports = %+v", web.Ports)
		}
		if web.Created == 0 {
			t.Error("web.Created is zero")
		}

		if db := byName["db"]; db.State != "exited" {
			t.Errorf("db.State = %q, want exited", db.State)
		}
	})

	t.Run("default list is running only", func(t *testing.T) {
		containers, err := cli.ListContainers(ctx, false)
		if err != nil {
			t.Fatalf("ListContainers: %v", err)
		}
		for _, c := range containers {
			if c.State != "running" {
				t.Errorf("running-only list contains %v in state %q", c.Names, c.State)
			}
		}
		if len(containers) != 2 {
			t.Errorf("got %d running containers, want 2", len(containers))
		}
	})

	t.Run("inspect by name", func(t *testing.T) {
		d, err := cli.InspectContainer(ctx, "web")
		if err != nil {
			t.Fatalf("InspectContainer: %v", err)
		}
		if d.Names[0] != "web" {
			t.Errorf("Names[0] = %q", d.Names[0])
		}
		if d.Command != "nginx -g daemon off;" {
			t.Errorf("Command = %q", d.Command)
		}
		if d.NetworkMode != "bridge" {
			t.Errorf("NetworkMode = %q", d.NetworkMode)
		}
		if d.RestartPolicy != "unless-stopped" {
			t.Errorf("RestartPolicy = %q", d.RestartPolicy)
		}
		if len(d.Env) == 0 || !strings.HasPrefix(d.Env[len(d.Env)-1], "NGINX_VERSION=") {
			t.Errorf("Env = %v", d.Env)
		}
		if len(d.Mounts) != 1 || d.Mounts[0].Destination != "/usr/share/nginx/html" || d.Mounts[0].Mode != "ro" {
			t.Errorf("Mounts = %+v", d.Mounts)
		}
		if len(d.Ports) != 1 || d.Ports[0].PublicPort != 8080 {
			t.Errorf("Ports = %+v", d.Ports)
		}
		if d.Created == 0 {
			t.Error("Created is zero; inspect timestamps are RFC3339 and should parse")
		}
	})

	t.Run("inspect missing is not found", func(t *testing.T) {
		_, err := cli.InspectContainer(ctx, "ghost")
		if err == nil {
			t.Fatal("expected error for missing container")
		}
		if de := Classify(err); de.Kind != KindNotFound {
			t.Errorf("Classify(%v).Kind = %v, want %v", err, de.Kind, KindNotFound)
		}
	})
}

func TestSDKLifecycle(t *testing.T) {
	t.Parallel()
	fd, cli := startTestEngine(t)
	ctx := context.Background()

	if err := cli.StopContainer(ctx, "cache"); err != nil {
		t.Fatalf("StopContainer: %v", err)
	}
	if state := fd.ContainerState("cache"); state != "exited" {
		t.Fatalf("cache state = %q after stop, want exited", state)
	}

	containers, err := cli.ListContainers(ctx, false)
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	for _, c := range containers {
		if c.Names[0] == "cache" {
			t.Error("stopped container still in running-only list")
		}
	}

	if err := cli.StartContainer(ctx, "cache"); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}
	if state := fd.ContainerState("cache"); state != "running" {
		t.Fatalf("cache state = %q after start, want running", state)
	}

	// Stopping an already-stopped container is not an error.
	if err := cli.StopContainer(ctx, "db"); err != nil {
		t.Errorf("StopContainer on exited container: %v", err)
	}

	err = cli.StartContainer(ctx, "ghost")
	if err == nil {
		t.Fatal("expected error starting missing container")
	}
	if de := Classify(err); de.Kind != KindNotFound {
		t.Errorf("Classify(%v).Kind = %v, want %v", err, de.Kind, KindNotFound)
	}
}

func TestSDKCreateAndRemove(t *testing.T) {
	t.Parallel()
	_, cli := startTestEngine(t)
	ctx := context.Background()

	id, err := cli.CreateContainer(ctx, CreateSpec{
		Name:    "job",
		Image:   "alpine:3.20",
		Ports:   []string{"9090:80"},
		Env:     []string{"JOB_MODE=batch"},
		Volumes: []string{"/tmp/jobdata:/data:ro"},
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if id == "" {
		t.Fatal("CreateContainer returned empty ID")
	}

	d, err := cli.InspectContainer(ctx, "job")
	if err != nil {
		t.Fatalf("InspectContainer: %v", err)
	}
	if d.ID != id {
		t.Errorf("inspect ID = %q, want %q", d.ID, id)
	}
	if d.State != "created" {
		t.Errorf("State = %q, want created", d.State)
	}
	if len(d.Ports) != 1 || d.Ports[0].PrivatePort != 80 || d.Ports[0].PublicPort != 9090 {
		t.Errorf("Ports = %+v", d.Ports)
	}
	if len(d.Env) != 1 || d.Env[0] != "JOB_MODE=batch" {
		t.Errorf("Env = %v", d.Env)
	}
	if len(d.Mounts) != 1 || d.Mounts[0].Destination != "/data" || d.Mounts[0].Mode != "ro" {
		t.Errorf("Mounts = %+v", d.Mounts)
	}

	t.Run("duplicate name conflicts", func(t *testing.T) {
		_, err := cli.CreateContainer(ctx, CreateSpec{Name: "job", Image: "alpine:3.20"})
		if err == nil {
			t.Fatal("expected conflict creating duplicate name")
		}
	})

	t.Run("missing image is not found", func(t *testing.T) {
		_, err := cli.CreateContainer(ctx, CreateSpec{Name: "nope", Image: "ghost:1"})
		if err == nil {
			t.Fatal("expected error for missing image")
		}
		if de := Classify(err); de.Kind != KindNotFound {
			t.Errorf("Classify(%v).Kind = %v, want %v", err, de.Kind, KindNotFound)
		}
	})

	if err := cli.StartContainer(ctx, id); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}
	if err := cli.RemoveContainer(ctx, id, false); err == nil {
		t.Fatal("expected error removing running container without force")
	}
	if err := cli.RemoveContainer(ctx, id, true); err != nil {
		t.Fatalf("RemoveContainer force: %v", err)
	}
	if _, err := cli.InspectContainer(ctx, "job"); err == nil {
		t.Fatal("container still present after remove")
	}
}

func TestSDKStats(t *testing.T) {
	t.Parallel()
	_, cli := startTestEngine(t)
	ctx := context.Background()

	t.Run("running container", func(t *testing.T) {
		st, err := cli.ContainerStats(ctx, "web")
		if err != nil {
			t.Fatalf("ContainerStats: %v", err)
		}
		if st.CPUUsagePercent <= 0 {
			t.Errorf("CPUUsagePercent = %v, want > 0", st.CPUUsagePercent)
		}
		if st.MemoryLimit != 2147483648 {
			t.Errorf("MemoryLimit = %d", st.MemoryLimit)
		}
		if st.MemoryUsagePercent <= 0 || st.MemoryUsagePercent >= 100 {
			t.Errorf("MemoryUsagePercent = %v", st.MemoryUsagePercent)
		}
		if st.NetworkRxBytes == 0 {
			t.Error("NetworkRxBytes = 0, want > 0")
		}
	})

	t.Run("stopped container reports zeros", func(t *testing.T) {
		st, err := cli.ContainerStats(ctx, "db")
		if err != nil {
			t.Fatalf("ContainerStats: %v", err)
		}
		if st.CPUUsagePercent != 0 {
			t.Errorf("CPUUsagePercent = %v, want 0", st.CPUUsagePercent)
		}
		if st.MemoryUsage != 0 || st.MemoryUsagePercent != 0 {
			t.Errorf("memory = %d / %v%%, want zeros", st.MemoryUsage, st.MemoryUsagePercent)
		}
	})

	t.Run("collect all samples running containers", func(t *testing.T) {
		all, err := CollectAll(ctx, cli, 4)
		if err != nil {
			t.Fatalf("CollectAll: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("got %d samples %v, want 2", len(all), keysOf(all))
		}
		if _, ok := all["web"]; !ok {
			t.Error("missing sample for web")
		}
		if _, ok := all["cache"]; !ok {
			t.Error("missing sample for cache")
		}
	})
}

func keysOf(m map[string]Stats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestSDKLogs(t *testing.T) {
	t.Parallel()
	fd, cli := startTestEngine(t)
	fd.SetFollowInterval(20 * time.Millisecond)
	ctx := context.Background()

	t.Run("tail", func(t *testing.T) {
		lines, err := cli.ContainerLogs(ctx, "web", 2)
		if err != nil {
			t.Fatalf("ContainerLogs: %v", err)
		}
		if len(lines) != 2 {
			t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
		}
		if !strings.Contains(lines[1], "/api/health") {
			t.Errorf("last line = %q", lines[1])
		}
	})

	t.Run("all", func(t *testing.T) {
		lines, err := cli.ContainerLogs(ctx, "db", 0)
		if err != nil {
			t.Fatalf("ContainerLogs: %v", err)
		}
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want 3", len(lines))
		}
	})

	t.Run("follow", func(t *testing.T) {
		fctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := cli.FollowLogs(fctx, "cache", 1)
		if err != nil {
			t.Fatalf("FollowLogs: %v", err)
		}
		defer stream.Close()

		scanner := bufio.NewScanner(stream)

		if !scanner.Scan() {
			t.Fatalf("no initial line: %v", scanner.Err())
		}
		if !scanner.Scan() {
			t.Fatalf("no follow line: %v", scanner.Err())
		}
		if line := scanner.Text(); !strings.Contains(line, "heartbeat") {
			t.Errorf("follow line = %q", line)
		}

		// Cancelling the context must end the stream instead of leaving the
		// reader blocked.
		cancel()
		done := make(chan struct{})
		go func() {
			for scanner.Scan() {
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("stream still open after cancel")
		}
	})
}

func TestSDKPull(t *testing.T) {
	t.Parallel()
	_, cli := startTestEngine(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		progress, errs, err := cli.PullImage(ctx, "busybox")
		if err != nil {
			t.Fatalf("PullImage: %v", err)
		}

		var sawTotal, sawDone bool
		for p := range progress {
			if p.Total > 0 && p.Current > 0 {
				sawTotal = true
			}
			if strings.Contains(p.Status, "Downloaded newer image") {
				sawDone = true
			}
		}
		if err := <-errs; err != nil {
			t.Fatalf("pull failed: %v", err)
		}
		if !sawTotal {
			t.Error("no progress item carried byte counts")
		}
		if !sawDone {
			t.Error("no terminal status item")
		}

		images, err := cli.ListImages(ctx)
		if err != nil {
			t.Fatalf("ListImages: %v", err)
		}
		found := false
		for _, img := range images {
			for _, tag := range img.RepoTags {
				if tag == "busybox:latest" {
					found = true
				}
			}
		}
		if !found {
			t.Error("pulled image not in image list")
		}
	})

	t.Run("denied", func(t *testing.T) {
		progress, errs, err := cli.PullImage(ctx, "unknownrepo/missing")
		if err != nil {
			t.Fatalf("PullImage: %v", err)
		}
		for range progress {
		}
		err = <-errs
		if err == nil {
			t.Fatal("expected pull error")
		}
		if !strings.Contains(err.Error(), "pull access denied") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestSDKRemoveImage(t *testing.T) {
	t.Parallel()
	_, cli := startTestEngine(t)
	ctx := context.Background()

	if err := cli.RemoveImage(ctx, "alpine:3.20", false); err != nil {
		t.Fatalf("RemoveImage unused: %v", err)
	}
	images, err := cli.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == "alpine:3.20" {
				t.Error("image still listed after remove")
			}
		}
	}

	if err := cli.RemoveImage(ctx, "nginx:1.27", false); err == nil {
		t.Fatal("expected conflict removing image used by a container")
	}
	if err := cli.RemoveImage(ctx, "nginx:1.27", true); err != nil {
		t.Fatalf("RemoveImage force: %v", err)
	}

	if err := cli.RemoveImage(ctx, "ghost:9", false); err == nil {
		t.Fatal("expected error removing missing image")
	} else if de := Classify(err); de.Kind != KindNotFound {
		t.Errorf("Classify(%v).Kind = %v, want %v", err, de.Kind, KindNotFound)
	}
}

func TestSDKEvents(t *testing.T) {
	t.Parallel()
	fd, cli := startTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, errs := cli.Events(ctx)

	// The subscription registers when the HTTP request lands, so publish
	// until the first event comes back.
	var got Event
	deadline := time.After(5 * time.Second)
loop:
	for {
		fd.PublishContainerEvent("start", "web")
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("event channel closed early")
			}
			got = evt
			break loop
		case err := <-errs:
			t.Fatalf("event stream error: %v", err)
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(25 * time.Millisecond):
		}
	}

	if got.Type != "container" || got.Action != "start" {
		t.Errorf("event = %s/%s, want container/start", got.Type, got.Action)
	}
	if got.Actor.Attributes["name"] != "web" {
		t.Errorf("Actor.Attributes = %v", got.Actor.Attributes)
	}
	if got.Time == 0 {
		t.Error("event time is zero")
	}

	// A real lifecycle change publishes too.
	if err := cli.StopContainer(ctx, "web"); err != nil {
		t.Fatalf("StopContainer: %v", err)
	}
	sawDie := false
	timeout := time.After(5 * time.Second)
	for !sawDie {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("event channel closed early")
			}
			if evt.Action == "die" && evt.Actor.Attributes["name"] == "web" {
				sawDie = true
			}
		case err := <-errs:
			t.Fatalf("event stream error: %v", err)
		case <-timeout:
			t.Fatal("no die event after stop")
		}
	}

	// Cancelling the consumer closes both channels.
	cancel()
	closedDeadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-closedDeadline:
			t.Fatal("event channel not closed after cancel")
		}
	}
}
