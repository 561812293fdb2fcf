package handlers_test

import (
	"testing"

	"github.com/fosslife/rykard/internal/testutil"
)

func TestListContainers(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	// No argument means everything, including stopped containers.
	resp := env.SendAndReceive(t, conn, "list_containers")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("list_containers failed: %v", resp)
	}
	all, _ := resp["containers"].([]interface{})
	if len(all) != 3 {
		t.Fatalf("got %d containers, want 3", len(all))
	}

	states := map[string]string{}
	for _, raw := range all {
		c, _ := raw.(map[string]interface{})
		names, _ := c["names"].([]interface{})
		if len(names) == 0 {
			t.Fatal("container without names")
		}
		name, _ := names[0].(string)
		state, _ := c["state"].(string)
		states[name] = state
	}
	if states["web"] != "running" || states["db"] != "exited" {
		t.Errorf("states = %v", states)
	}

	resp = env.SendAndReceive(t, conn, "list_containers", false)
	running, _ := resp["containers"].([]interface{})
	if len(running) != 2 {
		t.Errorf("got %d running containers, want 2", len(running))
	}
}

func TestGetContainerConfig(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "get_container_config", "web")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("get_container_config failed: %v", resp)
	}
	container, _ := resp["container"].(map[string]interface{})
	if container == nil {
		t.Fatal("no container in response")
	}
	if image, _ := container["image"].(string); image != "nginx:1.27" {
		t.Errorf("image = %q", image)
	}
	if mode, _ := container["network_mode"].(string); mode != "bridge" {
		t.Errorf("network_mode = %q", mode)
	}
	if policy, _ := container["restart_policy"].(string); policy != "unless-stopped" {
		t.Errorf("restart_policy = %q", policy)
	}
	ports, _ := container["ports"].([]interface{})
	if len(ports) != 1 {
		t.Fatalf("ports = %v", ports)
	}
	port, _ := ports[0].(map[string]interface{})
	if pub, _ := port["public_port"].(float64); pub != 8080 {
		t.Errorf("public_port = %v", pub)
	}
	mounts, _ := container["mounts"].([]interface{})
	if len(mounts) != 1 {
		t.Errorf("mounts = %v", mounts)
	}

	t.Run("missing name", func(t *testing.T) {
		resp := env.SendAndReceive(t, conn, "get_container_config")
		if msg, _ := resp["msg"].(string); msg != "Container name required" {
			t.Errorf("msg = %q", msg)
		}
	})

	t.Run("unknown container", func(t *testing.T) {
		resp := env.SendAndReceive(t, conn, "get_container_config", "ghost")
		if ok, _ := resp["ok"].(bool); ok {
			t.Fatal("expected error for unknown container")
		}
		if kind, _ := resp["kind"].(string); kind != "not_found" {
			t.Errorf("kind = %q, want not_found", kind)
		}
	})
}

func TestContainerLifecycle(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "stop_container", "cache")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("stop_container failed: %v", resp)
	}
	if state := env.Daemon.ContainerState("cache"); state != "exited" {
		t.Errorf("cache state = %q after stop", state)
	}

	resp = env.SendAndReceive(t, conn, "start_container", "cache")
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("start_container failed: %v", resp)
	}
	if state := env.Daemon.ContainerState("cache"); state != "running" {
		t.Errorf("cache state = %q after start", state)
	}

	resp = env.SendAndReceive(t, conn, "start_container", "ghost")
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatal("expected error starting unknown container")
	}
	if kind, _ := resp["kind"].(string); kind != "not_found" {
		t.Errorf("kind = %q, want not_found", kind)
	}
}

func TestCreateAndRemoveContainer(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "create_container", map[string]interface{}{
		"name":    "worker",
		"image":   "alpine:3.20",
		"ports":   []string{"7070:80"},
		"env":     []string{"WORKER_MODE=fast"},
		"volumes": []string{"/tmp/work:/work:rw"},
	})
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("create_container failed: %v", resp)
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("no id in create response")
	}

	resp = env.SendAndReceive(t, conn, "get_container_config", "worker")
	container, _ := resp["container"].(map[string]interface{})
	if state, _ := container["state"].(string); state != "created" {
		t.Errorf("state = %q, want created", state)
	}
	ports, _ := container["ports"].([]interface{})
	if len(ports) != 1 {
		t.Fatalf("ports = %v", ports)
	}
	port, _ := ports[0].(map[string]interface{})
	if pub, _ := port["public_port"].(float64); pub != 7070 {
		t.Errorf("public_port = %v", pub)
	}

	resp = env.SendAndReceive(t, conn, "remove_container", "worker", true)
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("remove_container failed: %v", resp)
	}
	if state := env.Daemon.ContainerState("worker"); state != "" {
		t.Errorf("worker still present in state %q", state)
	}
}

func TestCreateContainerRequiresImage(t *testing.T) {
	env := testutil.Setup(t)
	env.SeedAdmin(t)

	conn := env.DialWS(t)
	env.Login(t, conn)

	resp := env.SendAndReceive(t, conn, "create_container", map[string]interface{}{"name": "noimg"})
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatal("expected create without image to fail")
	}
	if msg, _ := resp["msg"].(string); msg != "Image is required" {
		t.Errorf("msg = %q", msg)
	}
}
