package docker

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSocket = "/var/run/docker.sock"

// WatchSocket invokes onChange whenever the daemon socket appears or
// disappears, and on a periodic fallback tick for hosts with no watchable
// path (tcp daemons). The watch is on the socket's directory: the socket
// file itself is recreated on daemon restarts, so watching it directly would
// go stale. Runs until ctx is cancelled.
func WatchSocket(ctx context.Context, host string, interval time.Duration, onChange func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	sockPath := socketPath(host)
	var events <-chan fsnotify.Event
	var errs <-chan error

	if sockPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("socket watcher unavailable, polling only", "err", err)
		} else if err := w.Add(filepath.Dir(sockPath)); err != nil {
			slog.Warn("watch socket dir", "dir", filepath.Dir(sockPath), "err", err)
			w.Close()
		} else {
			defer w.Close()
			events = w.Events
			errs = w.Errors
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == sockPath && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove)) {
				slog.Info("docker socket changed", "op", ev.Op.String())
				onChange()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("socket watcher", "err", err)

		case <-ticker.C:
			onChange()
		}
	}
}

// socketPath extracts the filesystem path from a unix:// host, or the default
// daemon socket when host is empty. Remote hosts have no watchable path.
func socketPath(host string) string {
	if host == "" {
		return defaultSocket
	}
	if strings.HasPrefix(host, "unix://") {
		return strings.TrimPrefix(host, "unix://")
	}
	return ""
}
