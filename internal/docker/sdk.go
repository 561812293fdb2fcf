package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// SDKClient implements Client over the Docker Engine API.
type SDKClient struct {
	cli *client.Client
}

// NewSDKClient connects via DOCKER_HOST or the default socket; a non-empty
// host overrides both. Construction performs no I/O, so a returned client is
// not proof the daemon is reachable.
func NewSDKClient(host string) (*SDKClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker sdk: %w", err)
	}
	return &SDKClient{cli: cli}, nil
}

func (s *SDKClient) ListContainers(ctx context.Context, all bool) ([]Container, error) {
	raw, err := s.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	result := make([]Container, 0, len(raw))
	for _, c := range raw {
		result = append(result, containerFromSummary(c))
	}
	return result, nil
}

func (s *SDKClient) InspectContainer(ctx context.Context, id string) (*ContainerDetails, error) {
	raw, err := s.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("container inspect: %w", err)
	}
	details := detailsFromInspect(raw)
	return &details, nil
}

func (s *SDKClient) StartContainer(ctx context.Context, id string) error {
	if err := s.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

func (s *SDKClient) StopContainer(ctx context.Context, id string) error {
	if err := s.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

func (s *SDKClient) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// CreateContainer creates a container from spec but does not start it.
func (s *SDKClient) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	exposed, bindings, err := buildPortMaps(spec.Ports)
	if err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Volumes,
	}

	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

func (s *SDKClient) ListImages(ctx context.Context) ([]Image, error) {
	raw, err := s.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("image list: %w", err)
	}
	result := make([]Image, 0, len(raw))
	for _, img := range raw {
		result = append(result, imageFromSummary(img))
	}
	return result, nil
}

// PullImage normalizes ref the way the CLI does ("redis" becomes
// "docker.io/library/redis:latest") and decodes the daemon's progress stream
// item by item.
func (s *SDKClient) PullImage(ctx context.Context, ref string) (<-chan PullProgress, <-chan error, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return nil, nil, opErrorf("invalid image reference %q: %v", ref, err)
	}
	full := reference.FamiliarString(reference.TagNameOnly(named))

	rc, err := s.cli.ImagePull(ctx, full, image.PullOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("image pull: %w", err)
	}

	out := make(chan PullProgress, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		defer rc.Close()

		dec := json.NewDecoder(rc)
		for {
			var msg jsonmessage.JSONMessage
			if err := dec.Decode(&msg); err != nil {
				if err != io.EOF && ctx.Err() == nil {
					errCh <- fmt.Errorf("pull progress: %w", err)
				}
				return
			}
			if msg.Error != nil {
				errCh <- fmt.Errorf("image pull: %s", msg.Error.Message)
				return
			}

			p := PullProgress{Status: msg.Status, ID: msg.ID}
			if msg.Progress != nil {
				p.Current = msg.Progress.Current
				p.Total = msg.Progress.Total
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh, nil
}

func (s *SDKClient) RemoveImage(ctx context.Context, id string, force bool) error {
	_, err := s.cli.ImageRemove(ctx, id, image.RemoveOptions{Force: force, PruneChildren: true})
	if err != nil {
		return fmt.Errorf("image remove: %w", err)
	}
	return nil
}

// ContainerStats takes a single one-shot sample.
func (s *SDKClient) ContainerStats(ctx context.Context, id string) (*Stats, error) {
	resp, err := s.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	st := deriveStats(raw)
	return &st, nil
}

func (s *SDKClient) ContainerLogs(ctx context.Context, id string, tail int) ([]string, error) {
	rc, err := s.openLogs(ctx, id, tail, false)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readLines(rc)
}

func (s *SDKClient) FollowLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	return s.openLogs(ctx, id, tail, true)
}

// openLogs opens the log stream. The engine multiplexes stdout and stderr
// with framing headers unless the container allocated a TTY, so non-TTY
// streams are demuxed through a pipe.
func (s *SDKClient) openLogs(ctx context.Context, id string, tail int, follow bool) (io.ReadCloser, error) {
	insp, err := s.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect for logs: %w", err)
	}
	tty := insp.Config != nil && insp.Config.Tty

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       strconv.Itoa(tail),
	}
	if tail <= 0 {
		opts.Tail = "all"
	}

	stream, err := s.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	if tty {
		return stream, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, stream)
		stream.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// readLines splits a log stream into lines without the trailing newline.
func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lines := []string{}
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return lines, nil
}

func (s *SDKClient) Events(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event, 64)
	outErr := make(chan error, 1)

	msgCh, errCh := s.cli.Events(ctx, events.ListOptions{})

	go func() {
		defer close(out)
		defer close(outErr)

		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case out <- eventFromMessage(msg):
				case <-ctx.Done():
					return
				}

			case err, ok := <-errCh:
				if !ok {
					return
				}
				select {
				case outErr <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return out, outErr
}

func (s *SDKClient) Ping(ctx context.Context) error {
	if _, err := s.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (s *SDKClient) ServerVersion(ctx context.Context) (*VersionInfo, error) {
	v, err := s.cli.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("server version: %w", err)
	}
	return &VersionInfo{
		Version:    v.Version,
		APIVersion: v.APIVersion,
		OS:         v.Os,
		Arch:       v.Arch,
	}, nil
}

func (s *SDKClient) Close() error {
	return s.cli.Close()
}

// Ensure SDKClient implements Client at compile time.
var _ Client = (*SDKClient)(nil)
