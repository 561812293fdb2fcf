package docker

import (
	"context"
	"io"
)

// Mode selects how the engine is queried for tabular data. It is a
// configuration decision made once at startup, never a per-call fallback.
type Mode string

const (
	// ModeAPI answers everything from the engine's HTTP API.
	ModeAPI Mode = "api"
	// ModeCLI substitutes docker CLI output for image listings, stats and
	// log tails, keeping the API for lifecycle operations and streams.
	ModeCLI Mode = "cli"
)

// Client is the engine boundary. SDKClient implements it over the engine API;
// CLIClient re-serves the tabular queries from docker CLI subprocess output.
// Both produce the same canonical records, so call sites never branch on the
// mode. Every method may block on the daemon and honors ctx cancellation.
type Client interface {
	ListContainers(ctx context.Context, all bool) ([]Container, error)
	InspectContainer(ctx context.Context, id string) (*ContainerDetails, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	CreateContainer(ctx context.Context, spec CreateSpec) (string, error)

	ListImages(ctx context.Context) ([]Image, error)
	// PullImage streams pull progress until completion. The progress channel
	// closes when the pull finishes; a terminal failure arrives on the error
	// channel. Cancel ctx to abort the transfer.
	PullImage(ctx context.Context, ref string) (<-chan PullProgress, <-chan error, error)
	RemoveImage(ctx context.Context, id string, force bool) error

	ContainerStats(ctx context.Context, id string) (*Stats, error)
	ContainerLogs(ctx context.Context, id string, tail int) ([]string, error)
	// FollowLogs opens a live log stream. The caller owns the ReadCloser.
	FollowLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error)

	// Events opens the engine's event stream. Both channels close when the
	// stream ends; a stream-level failure is delivered on the error channel
	// first.
	Events(ctx context.Context) (<-chan Event, <-chan error)

	Ping(ctx context.Context) error
	ServerVersion(ctx context.Context) (*VersionInfo, error)
	Close() error
}

// NewClient builds the engine client for the configured mode. A non-empty
// host overrides DOCKER_HOST and the default socket.
func NewClient(mode Mode, host string) (Client, error) {
	sdk, err := NewSDKClient(host)
	if err != nil {
		return nil, err
	}
	if mode == ModeCLI {
		return NewCLIClient(sdk, host), nil
	}
	return sdk, nil
}
