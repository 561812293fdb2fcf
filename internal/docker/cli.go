package docker

import (
	"context"
	"strconv"
	"strings"
)

// Explicit output templates keep the CLI output parseable regardless of the
// terminal's column widths. The field order is what the line parsers expect.
const (
	imagesFormat = "{{.ID}}|{{.Repository}}:{{.Tag}}|{{.Size}}|{{.CreatedAt}}"
	statsFormat  = "{{.CPUPerc}}|{{.MemUsage}}|{{.MemPerc}}|{{.NetIO}}|{{.BlockIO}}"
)

// CLIClient serves image listings, stats samples and log tails from docker
// CLI output and delegates everything else to the wrapped API client. Useful
// where the API socket is proxied or version-skewed but the CLI works.
type CLIClient struct {
	*SDKClient
	runner Runner
}

// NewCLIClient wraps sdk with CLI-backed tabular queries against host.
func NewCLIClient(sdk *SDKClient, host string) *CLIClient {
	return &CLIClient{SDKClient: sdk, runner: NewRunner("docker", host)}
}

// ListImages parses `docker images` template output line by line. Malformed
// lines are dropped rather than failing the whole listing.
func (c *CLIClient) ListImages(ctx context.Context) ([]Image, error) {
	out, err := c.runner.Run(ctx, "images", "--format", imagesFormat)
	if err != nil {
		return nil, err
	}

	images := []Image{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		img, ok := parseImagesLine(line)
		if !ok {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

// ContainerStats parses one line of `docker stats --no-stream` output. An
// empty table means the container is not running or gone, which is reported
// as not found rather than a zero sample.
func (c *CLIClient) ContainerStats(ctx context.Context, id string) (*Stats, error) {
	out, err := c.runner.Run(ctx, "stats", "--no-stream", "--format", statsFormat, id)
	if err != nil {
		return nil, err
	}

	line := firstNonEmptyLine(out)
	if line == "" {
		return nil, notFoundf("no stats for container %s", id)
	}
	st, err := parseStatsLine(line)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ContainerLogs shells out to `docker logs --tail`.
func (c *CLIClient) ContainerLogs(ctx context.Context, id string, tail int) ([]string, error) {
	if tail <= 0 {
		tail = 100
	}
	out, err := c.runner.Run(ctx, "logs", "--tail", strconv.Itoa(tail), id)
	if err != nil {
		return nil, err
	}

	out = strings.TrimRight(out, "\n")
	if out == "" {
		return []string{}, nil
	}
	return strings.Split(out, "\n"), nil
}

// Ensure CLIClient implements Client at compile time.
var _ Client = (*CLIClient)(nil)
