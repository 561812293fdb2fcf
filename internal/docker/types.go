package docker

// ConnState is the manager's view of the engine connection.
type ConnState string

const (
	StateUninitialized ConnState = "uninitialized"
	StateConnected     ConnState = "connected"
	StateDisconnected  ConnState = "disconnected"
	StateError         ConnState = "error"
)

// Status is the probed connection state reported to the frontend.
type Status struct {
	State   ConnState `json:"state"`
	Message string    `json:"message,omitempty"`
}

// Container is an immutable snapshot of one container from a single list
// query. It is never mutated in place, only replaced by a fresh query.
type Container struct {
	ID      string            `json:"id"`
	Names   []string          `json:"names"`
	Image   string            `json:"image"`
	ImageID string            `json:"image_id"`
	State   string            `json:"state"`  // running, exited, created, paused, dead, ...
	Status  string            `json:"status"` // human text, e.g. "Up 2 hours"
	Labels  map[string]string `json:"labels"`
	Ports   []Port            `json:"ports"`
	Created int64             `json:"created"` // Unix seconds
}

// Port is one published port mapping.
type Port struct {
	IP          string `json:"ip,omitempty"`
	PrivatePort uint16 `json:"private_port"`
	PublicPort  uint16 `json:"public_port,omitempty"`
	Type        string `json:"type"` // tcp, udp, sctp
}

// Image is an immutable snapshot of one local image.
type Image struct {
	ID       string   `json:"id"` // content hash without the algorithm prefix
	RepoTags []string `json:"repo_tags"`
	Size     int64    `json:"size"`    // bytes
	Created  int64    `json:"created"` // Unix seconds
}

// ContainerDetails extends Container with the inspect-only fields. Produced
// only on an explicit inspect request.
type ContainerDetails struct {
	Container
	Command       string   `json:"command"`
	Env           []string `json:"env"`
	Mounts        []Mount  `json:"mounts"`
	NetworkMode   string   `json:"network_mode"`
	RestartPolicy string   `json:"restart_policy"`
}

// Mount is one volume or bind mount of a container.
type Mount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
}

// Stats is a point-in-time resource sample derived from cumulative counters.
// Recomputed on every request, never cached.
type Stats struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsage        uint64  `json:"memory_usage"`
	MemoryLimit        uint64  `json:"memory_limit"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	NetworkRxBytes     uint64  `json:"network_rx_bytes"`
	NetworkTxBytes     uint64  `json:"network_tx_bytes"`
	BlockReadBytes     uint64  `json:"block_read_bytes"`
	BlockWriteBytes    uint64  `json:"block_write_bytes"`
}

// Event is an engine lifecycle event, passed through to subscribers in
// arrival order.
type Event struct {
	Type   string     `json:"type"`
	Action string     `json:"action"`
	Actor  EventActor `json:"actor"`
	Time   int64      `json:"time"`
}

// EventActor identifies the object an event is about.
type EventActor struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

// PullProgress is one progress item from an image pull stream.
type PullProgress struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
}

// CreateSpec describes a container to create. Ports use the CLI syntax
// "[host:]container[/proto]" and volumes "host:container[:mode]".
type CreateSpec struct {
	Name    string   `json:"name"`
	Image   string   `json:"image"`
	Ports   []string `json:"ports"`
	Env     []string `json:"env"`
	Volumes []string `json:"volumes"`
}

// VersionInfo is the engine's reported version.
type VersionInfo struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
}
