package docker

import (
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"
)

// normalizeName strips the path-separator prefix the engine prepends to
// container names ("/web-1" to "web-1").
func normalizeName(name string) string {
	return strings.TrimPrefix(name, "/")
}

// normalizeID strips the digest algorithm prefix from an image ID.
func normalizeID(id string) string {
	return strings.TrimPrefix(id, "sha256:")
}

// containerFromSummary maps one engine list entry onto the canonical record.
// Every optional field defaults independently so a sparse summary still
// yields a usable record.
func containerFromSummary(c container.Summary) Container {
	names := make([]string, 0, len(c.Names))
	for _, n := range c.Names {
		names = append(names, normalizeName(n))
	}

	labels := c.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	ports := make([]Port, 0, len(c.Ports))
	for _, p := range c.Ports {
		typ := p.Type
		if typ == "" {
			typ = "tcp"
		}
		ports = append(ports, Port{
			IP:          p.IP,
			PrivatePort: p.PrivatePort,
			PublicPort:  p.PublicPort,
			Type:        typ,
		})
	}

	return Container{
		ID:      c.ID,
		Names:   names,
		Image:   c.Image,
		ImageID: normalizeID(c.ImageID),
		State:   c.State,
		Status:  c.Status,
		Labels:  labels,
		Ports:   ports,
		Created: c.Created,
	}
}

// imageFromSummary maps one engine image entry onto the canonical record.
func imageFromSummary(img image.Summary) Image {
	tags := img.RepoTags
	if tags == nil {
		tags = []string{}
	}
	return Image{
		ID:       normalizeID(img.ID),
		RepoTags: tags,
		Size:     img.Size,
		Created:  img.Created,
	}
}

// detailsFromInspect walks the nested inspect result into ContainerDetails.
// Config and HostConfig may each be absent and are defaulted independently:
// no config means empty command, env and labels; no host config means empty
// network mode and a "no" restart policy.
func detailsFromInspect(raw container.InspectResponse) ContainerDetails {
	if raw.ContainerJSONBase == nil {
		raw.ContainerJSONBase = &container.ContainerJSONBase{}
	}
	d := ContainerDetails{
		Container: Container{
			ID:      raw.ID,
			Names:   []string{normalizeName(raw.Name)},
			ImageID: normalizeID(raw.Image),
			Labels:  map[string]string{},
		},
		Env:           []string{},
		RestartPolicy: "no",
	}

	if created, err := time.Parse(time.RFC3339Nano, raw.Created); err == nil {
		d.Created = created.UTC().Unix()
	}

	cmd := make([]string, 0, 1+len(raw.Args))
	if raw.Path != "" {
		cmd = append(cmd, raw.Path)
	}
	cmd = append(cmd, raw.Args...)
	d.Command = strings.Join(cmd, " ")

	if raw.State != nil {
		d.State = raw.State.Status
	}

	if cfg := raw.Config; cfg != nil {
		d.Image = cfg.Image
		if cfg.Env != nil {
			d.Env = cfg.Env
		}
		if cfg.Labels != nil {
			d.Labels = cfg.Labels
		}
	}

	if hc := raw.HostConfig; hc != nil {
		d.NetworkMode = string(hc.NetworkMode)
		if name := string(hc.RestartPolicy.Name); name != "" {
			d.RestartPolicy = name
		}
	}

	d.Mounts = make([]Mount, 0, len(raw.Mounts))
	for _, m := range raw.Mounts {
		d.Mounts = append(d.Mounts, Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        m.Mode,
		})
	}

	if raw.NetworkSettings != nil {
		d.Ports = portsFromBindings(raw.NetworkSettings.Ports)
	} else {
		d.Ports = []Port{}
	}

	return d
}

// portsFromBindings expands the inspect port map. One container port bound on
// several host addresses yields one entry per binding; an exposed but unbound
// port yields a single entry with no public side.
func portsFromBindings(pm nat.PortMap) []Port {
	ports := make([]Port, 0, len(pm))
	for port, bindings := range pm {
		private := uint16(port.Int())
		proto := port.Proto()
		if len(bindings) == 0 {
			ports = append(ports, Port{PrivatePort: private, Type: proto})
			continue
		}
		for _, b := range bindings {
			public, _ := nat.ParsePort(b.HostPort)
			ports = append(ports, Port{
				IP:          b.HostIP,
				PrivatePort: private,
				PublicPort:  uint16(public),
				Type:        proto,
			})
		}
	}
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].PrivatePort != ports[j].PrivatePort {
			return ports[i].PrivatePort < ports[j].PrivatePort
		}
		return ports[i].PublicPort < ports[j].PublicPort
	})
	return ports
}

// buildPortMaps expands CLI-style port specs into the exposed set and host
// bindings a create call expects.
func buildPortMaps(specs []string) (nat.PortSet, nat.PortMap, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, s := range specs {
		mappings, err := nat.ParsePortSpec(s)
		if err != nil {
			return nil, nil, opErrorf("invalid port spec %q: %v", s, err)
		}
		for _, pm := range mappings {
			exposed[pm.Port] = struct{}{}
			bindings[pm.Port] = append(bindings[pm.Port], pm.Binding)
		}
	}
	return exposed, bindings, nil
}

// eventFromMessage converts an engine event. The payload passes through
// beyond renaming; subscribers see what the engine sent.
func eventFromMessage(msg events.Message) Event {
	attrs := msg.Actor.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return Event{
		Type:   string(msg.Type),
		Action: string(msg.Action),
		Actor:  EventActor{ID: msg.Actor.ID, Attributes: attrs},
		Time:   msg.Time,
	}
}
