package docker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types/container"
	"golang.org/x/sync/semaphore"
)

// deriveStats converts one engine stats sample into a point-in-time value.
// The engine includes the previous counters in the same response, so a single
// query is enough to derive rates.
func deriveStats(raw container.StatsResponse) Stats {
	usage := raw.MemoryStats.Usage
	limit := raw.MemoryStats.Limit
	memPct := 0.0
	if limit > 0 {
		memPct = float64(usage) / float64(limit) * 100.0
	}

	rx, tx := networkTotals(raw)
	blkRead, blkWrite := blockTotals(raw)

	return Stats{
		CPUUsagePercent:    cpuPercent(raw),
		MemoryUsage:        usage,
		MemoryLimit:        limit,
		MemoryUsagePercent: memPct,
		NetworkRxBytes:     rx,
		NetworkTxBytes:     tx,
		BlockReadBytes:     blkRead,
		BlockWriteBytes:    blkWrite,
	}
}

// cpuPercent derives CPU usage from the counter deltas between the current
// and previous sample. Deltas clamp at zero so a counter reset after a
// daemon restart cannot go negative. A daemon that does not report online
// CPUs counts as one.
func cpuPercent(raw container.StatsResponse) float64 {
	var cpuDelta, sysDelta float64
	if cur, prev := raw.CPUStats.CPUUsage.TotalUsage, raw.PreCPUStats.CPUUsage.TotalUsage; cur > prev {
		cpuDelta = float64(cur - prev)
	}
	if cur, prev := raw.CPUStats.SystemUsage, raw.PreCPUStats.SystemUsage; cur > prev {
		sysDelta = float64(cur - prev)
	}
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	cpus := float64(raw.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	return (cpuDelta / sysDelta) * cpus * 100.0
}

func networkTotals(raw container.StatsResponse) (rx, tx uint64) {
	for _, nw := range raw.Networks {
		rx += nw.RxBytes
		tx += nw.TxBytes
	}
	return rx, tx
}

// blockTotals sums the per-device byte counters whose operation is a read or
// a write. The daemon reports the operation label capitalized or not
// depending on the cgroup version; any other operation is ignored.
func blockTotals(raw container.StatsResponse) (read, write uint64) {
	for _, entry := range raw.BlkioStats.IoServiceBytesRecursive {
		switch entry.Op {
		case "read", "Read":
			read += entry.Value
		case "write", "Write":
			write += entry.Value
		}
	}
	return read, write
}

// CollectAll samples every running container, keyed by primary name (ID when
// nameless). Each sample blocks about a second on the daemon's delta window,
// so fetches run concurrently, at most limit in flight. Containers that
// disappear mid-collection are skipped.
func CollectAll(ctx context.Context, c Client, limit int64) (map[string]Stats, error) {
	containers, err := c.ListContainers(ctx, false)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 8
	}

	sem := semaphore.NewWeighted(limit)
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]Stats, len(containers))
	)

	for _, ct := range containers {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ct Container) {
			defer wg.Done()
			defer sem.Release(1)

			st, err := c.ContainerStats(ctx, ct.ID)
			if err != nil {
				slog.Debug("stats sample failed", "container", ct.ID, "err", err)
				return
			}
			key := ct.ID
			if len(ct.Names) > 0 {
				key = ct.Names[0]
			}
			mu.Lock()
			out[key] = *st
			mu.Unlock()
		}(ct)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
