package docker

import (
	"context"
	"math"
	"testing"

	"github.com/docker/docker/api/types/container"
)

func statsSample(cpuTotal, cpuPrev, sysTotal, sysPrev uint64, cpus uint32) container.StatsResponse {
	return container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: cpuTotal},
			SystemUsage: sysTotal,
			OnlineCPUs:  cpus,
		},
		PreCPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: cpuPrev},
			SystemUsage: sysPrev,
		},
	}
}

func TestCPUPercent(t *testing.T) {
	t.Parallel()

	// cpu delta 200, system delta 1000, 2 CPUs: (200/1000)*2*100 = 40.
	got := cpuPercent(statsSample(1200, 1000, 3000, 2000, 2))
	if math.Abs(got-40.0) > 1e-9 {
		t.Errorf("cpuPercent = %v, want 40.0", got)
	}
}

func TestCPUPercentZeroDeltas(t *testing.T) {
	t.Parallel()

	if got := cpuPercent(statsSample(1000, 1000, 2000, 1000, 4)); got != 0 {
		t.Errorf("zero cpu delta: got %v, want 0", got)
	}
	if got := cpuPercent(statsSample(1200, 1000, 2000, 2000, 4)); got != 0 {
		t.Errorf("zero system delta: got %v, want 0", got)
	}
}

func TestCPUPercentCounterReset(t *testing.T) {
	t.Parallel()

	// Counters going backwards (daemon restart) clamp to zero, never negative.
	if got := cpuPercent(statsSample(500, 1000, 1000, 2000, 2)); got != 0 {
		t.Errorf("reset counters: got %v, want 0", got)
	}
}

func TestCPUPercentDefaultsOnlineCPUs(t *testing.T) {
	t.Parallel()

	// Unreported online CPU count counts as one.
	got := cpuPercent(statsSample(1500, 1000, 2000, 1000, 0))
	if math.Abs(got-50.0) > 1e-9 {
		t.Errorf("cpuPercent = %v, want 50.0", got)
	}
}

func TestDeriveStatsMemory(t *testing.T) {
	t.Parallel()

	raw := container.StatsResponse{
		MemoryStats: container.MemoryStats{Usage: 512, Limit: 1024},
	}
	st := deriveStats(raw)
	if st.MemoryUsage != 512 || st.MemoryLimit != 1024 {
		t.Errorf("memory = %d/%d", st.MemoryUsage, st.MemoryLimit)
	}
	if math.Abs(st.MemoryUsagePercent-50.0) > 1e-9 {
		t.Errorf("MemoryUsagePercent = %v, want 50.0", st.MemoryUsagePercent)
	}
}

func TestDeriveStatsZeroMemoryLimit(t *testing.T) {
	t.Parallel()

	// limit 0 must yield 0 percent, not a division fault.
	raw := container.StatsResponse{
		MemoryStats: container.MemoryStats{Usage: 512, Limit: 0},
	}
	if st := deriveStats(raw); st.MemoryUsagePercent != 0 {
		t.Errorf("MemoryUsagePercent = %v, want 0", st.MemoryUsagePercent)
	}
}

func TestNetworkTotals(t *testing.T) {
	t.Parallel()

	raw := container.StatsResponse{
		Networks: map[string]container.NetworkStats{
			"eth0": {RxBytes: 100, TxBytes: 10},
			"eth1": {RxBytes: 200, TxBytes: 20},
		},
	}
	rx, tx := networkTotals(raw)
	if rx != 300 || tx != 30 {
		t.Errorf("networkTotals = %d/%d, want 300/30", rx, tx)
	}
}

func TestBlockTotals(t *testing.T) {
	t.Parallel()

	raw := container.StatsResponse{
		BlkioStats: container.BlkioStats{
			IoServiceBytesRecursive: []container.BlkioStatEntry{
				{Op: "Read", Value: 100},
				{Op: "read", Value: 50},
				{Op: "Write", Value: 30},
				{Op: "write", Value: 20},
				{Op: "Total", Value: 999}, // ignored
				{Op: "Sync", Value: 999},  // ignored
			},
		},
	}
	read, write := blockTotals(raw)
	if read != 150 {
		t.Errorf("read = %d, want 150", read)
	}
	if write != 50 {
		t.Errorf("write = %d, want 50", write)
	}
}

func TestCollectAll(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{
		listFn: func(ctx context.Context, all bool) ([]Container, error) {
			return []Container{
				{ID: "aaa", Names: []string{"web"}},
				{ID: "bbb", Names: []string{"db"}},
				{ID: "ccc"}, // nameless, keyed by ID
				{ID: "ddd", Names: []string{"gone"}},
			}, nil
		},
		statsFn: func(ctx context.Context, id string) (*Stats, error) {
			if id == "ddd" {
				return nil, notFoundf("no such container %s", id)
			}
			return &Stats{CPUUsagePercent: float64(len(id))}, nil
		},
	}

	got, err := CollectAll(context.Background(), fe, 2)
	if err != nil {
		t.Fatalf("CollectAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (vanished container skipped)", len(got))
	}
	for _, key := range []string{"web", "db", "ccc"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}
