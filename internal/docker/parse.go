package docker

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
	tib = 1 << 40
)

// sizeUnits maps a lowercase suffix to its binary multiplier. Ordered longest
// first so "kib" and "kb" match before the bare "b".
var sizeUnits = []struct {
	suffix string
	mult   float64
}{
	{"kib", kib}, {"mib", mib}, {"gib", gib}, {"tib", tib},
	{"kb", kib}, {"mb", mib}, {"gb", gib}, {"tb", tib},
	{"k", kib}, {"m", mib}, {"g", gib}, {"t", tib},
	{"b", 1},
}

// parseSize converts a human size string from CLI output ("10MB", "1.5GiB",
// "512B") to bytes. Units are binary (1024-based) regardless of spelling.
// A missing or unrecognized unit means the number is already bytes; an empty
// string is zero.
func parseSize(s string) int64 {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0
	}
	mult := 1.0
	num := s
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			num = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * mult))
}

// timestampLayouts are tried in order against CLI timestamp columns.
// `docker images` prints the first form; the others cover older CLI versions
// and trimmed variants.
var timestampLayouts = []string{
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	time.ANSIC,
	"2006-01-02T15:04:05",
}

// parseTimestamp converts a CLI timestamp column to Unix seconds. When no
// layout matches it falls back to the current time: the record's age is then
// wrong but the listing stays usable.
func parseTimestamp(s string) int64 {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Unix()
		}
	}
	slog.Warn("unparsable timestamp, substituting current time", "value", s)
	return time.Now().UTC().Unix()
}

// parseImagesLine parses one line of `docker images` output produced with the
// imagesFormat template. Lines with fewer fields than the template emits are
// malformed and reported with ok=false so the caller can skip them.
func parseImagesLine(line string) (Image, bool) {
	fields := strings.Split(line, "|")
	if len(fields) < 4 {
		return Image{}, false
	}
	return Image{
		ID:       normalizeID(strings.TrimSpace(fields[0])),
		RepoTags: []string{strings.TrimSpace(fields[1])},
		Size:     parseSize(fields[2]),
		Created:  parseTimestamp(fields[3]),
	}, true
}

// parseStatsLine parses one line of `docker stats --no-stream` output
// produced with the statsFormat template.
func parseStatsLine(line string) (Stats, error) {
	fields := strings.Split(strings.TrimSpace(line), "|")
	if len(fields) < 5 {
		return Stats{}, opErrorf("malformed stats line %q", line)
	}
	memUsage, memLimit := parsePair(fields[1])
	rx, tx := parsePair(fields[3])
	blkRead, blkWrite := parsePair(fields[4])
	return Stats{
		CPUUsagePercent:    parsePercent(fields[0]),
		MemoryUsage:        clampBytes(memUsage),
		MemoryLimit:        clampBytes(memLimit),
		MemoryUsagePercent: parsePercent(fields[2]),
		NetworkRxBytes:     clampBytes(rx),
		NetworkTxBytes:     clampBytes(tx),
		BlockReadBytes:     clampBytes(blkRead),
		BlockWriteBytes:    clampBytes(blkWrite),
	}, nil
}

// parsePercent strips a trailing % and parses the remainder. Unparsable
// input counts as zero.
func parsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parsePair splits an "a / b" column and sizes both halves.
func parsePair(s string) (int64, int64) {
	parts := strings.SplitN(s, "/", 2)
	left := parseSize(parts[0])
	var right int64
	if len(parts) == 2 {
		right = parseSize(parts[1])
	}
	return left, right
}

// clampBytes guards the signed parser output before it becomes an unsigned
// byte count.
func clampBytes(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// firstNonEmptyLine returns the first line of out with content, or "".
func firstNonEmptyLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}
