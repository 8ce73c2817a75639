package collector

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/benkietzman/centralmon/internal/wire"
)

const mib = 1024 * 1024

// topCPUCount is how many of the busiest processes are attached to the CPU
// usage field of a system sample.
const topCPUCount = 5

// HostCollector samples the running host via the gopsutil process and
// resource readers. Per-process and whole-host CPU percentages are measured
// against the previous call, so the first sample after startup reports zero
// CPU usage.
type HostCollector struct {
	logger   *slog.Logger
	tzPrefix byte
	now      func() time.Time
}

// NewHost returns a collector for the local host.
func NewHost(logger *slog.Logger) *HostCollector {
	return &HostCollector{
		logger:   logger,
		tzPrefix: timezonePrefix(localTimezone()),
		now:      time.Now,
	}
}

// System implements Collector.
func (c *HostCollector) System(ctx context.Context) (wire.SystemSample, error) {
	var s wire.SystemSample

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return wire.SystemSample{}, err
	}
	s.OS = osName(info.OS)
	s.Release = info.KernelVersion
	s.UptimeDays = int64(info.Uptime / 86400)

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		s.CPUMHz = uint(infos[0].Mhz)
	} else if err != nil {
		c.logger.Warn("cpu info unavailable", slog.Any("error", err))
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.Processors = n
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		s.CPUUsage = uint(pcts[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MainUsed = vm.Used / mib
		s.MainTotal = vm.Total / mib
	} else {
		c.logger.Warn("main memory unavailable", slog.Any("error", err))
	}
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		s.SwapUsed = sw.Used / mib
		s.SwapTotal = sw.Total / mib
	}

	s.Partitions = c.partitions(ctx)

	procs := c.snapshot(ctx)
	s.Processes = len(procs)
	s.TopCPU = topCPU(procs)
	return s, nil
}

// Process implements Collector.
func (c *HostCollector) Process(ctx context.Context, name string) (wire.ProcessSample, error) {
	var matched []processInfo
	for _, p := range c.snapshot(ctx) {
		if p.Name == name {
			matched = append(matched, p)
		}
	}
	return aggregateProcess(name, matched, c.tzPrefix), nil
}

// processInfo is one running process as seen by a snapshot.
type processInfo struct {
	Name       string
	Owner      string
	Start      time.Time
	CPUPercent float64
	ImageKB    uint64
	ResidentKB uint64
}

// snapshot lists every running process. Processes that exit mid-read are
// skipped.
func (c *HostCollector) snapshot(ctx context.Context) []processInfo {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.logger.Warn("process listing unavailable", slog.Any("error", err))
		return nil
	}
	infos := make([]processInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		info := processInfo{Name: name}
		info.Owner, _ = p.UsernameWithContext(ctx)
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = cpu
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			info.ImageKB = mi.VMS / 1024
			info.ResidentKB = mi.RSS / 1024
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			info.Start = time.UnixMilli(ms)
		}
		infos = append(infos, info)
	}
	return infos
}

// partitions reads percent-filled usage for every real mount, sorted by
// mount point.
func (c *HostCollector) partitions(ctx context.Context) []wire.Partition {
	mounts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		c.logger.Warn("partition listing unavailable", slog.Any("error", err))
		return nil
	}
	var parts []wire.Partition
	for _, m := range mounts {
		usage, err := disk.UsageWithContext(ctx, m.Mountpoint)
		if err != nil {
			continue
		}
		parts = append(parts, wire.Partition{Mount: m.Mountpoint, Percent: uint(usage.UsedPercent)})
	}
	wire.SortPartitions(parts)
	return parts
}

// aggregateProcess folds per-instance readings into one daemon sample. The
// start time is the earliest instance's, image and resident carry the total
// alongside the per-instance minimum and maximum, and owners are counted per
// account in sorted order.
func aggregateProcess(name string, procs []processInfo, tzPrefix byte) wire.ProcessSample {
	s := wire.ProcessSample{Name: name, Processes: len(procs)}
	owners := make(map[string]uint)
	var earliest time.Time
	for i, p := range procs {
		owners[p.Owner]++
		s.ImageKB += p.ImageKB
		s.ResidentKB += p.ResidentKB
		if i == 0 || p.ImageKB < s.MinImageKB {
			s.MinImageKB = p.ImageKB
		}
		if p.ImageKB > s.MaxImageKB {
			s.MaxImageKB = p.ImageKB
		}
		if i == 0 || p.ResidentKB < s.MinResidentKB {
			s.MinResidentKB = p.ResidentKB
		}
		if p.ResidentKB > s.MaxResidentKB {
			s.MaxResidentKB = p.ResidentKB
		}
		if i == 0 || p.Start.Before(earliest) {
			earliest = p.Start
		}
	}
	for owner, count := range owners {
		s.Owners = append(s.Owners, wire.OwnerCount{Owner: owner, Count: count})
	}
	wire.SortOwners(s.Owners)
	if len(procs) > 0 {
		s.Start = formatStart(earliest, tzPrefix)
	}
	return s
}

// topCPU renders the busiest processes as "name=pct,…" with the busiest
// last, omitting idle ones. An all-idle snapshot yields an empty string.
func topCPU(procs []processInfo) string {
	busy := make([]processInfo, 0, len(procs))
	for _, p := range procs {
		if p.CPUPercent > 0 {
			busy = append(busy, p)
		}
	}
	sort.SliceStable(busy, func(i, j int) bool { return busy[i].CPUPercent < busy[j].CPUPercent })
	if len(busy) > topCPUCount {
		busy = busy[len(busy)-topCPUCount:]
	}
	var b strings.Builder
	for i, p := range busy {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(formatPct(p.CPUPercent))
	}
	return b.String()
}

// formatPct renders a CPU percentage with one decimal place, dropping a
// trailing ".0".
func formatPct(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}

// formatStart renders a process start time as "YYYY-MM-DD HH:MM" followed by
// a short zone tag such as "cst" or "cdt": the regional prefix plus standard
// or daylight time.
func formatStart(t time.Time, tzPrefix byte) string {
	suffix := "st"
	if t.IsDST() {
		suffix = "dt"
	}
	return t.Format("2006-01-02 15:04") + " " + string(tzPrefix) + suffix
}

// timezonePrefix maps a zone name to its single-letter US regional prefix,
// defaulting to central.
func timezonePrefix(zone string) byte {
	switch {
	case strings.Contains(zone, "Eastern"), strings.Contains(zone, "New_York"):
		return 'e'
	case strings.Contains(zone, "Mountain"), strings.Contains(zone, "Denver"):
		return 'm'
	case strings.Contains(zone, "Pacific"), strings.Contains(zone, "Los_Angeles"):
		return 'p'
	default:
		return 'c'
	}
}

// localTimezone reads the host zone name from $TZ, falling back to
// /etc/timezone.
func localTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	data, err := os.ReadFile("/etc/timezone")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// osName maps gopsutil's lowercase platform tag to the uname spelling the
// wire format has always carried.
func osName(tag string) string {
	switch tag {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "solaris":
		return "SunOS"
	case "freebsd":
		return "FreeBSD"
	default:
		return tag
	}
}
