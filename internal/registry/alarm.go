package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/benkietzman/centralmon/internal/wire"
)

// ApplySystem ingests a system sample for the host, recomputes the host
// alarm text against the loaded thresholds, and advances the alarm edge.
// It reports whether a notification should fire. Without loaded thresholds
// the sample is stored and no evaluation happens.
func (h *Host) ApplySystem(s wire.SystemSample) bool {
	h.System = s
	h.HaveValues = true
	if !h.HaveThresholds {
		return false
	}

	var alarms []string
	page := false
	t := h.Thresholds

	if t.MaxProcesses > 0 && s.Processes > t.MaxProcesses {
		alarms = append(alarms, fmt.Sprintf("%d processes are running which is more than the maximum %d processes",
			s.Processes, t.MaxProcesses))
	}
	if t.MaxCPU > 0 && s.CPUUsage > t.MaxCPU {
		text := fmt.Sprintf("using %d%% CPU which is more than the maximum %d%%", s.CPUUsage, t.MaxCPU)
		if s.TopCPU != "" {
			text += " --- (" + s.TopCPU + ")"
		}
		alarms = append(alarms, text)
	}
	if t.MaxMain > 0 && s.MainTotal > 0 {
		if pct := uint(s.MainUsed * 100 / s.MainTotal); pct >= t.MaxMain {
			alarms = append(alarms, fmt.Sprintf("using %d%% main memory which is more than the maximum %d%%", pct, t.MaxMain))
		}
	}
	if t.MaxSwap > 0 && s.SwapTotal > 0 {
		if pct := uint(s.SwapUsed * 100 / s.SwapTotal); pct >= t.MaxSwap {
			page = true
			alarms = append(alarms, fmt.Sprintf("using %d%% swap memory which is more than the maximum %d%%", pct, t.MaxSwap))
		}
	}
	if t.MaxDisk > 0 {
		for _, part := range s.Partitions {
			if strings.Contains(part.Mount, "cdrom") {
				continue
			}
			if part.Percent >= t.MaxDisk {
				alarms = append(alarms, fmt.Sprintf("%s partition is %d%% filled which is more than the maximum %d%%",
					part.Mount, part.Percent, t.MaxDisk))
			}
		}
	}

	h.Alarm = strings.Join(alarms, ",")
	h.Page = page
	return h.Edge.observe(h.Alarm, h.Page)
}

// ApplyProcess ingests a process sample for the named daemon, recomputes the
// process alarm text, and advances its alarm edge. now supplies the clock
// for delayed absence alarms. It returns the process record and whether a
// notification should fire; a nil record means the daemon is not monitored
// on this host.
func (h *Host) ApplyProcess(s wire.ProcessSample, now time.Time) (*Process, bool) {
	p, ok := h.Processes[s.Name]
	if !ok {
		return nil, false
	}
	p.Sample = s
	p.HaveValues = true
	if s.Processes <= 0 {
		if p.FirstZero.IsZero() {
			p.FirstZero = now
		}
	} else {
		p.FirstZero = time.Time{}
	}

	var alarms []string
	page := false
	spec := p.Spec
	name := spec.Name

	switch {
	case s.Processes <= 0:
		if spec.Delay <= 0 || now.Sub(p.FirstZero) >= time.Duration(spec.Delay)*time.Second {
			page = true
			alarms = append(alarms, name+" is not currently running")
		}
	default:
		if spec.Owner != "" {
			if _, found := p.OwnerCount(spec.Owner); !found {
				page = true
				alarms = append(alarms, fmt.Sprintf("%s is not running under the required %s account", name, spec.Owner))
			}
		}
		if spec.MinProcesses > 0 && s.Processes < spec.MinProcesses {
			alarms = append(alarms, fmt.Sprintf("%s is running %d processes which is less than the minimum %d processes",
				name, s.Processes, spec.MinProcesses))
		} else if spec.MaxProcesses > 0 && s.Processes > spec.MaxProcesses {
			alarms = append(alarms, fmt.Sprintf("%s is running %d processes which is more than the maximum %d processes",
				name, s.Processes, spec.MaxProcesses))
		}
		if spec.MinImageKB > 0 && s.MinImageKB < spec.MinImageKB {
			alarms = append(alarms, fmt.Sprintf("%s has an image size of %dKB which is less than the minimum %dKB",
				name, s.MinImageKB, spec.MinImageKB))
		}
		if spec.MaxImageKB > 0 && s.MaxImageKB > spec.MaxImageKB {
			alarms = append(alarms, fmt.Sprintf("%s has an image size of %dKB which is more than the maximum %dKB",
				name, s.MaxImageKB, spec.MaxImageKB))
		}
		if spec.MinResidentKB > 0 && s.MinResidentKB < spec.MinResidentKB {
			alarms = append(alarms, fmt.Sprintf("%s has a resident size of %dKB which is less than the minimum %dKB",
				name, s.MinResidentKB, spec.MinResidentKB))
		}
		if spec.MaxResidentKB > 0 && s.MaxResidentKB > spec.MaxResidentKB {
			alarms = append(alarms, fmt.Sprintf("%s has a resident size of %dKB which is more than the maximum %dKB",
				name, s.MaxResidentKB, spec.MaxResidentKB))
		}
	}

	p.Alarm = strings.Join(alarms, ",")
	p.Page = page
	return p, p.Edge.observe(p.Alarm, p.Page)
}
