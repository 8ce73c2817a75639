// Package registry holds the aggregator's authoritative per-host state: the
// last-known system sample, catalog-derived thresholds, the per-daemon
// process table, and the alarm edge state that decides when a notification
// fires. The registry is owned by the hub event loop and is not safe for
// concurrent use; all mutation happens on the loop goroutine.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benkietzman/centralmon/internal/wire"
)

// SystemThresholds are the per-host bounds loaded from the catalog. A zero
// bound disables its check.
type SystemThresholds struct {
	MaxCPU       uint // percent
	MaxDisk      uint // percent
	MaxMain      uint // percent
	MaxSwap      uint // percent
	MaxProcesses int
}

// ProcessSpec is one catalog row describing a monitored daemon on a host.
type ProcessSpec struct {
	Name          string
	CatalogID     string
	Delay         int // seconds a daemon may be absent before alarming
	MinProcesses  int
	MaxProcesses  int
	MinImageKB    uint64
	MaxImageKB    uint64
	MinResidentKB uint64
	MaxResidentKB uint64
	Owner         string // required owning account; empty disables the check
	Script        string // remediation command; empty routes to contacts
}

// sameThresholds reports whether two specs agree on every field that, when
// changed, invalidates accumulated sample and edge state.
func sameThresholds(a, b ProcessSpec) bool {
	return a.MinProcesses == b.MinProcesses &&
		a.MaxProcesses == b.MaxProcesses &&
		a.MinImageKB == b.MinImageKB &&
		a.MaxImageKB == b.MaxImageKB &&
		a.MinResidentKB == b.MinResidentKB &&
		a.MaxResidentKB == b.MaxResidentKB &&
		a.Owner == b.Owner &&
		a.Script == b.Script
}

// Edge is the alarm edge state. Fired latches once a notification has been
// emitted for the current alarm episode; LastPage tracks the page flag at the
// most recent non-empty evaluation so a page edge re-fires only after the
// page condition has first dropped. LastText retains the alarm text of the
// most recent notification for inspection.
type Edge struct {
	Fired    bool
	LastPage bool
	LastText string
}

// observe advances the edge for one evaluation and reports whether a
// notification fires. An empty alarm resets the latches (clear-on-green)
// while LastText is retained.
func (e *Edge) observe(alarm string, page bool) bool {
	if alarm == "" {
		e.Fired = false
		e.LastPage = false
		return false
	}
	fire := !e.Fired || (page && !e.LastPage)
	e.Fired = true
	e.LastPage = page
	if fire {
		e.LastText = alarm
	}
	return fire
}

// Process is the per-daemon state inside a host record.
type Process struct {
	Spec       ProcessSpec
	Sample     wire.ProcessSample
	HaveValues bool

	// FirstZero is when a zero-instance sample was first observed, for
	// delayed absence alarms. Zero when the daemon is running.
	FirstZero time.Time

	Alarm string
	Page  bool
	Edge  Edge

	checking bool
}

// OwnerCount returns the instance count for the given owning account and
// whether that account appears in the sample at all.
func (p *Process) OwnerCount(owner string) (uint, bool) {
	for _, o := range p.Sample.Owners {
		if o.Owner == owner {
			return o.Count, true
		}
	}
	return 0, false
}

// DetailRow renders the process-query reply: start time, owners as
// "user(2), other(1)", the sampled counters, and the current alarm text.
func (p *Process) DetailRow() string {
	var owners strings.Builder
	for i, o := range p.Sample.Owners {
		if i > 0 {
			owners.WriteString(", ")
		}
		owners.WriteString(o.Owner)
		owners.WriteByte('(')
		owners.WriteString(strconv.FormatUint(uint64(o.Count), 10))
		owners.WriteByte(')')
	}
	fields := []string{
		p.Sample.Start,
		owners.String(),
		strconv.Itoa(p.Sample.Processes),
		strconv.FormatUint(p.Sample.ImageKB, 10),
		strconv.FormatUint(p.Sample.MinImageKB, 10),
		strconv.FormatUint(p.Sample.MaxImageKB, 10),
		strconv.FormatUint(p.Sample.ResidentKB, 10),
		strconv.FormatUint(p.Sample.MinResidentKB, 10),
		strconv.FormatUint(p.Sample.MaxResidentKB, 10),
		p.Alarm,
	}
	return strings.Join(fields, ";")
}

// Host is the per-agent state record.
type Host struct {
	Name string

	System     wire.SystemSample
	HaveValues bool

	Thresholds     SystemThresholds
	HaveThresholds bool

	Alarm string
	Page  bool
	Edge  Edge

	Processes map[string]*Process
}

// SetThresholds installs catalog thresholds for the host.
func (h *Host) SetThresholds(t SystemThresholds) {
	h.Thresholds = t
	h.HaveThresholds = true
}

// ReconcileProcesses makes the host's process table match specs exactly. A
// daemon whose thresholds are unchanged keeps its accumulated sample and
// edge state; a changed threshold drops the old record and starts a fresh
// observation; daemons no longer listed are removed.
func (h *Host) ReconcileProcesses(specs []ProcessSpec) {
	for _, p := range h.Processes {
		p.checking = true
	}
	for _, spec := range specs {
		if existing, ok := h.Processes[spec.Name]; ok {
			existing.checking = false
			if sameThresholds(existing.Spec, spec) {
				continue
			}
		}
		h.Processes[spec.Name] = &Process{Spec: spec}
	}
	for name, p := range h.Processes {
		if p.checking {
			delete(h.Processes, name)
		}
	}
}

// ProcessNames returns the daemons of the host in sorted order.
func (h *Host) ProcessNames() []string {
	names := make([]string, 0, len(h.Processes))
	for name := range h.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemRow renders the host as one line of the system-query dump.
func (h *Host) SystemRow() string {
	fields := []string{
		h.Name,
		h.System.OS,
		h.System.Release,
		strconv.Itoa(h.System.Processors),
		strconv.FormatUint(uint64(h.System.CPUMHz), 10),
		strconv.Itoa(h.System.Processes),
		strconv.FormatUint(uint64(h.System.CPUUsage), 10),
		strconv.FormatInt(h.System.UptimeDays, 10),
		strconv.FormatUint(h.System.MainUsed, 10),
		strconv.FormatUint(h.System.MainTotal, 10),
		strconv.FormatUint(h.System.SwapUsed, 10),
		strconv.FormatUint(h.System.SwapTotal, 10),
		wire.FormatPartitions(h.System.Partitions),
		h.Alarm,
	}
	return strings.Join(fields, ";")
}

// Registry is the set of admitted hosts, keyed by host name.
type Registry struct {
	hosts map[string]*Host
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{hosts: make(map[string]*Host)}
}

// Admit creates a host record for name. It returns false when the host is
// already bound to a live agent connection.
func (r *Registry) Admit(name string) (*Host, bool) {
	if _, exists := r.hosts[name]; exists {
		return nil, false
	}
	h := &Host{Name: name, Processes: make(map[string]*Process)}
	r.hosts[name] = h
	return h, true
}

// Host returns the record for name, if admitted.
func (r *Registry) Host(name string) (*Host, bool) {
	h, ok := r.hosts[name]
	return h, ok
}

// Remove releases the host record and all its process state.
func (r *Registry) Remove(name string) {
	delete(r.hosts, name)
}

// Len returns the number of admitted hosts.
func (r *Registry) Len() int {
	return len(r.hosts)
}

// Names returns the admitted host names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.hosts))
	for name := range r.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MessageList holds live operator-injected broadcast messages in arrival
// order.
type MessageList struct {
	messages []wire.Message
}

// Add registers m unless its window has already closed at now.
func (l *MessageList) Add(m wire.Message, now time.Time) bool {
	if m.End <= now.Unix() {
		return false
	}
	l.messages = append(l.messages, m)
	return true
}

// Live returns every message whose window contains now, reaping expired
// entries as a side effect.
func (l *MessageList) Live(now time.Time) []wire.Message {
	epoch := now.Unix()
	var live []wire.Message
	kept := l.messages[:0]
	for _, m := range l.messages {
		if m.End <= epoch {
			continue
		}
		kept = append(kept, m)
		if m.Start <= epoch {
			live = append(live, m)
		}
	}
	l.messages = kept
	return live
}

// Len returns the number of stored messages, including not-yet-visible ones.
func (l *MessageList) Len() int {
	return len(l.messages)
}
