// Package wire implements the line-oriented record codec spoken between the
// centralmon agent and the centralmond aggregator, and by query clients.
//
// Records are single lines terminated by '\n'. Fields are separated by ';',
// list items by ',', key/value pairs by '=', and the CPU usage field carries
// an optional top-process sub-list after a '|'. Empty fields are legal and
// mean "unknown". All numeric fields are decimal ASCII; a field that fails to
// parse as a number is read as zero, matching the tolerant behaviour query
// tooling has always relied on. A line with the wrong field count for its
// verb is malformed and must be dropped by the caller.
package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record field counts, including the leading verb field.
const (
	systemFields  = 13
	processFields = 11
	messageFields = 5
)

// ProcessPlaceholder is the fixed reply an agent sends for a `process`
// request with an empty daemon name.
const ProcessPlaceholder = "process;;;;0;0;0;0;0;0;0"

// Partition is one mount point with its percent-filled usage.
type Partition struct {
	Mount   string
	Percent uint
}

// OwnerCount is one owning user with the number of process instances it runs.
type OwnerCount struct {
	Owner string
	Count uint
}

// SystemSample is a host-level resource sample as carried by a `system`
// record from agent to aggregator.
type SystemSample struct {
	OS         string
	Release    string
	Processors int
	CPUMHz     uint
	Processes  int
	CPUUsage   uint   // percent averaged across processors
	TopCPU     string // "name=pct,…" lowest first; empty when unavailable
	UptimeDays int64
	MainUsed   uint64 // MiB
	MainTotal  uint64
	SwapUsed   uint64
	SwapTotal  uint64
	Partitions []Partition
}

// ProcessSample is an aggregate over every instance of one named daemon, as
// carried by a `process` record from agent to aggregator.
type ProcessSample struct {
	Name          string
	Start         string // "YYYY-MM-DD HH:MM <tz>" of the earliest instance
	Owners        []OwnerCount
	Processes     int
	ImageKB       uint64
	MinImageKB    uint64
	MaxImageKB    uint64
	ResidentKB    uint64
	MinResidentKB uint64
	MaxResidentKB uint64
}

// Message is an operator-injected broadcast registered via the `message`
// verb. Start and End are Unix epoch seconds.
type Message struct {
	Type        string
	Application string
	Start       int64
	End         int64
	Body        string
}

// Encode renders s as a `system` record line (without the trailing newline).
func (s SystemSample) Encode() string {
	cpu := strconv.FormatUint(uint64(s.CPUUsage), 10)
	if s.TopCPU != "" {
		cpu += "|" + s.TopCPU
	}
	fields := []string{
		"system",
		s.OS,
		s.Release,
		strconv.Itoa(s.Processors),
		strconv.FormatUint(uint64(s.CPUMHz), 10),
		strconv.Itoa(s.Processes),
		cpu,
		strconv.FormatInt(s.UptimeDays, 10),
		strconv.FormatUint(s.MainUsed, 10),
		strconv.FormatUint(s.MainTotal, 10),
		strconv.FormatUint(s.SwapUsed, 10),
		strconv.FormatUint(s.SwapTotal, 10),
		FormatPartitions(s.Partitions),
	}
	return strings.Join(fields, ";")
}

// Encode renders p as a `process` record line (without the trailing newline).
func (p ProcessSample) Encode() string {
	fields := []string{
		"process",
		p.Name,
		p.Start,
		FormatOwners(p.Owners),
		strconv.Itoa(p.Processes),
		strconv.FormatUint(p.ImageKB, 10),
		strconv.FormatUint(p.MinImageKB, 10),
		strconv.FormatUint(p.MaxImageKB, 10),
		strconv.FormatUint(p.ResidentKB, 10),
		strconv.FormatUint(p.MinResidentKB, 10),
		strconv.FormatUint(p.MaxResidentKB, 10),
	}
	return strings.Join(fields, ";")
}

// ParseSystem decodes a `system` record line. The line must carry exactly
// thirteen ';'-separated fields with a leading "system" verb.
func ParseSystem(line string) (SystemSample, error) {
	f := strings.Split(line, ";")
	if len(f) != systemFields || f[0] != "system" {
		return SystemSample{}, fmt.Errorf("wire: malformed system record (%d fields)", len(f))
	}
	cpu, top := splitCPU(f[6])
	return SystemSample{
		OS:         f[1],
		Release:    f[2],
		Processors: atoi(f[3]),
		CPUMHz:     uint(atou(f[4])),
		Processes:  atoi(f[5]),
		CPUUsage:   uint(atou(cpu)),
		TopCPU:     top,
		UptimeDays: int64(atoi(f[7])),
		MainUsed:   atou(f[8]),
		MainTotal:  atou(f[9]),
		SwapUsed:   atou(f[10]),
		SwapTotal:  atou(f[11]),
		Partitions: ParsePartitions(f[12]),
	}, nil
}

// ParseProcess decodes a `process` record line. The line must carry exactly
// eleven ';'-separated fields with a leading "process" verb.
func ParseProcess(line string) (ProcessSample, error) {
	f := strings.Split(line, ";")
	if len(f) != processFields || f[0] != "process" {
		return ProcessSample{}, fmt.Errorf("wire: malformed process record (%d fields)", len(f))
	}
	return ProcessSample{
		Name:          f[1],
		Start:         f[2],
		Owners:        ParseOwners(f[3]),
		Processes:     atoi(f[4]),
		ImageKB:       atou(f[5]),
		MinImageKB:    atou(f[6]),
		MaxImageKB:    atou(f[7]),
		ResidentKB:    atou(f[8]),
		MinResidentKB: atou(f[9]),
		MaxResidentKB: atou(f[10]),
	}, nil
}

// ParseMessage decodes the payload of a `message` command. The payload is the
// full line with the leading "message " verb stripped by the caller's verb
// split; it carries type;application;startEpoch;endEpoch;body.
func ParseMessage(payload string) (Message, error) {
	f := strings.SplitN(payload, ";", messageFields)
	if len(f) != messageFields {
		return Message{}, fmt.Errorf("wire: malformed message record (%d fields)", len(f))
	}
	return Message{
		Type:        f[0],
		Application: f[1],
		Start:       int64(atoi(f[2])),
		End:         int64(atoi(f[3])),
		Body:        f[4],
	}, nil
}

// Encode renders m as a `messages` reply line: type;application;body.
func (m Message) Encode() string {
	return m.Type + ";" + m.Application + ";" + m.Body
}

// FormatPartitions renders partitions as "mount=pct,…" in slice order.
func FormatPartitions(parts []Partition) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Mount)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(uint64(p.Percent), 10))
	}
	return b.String()
}

// ParsePartitions decodes a "mount=pct,…" list. Items without a mount name
// are skipped.
func ParsePartitions(s string) []Partition {
	var parts []Partition
	for _, item := range splitList(s) {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			continue
		}
		parts = append(parts, Partition{Mount: k, Percent: uint(atou(v))})
	}
	return parts
}

// FormatOwners renders owners as "user=count,…" in slice order.
func FormatOwners(owners []OwnerCount) string {
	var b strings.Builder
	for i, o := range owners {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(o.Owner)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(uint64(o.Count), 10))
	}
	return b.String()
}

// ParseOwners decodes a "user=count,…" list. Items without a user name are
// skipped.
func ParseOwners(s string) []OwnerCount {
	var owners []OwnerCount
	for _, item := range splitList(s) {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			continue
		}
		owners = append(owners, OwnerCount{Owner: k, Count: uint(atou(v))})
	}
	return owners
}

// SortOwners orders owners alphabetically in place, for deterministic
// encoding regardless of how the sample was accumulated.
func SortOwners(owners []OwnerCount) {
	sort.Slice(owners, func(i, j int) bool { return owners[i].Owner < owners[j].Owner })
}

// SortPartitions orders partitions alphabetically by mount in place.
func SortPartitions(parts []Partition) {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Mount < parts[j].Mount })
}

// SystemErrorRow builds a `system` query reply whose thirteen leading fields
// are empty and whose trailing field carries msg.
func SystemErrorRow(msg string) string {
	return strings.Repeat(";", 13) + msg
}

// ProcessErrorRow builds a `process` query reply whose nine leading fields
// are empty and whose trailing field carries msg.
func ProcessErrorRow(msg string) string {
	return strings.Repeat(";", 9) + msg
}

// splitCPU separates the CPU usage percent from its optional top-process
// sub-list.
func splitCPU(s string) (cpu, top string) {
	cpu, top, _ = strings.Cut(s, "|")
	return cpu, top
}

// splitList splits a ','-separated list, returning nil for an empty string.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// atoi parses a decimal integer, reading unparsable input as zero.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// atou parses a decimal unsigned integer, reading unparsable input as zero.
func atou(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
