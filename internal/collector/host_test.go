package collector

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/benkietzman/centralmon/internal/wire"
)

func TestAggregateProcess(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	early := time.Date(2024, 1, 1, 12, 0, 0, 0, chicago)
	late := time.Date(2024, 1, 2, 8, 30, 0, 0, chicago)

	procs := []processInfo{
		{Name: "postgres", Owner: "postgres", Start: late, ImageKB: 110000, ResidentKB: 60000},
		{Name: "postgres", Owner: "postgres", Start: early, ImageKB: 90000, ResidentKB: 40000},
		{Name: "postgres", Owner: "root", Start: late, ImageKB: 100000, ResidentKB: 50000},
	}

	got := aggregateProcess("postgres", procs, 'c')
	want := wire.ProcessSample{
		Name:          "postgres",
		Start:         "2024-01-01 12:00 cst",
		Owners:        []wire.OwnerCount{{Owner: "postgres", Count: 2}, {Owner: "root", Count: 1}},
		Processes:     3,
		ImageKB:       300000,
		MinImageKB:    90000,
		MaxImageKB:    110000,
		ResidentKB:    150000,
		MinResidentKB: 40000,
		MaxResidentKB: 60000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("aggregateProcess mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateProcessNoInstances(t *testing.T) {
	got := aggregateProcess("ghost", nil, 'c')
	if got.Name != "ghost" || got.Processes != 0 || got.Start != "" || len(got.Owners) != 0 {
		t.Errorf("empty aggregate = %+v", got)
	}
	line := got.Encode()
	if _, err := wire.ParseProcess(line); err != nil {
		t.Errorf("empty aggregate does not encode to a valid record: %v", err)
	}
}

func TestTopCPU(t *testing.T) {
	tests := []struct {
		name  string
		procs []processInfo
		want  string
	}{
		{"all idle", []processInfo{{Name: "a"}, {Name: "b"}}, ""},
		{"ascending order", []processInfo{
			{Name: "java", CPUPercent: 11},
			{Name: "idle", CPUPercent: 0.3},
			{Name: "postgres", CPUPercent: 4.5},
		}, "idle=0.3,postgres=4.5,java=11"},
		{"truncated to five", []processInfo{
			{Name: "p1", CPUPercent: 1},
			{Name: "p2", CPUPercent: 2},
			{Name: "p3", CPUPercent: 3},
			{Name: "p4", CPUPercent: 4},
			{Name: "p5", CPUPercent: 5},
			{Name: "p6", CPUPercent: 6},
		}, "p2=2,p3=3,p4=4,p5=5,p6=6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topCPU(tt.procs); got != tt.want {
				t.Errorf("topCPU() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestFormatStartDaylight(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	summer := time.Date(2024, 7, 1, 9, 15, 0, 0, chicago)
	if got := formatStart(summer, 'c'); got != "2024-07-01 09:15 cdt" {
		t.Errorf("formatStart(summer) = %q", got)
	}
	winter := time.Date(2024, 1, 1, 9, 15, 0, 0, chicago)
	if got := formatStart(winter, 'c'); got != "2024-01-01 09:15 cst" {
		t.Errorf("formatStart(winter) = %q", got)
	}
}

func TestTimezonePrefix(t *testing.T) {
	tests := []struct {
		zone string
		want byte
	}{
		{"US/Eastern", 'e'},
		{"America/New_York", 'e'},
		{"US/Mountain", 'm'},
		{"America/Denver", 'm'},
		{"US/Pacific", 'p'},
		{"America/Los_Angeles", 'p'},
		{"US/Central", 'c'},
		{"America/Chicago", 'c'},
		{"", 'c'},
	}
	for _, tt := range tests {
		if got := timezonePrefix(tt.zone); got != tt.want {
			t.Errorf("timezonePrefix(%q) = %c; want %c", tt.zone, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.3, "0.3"},
		{11, "11"},
		{4.25, "4.2"},
		{100, "100"},
	}
	for _, tt := range tests {
		if got := formatPct(tt.in); got != tt.want {
			t.Errorf("formatPct(%v) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
