package registry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/benkietzman/centralmon/internal/wire"
)

func TestAdmitRejectsDuplicate(t *testing.T) {
	r := New()
	if _, ok := r.Admit("web01"); !ok {
		t.Fatal("first Admit failed")
	}
	if _, ok := r.Admit("web01"); ok {
		t.Error("second Admit for the same host succeeded")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d; want 1", r.Len())
	}
}

func TestRemoveFreesName(t *testing.T) {
	r := New()
	r.Admit("web01")
	r.Remove("web01")
	if _, ok := r.Host("web01"); ok {
		t.Error("Host() found a removed record")
	}
	if _, ok := r.Admit("web01"); !ok {
		t.Error("Admit after Remove failed")
	}
}

func TestNamesSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"web02", "db01", "web01"} {
		r.Admit(name)
	}
	want := []string{"db01", "web01", "web02"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileProcesses(t *testing.T) {
	h := newHost(t)
	h.ReconcileProcesses([]ProcessSpec{
		{Name: "web", MinProcesses: 1},
		{Name: "db", MinProcesses: 2},
	})

	// Accumulate state on web.
	p, _ := h.ApplyProcess(mustProcess(t, "process;web;;app=1;1;100;100;100;50;50;50"), time.Now())
	if p == nil || !p.HaveValues {
		t.Fatal("web did not accumulate a sample")
	}

	// Unchanged spec keeps state; db dropped; cache added.
	h.ReconcileProcesses([]ProcessSpec{
		{Name: "web", MinProcesses: 1},
		{Name: "cache", MinProcesses: 1},
	})
	if diff := cmp.Diff([]string{"cache", "web"}, h.ProcessNames()); diff != "" {
		t.Fatalf("ProcessNames mismatch (-want +got):\n%s", diff)
	}
	if web := h.Processes["web"]; !web.HaveValues {
		t.Error("unchanged spec discarded accumulated state")
	}

	// Changed threshold resets the record.
	h.ReconcileProcesses([]ProcessSpec{
		{Name: "web", MinProcesses: 3},
		{Name: "cache", MinProcesses: 1},
	})
	if web := h.Processes["web"]; web.HaveValues || web.Spec.MinProcesses != 3 {
		t.Errorf("changed spec did not reset: HaveValues=%v MinProcesses=%d",
			web.HaveValues, web.Spec.MinProcesses)
	}
}

func TestReconcileIgnoresDelayAndIDChanges(t *testing.T) {
	h := newHost(t)
	h.ReconcileProcesses([]ProcessSpec{{Name: "web", Delay: 30, CatalogID: "1", MinProcesses: 1}})
	h.ApplyProcess(mustProcess(t, "process;web;;app=1;1;100;100;100;50;50;50"), time.Now())

	h.ReconcileProcesses([]ProcessSpec{{Name: "web", Delay: 90, CatalogID: "2", MinProcesses: 1}})
	if !h.Processes["web"].HaveValues {
		t.Error("delay/id change reset the record")
	}
}

func TestSystemRowFieldCount(t *testing.T) {
	h := newHost(t)
	h.SetThresholds(SystemThresholds{MaxDisk: 90})
	h.ApplySystem(mustSystem(t, "system;Linux;5.4;4;2400;200;5;10;40;8000;0;2048;/=91,/var=50"))

	row := h.SystemRow()
	want := "A;Linux;5.4;4;2400;200;5;10;40;8000;0;2048;/=91,/var=50;" +
		"/ partition is 91% filled which is more than the maximum 90%"
	if row != want {
		t.Errorf("SystemRow() =\n%q\nwant\n%q", row, want)
	}
}

func TestDetailRow(t *testing.T) {
	h := newHost(t)
	h.ReconcileProcesses([]ProcessSpec{{Name: "db"}})
	line := "process;db;2024-01-01 12:00 cst;postgres=5,root=1;6;600000;90000;110000;300000;40000;60000"
	p, _ := h.ApplyProcess(mustProcess(t, line), time.Now())

	want := "2024-01-01 12:00 cst;postgres(5), root(1);6;600000;90000;110000;300000;40000;60000;"
	if got := p.DetailRow(); got != want {
		t.Errorf("DetailRow() =\n%q\nwant\n%q", got, want)
	}
}

func TestMessageLifecycle(t *testing.T) {
	now := time.Unix(2000, 0)
	var l MessageList

	if l.Add(wire.Message{Type: "info", End: 1500}, now) {
		t.Error("Add accepted an already-expired message")
	}
	if !l.Add(wire.Message{Type: "info", Application: "App", Start: 1000, End: 3000, Body: "live"}, now) {
		t.Error("Add rejected a live message")
	}
	if !l.Add(wire.Message{Type: "warn", Start: 2500, End: 3000, Body: "future"}, now) {
		t.Error("Add rejected a not-yet-visible message")
	}

	live := l.Live(now)
	if len(live) != 1 || live[0].Body != "live" {
		t.Fatalf("Live(now) = %+v; want only the live message", live)
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d; want 2 (future message retained)", l.Len())
	}

	// Once the window opens, the future message shows. After expiry both reap.
	if live := l.Live(time.Unix(2600, 0)); len(live) != 2 {
		t.Errorf("Live(2600) returned %d messages; want 2", len(live))
	}
	if live := l.Live(time.Unix(3000, 0)); len(live) != 0 {
		t.Errorf("Live(3000) returned %d messages; want 0", len(live))
	}
	if l.Len() != 0 {
		t.Errorf("Len() after expiry = %d; want 0", l.Len())
	}
}
