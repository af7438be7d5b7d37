package monitor

import (
	"testing"
	"time"
)

func TestAverage(t *testing.T) {
	t.Parallel()

	if got := average(nil); got != 0 {
		t.Fatalf("average(nil) = %v, want 0", got)
	}
	if got := average([]float64{10, 20, 30}); got != 20 {
		t.Fatalf("average = %v, want 20", got)
	}
}

func TestRateTrackerSpeed(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newRateTracker(rateSampleMax, speedWindow)

	tr.Add(rateSample{bytesReceived: 1000, bytesSent: 500, at: base})
	tr.Add(rateSample{bytesReceived: 3000, bytesSent: 1500, at: base.Add(2 * time.Second)})

	recv, sent := tr.Speed(base.Add(2 * time.Second))
	if recv != 1000 {
		t.Fatalf("recv speed = %v, want 1000", recv)
	}
	if sent != 500 {
		t.Fatalf("sent speed = %v, want 500", sent)
	}
}

func TestRateTrackerNeedsTwoSamples(t *testing.T) {
	t.Parallel()

	tr := newRateTracker(rateSampleMax, speedWindow)
	tr.Add(rateSample{bytesReceived: 1000, at: time.Now()})

	recv, sent := tr.Speed(time.Now())
	if recv != 0 || sent != 0 {
		t.Fatalf("speed with one sample = %v/%v, want 0/0", recv, sent)
	}
}

func TestRateTrackerIgnoresStaleSamplesOutsideWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newRateTracker(rateSampleMax, speedWindow)

	// Old sample far outside the window, then two recent ones 1s apart.
	tr.Add(rateSample{bytesReceived: 0, bytesSent: 0, at: base.Add(-time.Minute)})
	tr.Add(rateSample{bytesReceived: 6000, bytesSent: 600, at: base})
	tr.Add(rateSample{bytesReceived: 7000, bytesSent: 700, at: base.Add(time.Second)})

	recv, sent := tr.Speed(base.Add(time.Second))
	if recv != 1000 {
		t.Fatalf("recv speed = %v, want 1000", recv)
	}
	if sent != 100 {
		t.Fatalf("sent speed = %v, want 100", sent)
	}
}

func TestRateTrackerCounterReset(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newRateTracker(rateSampleMax, speedWindow)

	tr.Add(rateSample{bytesReceived: 9000, bytesSent: 9000, at: base})
	tr.Add(rateSample{bytesReceived: 100, bytesSent: 100, at: base.Add(time.Second)})

	recv, sent := tr.Speed(base.Add(time.Second))
	if recv != 0 || sent != 0 {
		t.Fatalf("speed after counter reset = %v/%v, want 0/0", recv, sent)
	}
}

func TestNormalizeSortBy(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"cpu":      "cpu",
		"CPU":      "cpu",
		" memory ": "memory",
		"Memory":   "memory",
		"":         "cpu",
		"bogus":    "cpu",
	}
	for in, want := range cases {
		if got := normalizeSortBy(in); got != want {
			t.Errorf("normalizeSortBy(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSelectTopProcesses(t *testing.T) {
	t.Parallel()

	metrics := []processMetrics{
		{pid: 1, name: "init", cpuPercent: 0.1, memoryBytes: 4 << 20, username: "root"},
		{pid: 2, name: "browser", cpuPercent: 42.0, memoryBytes: 900 << 20, username: "dev"},
		{pid: 3, name: "compiler", cpuPercent: 88.5, memoryBytes: 300 << 20, username: "dev"},
		{pid: 4, name: "  ", cpuPercent: 5.0, memoryBytes: 100 << 20, username: "dev"},
	}

	byCPU := selectTopProcesses(metrics, "cpu", 2)
	if len(byCPU) != 2 {
		t.Fatalf("len = %d, want 2", len(byCPU))
	}
	if byCPU[0].Name != "compiler" || byCPU[1].Name != "browser" {
		t.Fatalf("cpu order = %q, %q", byCPU[0].Name, byCPU[1].Name)
	}

	byMem := selectTopProcesses(metrics, "memory", 10)
	if byMem[0].Name != "browser" {
		t.Fatalf("memory top = %q, want browser", byMem[0].Name)
	}
	if byMem[3].Name != "[4]" {
		t.Fatalf("blank process name = %q, want [4]", byMem[3].Name)
	}

	if got := selectTopProcesses(nil, "cpu", 5); len(got) != 0 {
		t.Fatalf("empty metrics yielded %d rows", len(got))
	}
	if got := selectTopProcesses(metrics, "cpu", 0); len(got) != 0 {
		t.Fatalf("zero limit yielded %d rows", len(got))
	}
}

func TestRateTrackerCapsSamples(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newRateTracker(3, speedWindow)
	for i := 0; i < 10; i++ {
		tr.Add(rateSample{bytesReceived: uint64(i * 100), at: base.Add(time.Duration(i) * time.Second)})
	}
	if len(tr.samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(tr.samples))
	}
	if tr.samples[0].bytesReceived != 700 {
		t.Fatalf("oldest retained sample = %d, want 700", tr.samples[0].bytesReceived)
	}
}
