package monitor

import "time"

type rateSample struct {
	bytesReceived uint64
	bytesSent     uint64
	at            time.Time
}

// rateTracker derives receive/send byte rates from cumulative interface
// counters sampled over a short window.
type rateTracker struct {
	samples []rateSample
	max     int
	window  time.Duration
}

func newRateTracker(max int, window time.Duration) *rateTracker {
	return &rateTracker{max: max, window: window}
}

func (t *rateTracker) Add(s rateSample) {
	t.samples = append(t.samples, s)
	if len(t.samples) > t.max {
		t.samples = t.samples[len(t.samples)-t.max:]
	}
}

// Speed returns bytes/sec received and sent over the window ending at now.
// Counter resets (reboot, interface churn) yield zero rather than a bogus
// negative rate.
func (t *rateTracker) Speed(now time.Time) (recv, sent float64) {
	if len(t.samples) < 2 {
		return 0, 0
	}

	cutoff := now.Add(-t.window)
	oldest := -1
	for i, s := range t.samples {
		if !s.at.Before(cutoff) {
			oldest = i
			break
		}
	}
	if oldest < 0 || oldest == len(t.samples)-1 {
		oldest = len(t.samples) - 2
	}

	first := t.samples[oldest]
	last := t.samples[len(t.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}

	if last.bytesReceived >= first.bytesReceived {
		recv = float64(last.bytesReceived-first.bytesReceived) / elapsed
	}
	if last.bytesSent >= first.bytesSent {
		sent = float64(last.bytesSent-first.bytesSent) / elapsed
	}
	return recv, sent
}
