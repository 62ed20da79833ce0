// File: internal/monitor/report.go
// Brief: Session report, per-endpoint success rates, health classification.

package monitor

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/probe"
)

// Health classifies a session's overall outcome.
type Health string

const (
	Good      Health = "Good"
	Degraded  Health = "Degraded"
	Unhealthy Health = "Unhealthy"
)

// EndpointStats aggregates one endpoint's probes over the session.
type EndpointStats struct {
	Endpoint    probe.EndpointKind
	Total       int
	Successes   int
	SuccessRate float64 // percent
	AvgLatency  time.Duration
}

// Report is the closed session summary.
type Report struct {
	Environment    string
	State          State
	Started        time.Time
	Ended          time.Time
	Interval       time.Duration
	AlertThreshold int
	Ticks          int
	Alerts         int
	Stats          []EndpointStats
	Overall        Health
	Metrics        *controlplane.MetricsWindow
	MetricsErr     string
}

func statsFor(results []probe.Result) []EndpointStats {
	byKind := map[probe.EndpointKind]*EndpointStats{}
	order := []probe.EndpointKind{probe.API, probe.Frontend}
	var latencies = map[probe.EndpointKind]time.Duration{}
	for _, kind := range order {
		byKind[kind] = &EndpointStats{Endpoint: kind}
	}
	for _, res := range results {
		st, ok := byKind[res.Endpoint]
		if !ok {
			continue
		}
		st.Total++
		if res.Success {
			st.Successes++
		}
		latencies[res.Endpoint] += res.Latency
	}
	out := make([]EndpointStats, 0, len(order))
	for _, kind := range order {
		st := byKind[kind]
		if st.Total > 0 {
			st.SuccessRate = float64(st.Successes) / float64(st.Total) * 100
			st.AvgLatency = latencies[kind] / time.Duration(st.Total)
		}
		out = append(out, *st)
	}
	return out
}

// classify derives overall health from the worst endpoint's success rate.
func (r *Report) classify() Health {
	worst := 100.0
	for _, st := range r.Stats {
		if st.Total == 0 {
			continue
		}
		if st.SuccessRate < worst {
			worst = st.SuccessRate
		}
	}
	switch {
	case worst >= 95:
		return Good
	case worst >= 90:
		return Degraded
	default:
		return Unhealthy
	}
}

// Render writes the human-readable report.
func (r *Report) Render(out io.Writer) {
	bold := color.New(color.Bold)
	bold.Fprintf(out, "Monitoring report: %s (%s)\n", r.Environment, r.State)
	fmt.Fprintf(out, "  window    %s .. %s (%d ticks, interval %s)\n",
		r.Started.Format(time.RFC3339), r.Ended.Format(time.RFC3339), r.Ticks, r.Interval)
	for _, st := range r.Stats {
		fmt.Fprintf(out, "  %-9s %d/%d ok (%.1f%%), avg latency %s\n",
			st.Endpoint, st.Successes, st.Total, st.SuccessRate, st.AvgLatency.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "  alerts    %d (threshold %d)\n", r.Alerts, r.AlertThreshold)
	if r.Metrics != nil {
		fmt.Fprintf(out, "  metrics   invocations=%d errors=%d avgLatency=%.1fms\n",
			r.Metrics.Invocations, r.Metrics.Errors, r.Metrics.AvgLatencyMs)
	} else {
		fmt.Fprintf(out, "  metrics   unavailable (%s)\n", r.MetricsErr)
	}
	overall := color.New(color.FgGreen)
	switch r.Overall {
	case Degraded:
		overall = color.New(color.FgYellow)
	case Unhealthy:
		overall = color.New(color.FgRed)
	}
	fmt.Fprint(out, "  overall   ")
	overall.Fprintln(out, string(r.Overall))
}
