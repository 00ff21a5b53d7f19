package metrics

import (
	"math"
	"sort"
	"time"

	"stockpulse/internal/events"
	"stockpulse/internal/models"
)

// ProbeSummary summarises the probes seen during this process's lifetime.
type ProbeSummary struct {
	Endpoint      string  `json:"endpoint"`
	UptimePercent float64 `json:"uptime_percent"`
	TotalChecks   int     `json:"total_checks"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
	Timeouts      int     `json:"timeouts"`
	NetworkErrors int     `json:"network_errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	LastState     string  `json:"last_state,omitempty"`
	LastUpdated   string  `json:"last_updated,omitempty"`
}

// ComputeProbeSummary aggregates completed probes per endpoint from the
// in-memory event buffer.
func ComputeProbeSummary(entries []events.Event) []ProbeSummary {
	type acc struct {
		passing   int
		failing   int
		timeouts  int
		network   int
		latencies []float64
		lastState string
		lastTime  time.Time
	}
	state := make(map[string]*acc)
	for _, entry := range entries {
		if entry.Kind != events.ProbeCompleted || entry.Probe == nil {
			continue
		}
		target := state[entry.Endpoint]
		if target == nil {
			target = &acc{}
			state[entry.Endpoint] = target
		}
		probe := entry.Probe
		if probe.Reachable {
			target.passing++
			target.lastState = "reachable"
		} else {
			target.failing++
			target.lastState = "unreachable"
		}
		switch probe.Failure {
		case models.FailureTimeout:
			target.timeouts++
		case models.FailureNetwork:
			target.network++
		}
		target.latencies = append(target.latencies, probe.LatencyMs)
		target.lastTime = entry.At
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]ProbeSummary, 0, len(keys))
	for _, endpoint := range keys {
		data := state[endpoint]
		total := data.passing + data.failing
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.passing) / float64(total) * 100
		}

		result := ProbeSummary{
			Endpoint:      endpoint,
			UptimePercent: round2(uptime),
			TotalChecks:   total,
			Passing:       data.passing,
			Failing:       data.failing,
			Timeouts:      data.timeouts,
			NetworkErrors: data.network,
			AvgLatencyMs:  round2(mean(data.latencies)),
			P95LatencyMs:  round2(percentile(data.latencies, 0.95)),
			LastState:     data.lastState,
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile uses the nearest-rank method.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
