package health

import (
	"encoding/json"

	"stockpulse/internal/models"
)

// DegradedLatencyMs is the latency above which a reachable server counts as degraded.
const DegradedLatencyMs = 3000

// Status is the derived connectivity quality.
type Status int8

const (
	StatusUnknown Status = iota
	StatusOffline
	StatusUnreachable
	StatusDegraded
	StatusHealthy
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusUnreachable:
		return "unreachable"
	case StatusDegraded:
		return "degraded"
	case StatusHealthy:
		return "healthy"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Classify maps raw connectivity signals to a Status. The first matching
// rule wins: offline, unreachable, unknown, degraded, healthy.
func Classify(isOnline bool, reachable models.Reachability, latencyMs *float64) Status {
	switch {
	case !isOnline:
		return StatusOffline
	case reachable == models.Unreachable:
		return StatusUnreachable
	case reachable == models.ReachabilityUnknown:
		return StatusUnknown
	case latencyMs != nil && *latencyMs > DegradedLatencyMs:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// ClassifyState classifies a published snapshot.
func ClassifyState(s models.ConnectionState) Status {
	return Classify(s.IsOnline, s.ServerReachable, s.LatencyMs)
}
