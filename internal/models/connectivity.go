package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reachability is the tri-state result of the most recent completed probe.
type Reachability int8

const (
	ReachabilityUnknown Reachability = iota
	Reachable
	Unreachable
)

// ReachabilityFromBool converts a probe verdict into a Reachability.
func ReachabilityFromBool(ok bool) Reachability {
	if ok {
		return Reachable
	}
	return Unreachable
}

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes unknown as null and the known states as booleans.
func (r Reachability) MarshalJSON() ([]byte, error) {
	switch r {
	case Reachable:
		return []byte("true"), nil
	case Unreachable:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, true or false.
func (r *Reachability) UnmarshalJSON(data []byte) error {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode reachability: %w", err)
	}
	if v == nil {
		*r = ReachabilityUnknown
		return nil
	}
	*r = ReachabilityFromBool(*v)
	return nil
}

// ConnectionState is the published connectivity snapshot.
type ConnectionState struct {
	IsOnline        bool         `json:"is_online"`
	ServerReachable Reachability `json:"server_reachable"`
	LatencyMs       *float64     `json:"latency_ms"`
	LastCheckedAt   *time.Time   `json:"last_checked_at"`
}

// Clone returns a copy that shares no pointers with s.
func (s ConnectionState) Clone() ConnectionState {
	out := s
	if s.LatencyMs != nil {
		v := *s.LatencyMs
		out.LatencyMs = &v
	}
	if s.LastCheckedAt != nil {
		v := *s.LastCheckedAt
		out.LastCheckedAt = &v
	}
	return out
}

// Equal reports whether two snapshots carry the same values.
func (s ConnectionState) Equal(o ConnectionState) bool {
	if s.IsOnline != o.IsOnline || s.ServerReachable != o.ServerReachable {
		return false
	}
	if (s.LatencyMs == nil) != (o.LatencyMs == nil) {
		return false
	}
	if s.LatencyMs != nil && *s.LatencyMs != *o.LatencyMs {
		return false
	}
	if (s.LastCheckedAt == nil) != (o.LastCheckedAt == nil) {
		return false
	}
	return s.LastCheckedAt == nil || s.LastCheckedAt.Equal(*o.LastCheckedAt)
}

// ProbeFailure classifies why a probe did not produce a response.
type ProbeFailure int8

const (
	FailureNone ProbeFailure = iota
	FailureTimeout
	FailureNetwork
)

func (f ProbeFailure) String() string {
	switch f {
	case FailureTimeout:
		return "timeout"
	case FailureNetwork:
		return "network_error"
	default:
		return "none"
	}
}

func (f ProbeFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// ProbeOutcome captures the outcome of one health probe.
type ProbeOutcome struct {
	Reachable  bool         `json:"reachable"`
	HTTPStatus *int         `json:"http_status"`
	LatencyMs  float64      `json:"latency_ms"`
	Failure    ProbeFailure `json:"failure"`
}
