package models

import (
	"encoding/json"
	"time"
)

// Indicator is the escalation level shown for an active loading session.
type Indicator int8

const (
	IndicatorNone Indicator = iota
	IndicatorPlain
	IndicatorCounter
	IndicatorSlow
	IndicatorOffline
)

func (i Indicator) String() string {
	switch i {
	case IndicatorPlain:
		return "plain"
	case IndicatorCounter:
		return "counter"
	case IndicatorSlow:
		return "slow"
	case IndicatorOffline:
		return "offline"
	default:
		return "none"
	}
}

func (i Indicator) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// LoadingSnapshot is a read-only view of one loading session.
type LoadingSnapshot struct {
	ID             string     `json:"id,omitempty"`
	Label          string     `json:"label"`
	StartedAt      *time.Time `json:"started_at"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	Active         bool       `json:"active"`
	Indicator      Indicator  `json:"indicator"`
	Message        string     `json:"message,omitempty"`
}
