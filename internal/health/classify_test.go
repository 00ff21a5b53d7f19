package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockpulse/internal/models"
)

func ms(v float64) *float64 { return &v }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		online    bool
		reachable models.Reachability
		latency   *float64
		want      Status
	}{
		{"offline dominates reachable", false, models.Reachable, ms(10), StatusOffline},
		{"offline dominates unreachable", false, models.Unreachable, nil, StatusOffline},
		{"offline dominates unknown", false, models.ReachabilityUnknown, nil, StatusOffline},
		{"unreachable", true, models.Unreachable, ms(10), StatusUnreachable},
		{"unreachable ignores latency", true, models.Unreachable, ms(9000), StatusUnreachable},
		{"unknown before first probe", true, models.ReachabilityUnknown, nil, StatusUnknown},
		{"unknown ignores latency", true, models.ReachabilityUnknown, ms(9000), StatusUnknown},
		{"degraded above threshold", true, models.Reachable, ms(3001), StatusDegraded},
		{"healthy at threshold", true, models.Reachable, ms(3000), StatusHealthy},
		{"healthy fast", true, models.Reachable, ms(100), StatusHealthy},
		{"healthy without latency", true, models.Reachable, nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.online, tt.reachable, tt.latency))
		})
	}
}

func TestClassifyState(t *testing.T) {
	now := time.Now()
	state := models.ConnectionState{
		IsOnline:        true,
		ServerReachable: models.Reachable,
		LatencyMs:       ms(3500),
		LastCheckedAt:   &now,
	}
	assert.Equal(t, StatusDegraded, ClassifyState(state))
	assert.Equal(t, StatusUnknown, ClassifyState(models.ConnectionState{IsOnline: true}))
}

func TestStatusJSON(t *testing.T) {
	b, err := StatusHealthy.MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `"healthy"`, string(b))
}
