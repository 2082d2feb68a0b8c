package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_PrivateRegistry(t *testing.T) {
	// two instances must not collide on registration
	first := NewMetrics("call-service")
	second := NewMetrics("call-service")

	require.NotNil(t, first.GetRegistry())
	require.NotNil(t, second.GetRegistry())
	assert.NotSame(t, first.GetRegistry(), second.GetRegistry())
}

func TestRecordCallFinalized(t *testing.T) {
	m := NewMetrics("call-service")

	m.RecordCallFinalized("audio", "ended", 90*time.Second)
	m.RecordCallFinalized("audio", "missed", 0)
	m.RecordCallFinalized("audio", "ended", 30*time.Second)

	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "calls_finalized_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					counts[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 2.0, counts["ended"])
	assert.Equal(t, 1.0, counts["missed"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordSignalRelay("dropped")
		m.RecordEvent("call.incoming", "delivered")
		m.SetActiveCalls(3)
		m.RecordRingTimeout()
	})
	assert.Nil(t, m.GetRegistry())
}
