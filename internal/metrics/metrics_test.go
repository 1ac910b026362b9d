package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetChannelStateRecordsGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetChannelState(7, StateTracking)

	count, err := testutil.GatherAndCount(reg, "gnss_channel_state")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIncCountersAccumulatePerPRN(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncLossOfLock(12)
	m.IncLossOfLock(12)
	m.IncBufferOverrun(12)
	m.IncSubframesDecoded(5)
	m.IncParityFailure(5)
	m.IncAcquisitionAttempt(5)

	lossCount, err := testutil.GatherAndCount(reg, "gnss_loss_of_lock_total")
	require.NoError(t, err)
	assert.Equal(t, 1, lossCount) // one distinct "prn" label value, not one per Inc call

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "gnss_loss_of_lock_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			found = true
			assert.Equal(t, float64(2), metric.GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected gnss_loss_of_lock_total to be gathered")
}

func TestHandlerReturnsNonNilHTTPHandler(t *testing.T) {
	assert.NotNil(t, Handler())
}
