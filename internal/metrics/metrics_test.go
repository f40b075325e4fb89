package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.IncSubmits()
		r.SetQueueDepth("t", 3)
		r.ObserveUploadPart(time.Now(), "ok")
		r.IncUploadFailure("transient")
		r.IncPartsUploaded()
		r.IncFilesCompleted()
	})
}

func TestRecorder_IncSubmits(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.IncSubmits()
	r.IncSubmits()

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range metricFamilies {
		if mf.GetName() == "s3journal_submits_total" {
			found = mf
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, float64(2), found.Metric[0].GetCounter().GetValue())
}
