package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRunAndSelection(t *testing.T) {
	m := NewManager()

	m.RecordRun("SEM", OutcomeSuccess, 20*time.Millisecond)
	m.RecordRun("SEM", OutcomeSuccess, 30*time.Millisecond)
	m.RecordRun("SIMS", OutcomeDegenerate, time.Millisecond)
	m.RecordSelection(25, 16, []float64{10, 10, 50, 100})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("SEM", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("SIMS", OutcomeDegenerate)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.pixelsSelected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsByDwell.WithLabelValues("10")))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.lastSparsity))
	assert.Equal(t, 16.0, testutil.ToFloat64(m.lastImagePixels))
}

func TestDisabledManagerIgnoresCalls(t *testing.T) {
	m := NewManager(WithMetricsEnabled(false))
	m.RecordRun("SEM", OutcomeSuccess, time.Second)
	m.RecordSelection(10, 100, []float64{1})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pixelsSelected))

	var nilManager *Manager
	nilManager.RecordRun("SEM", OutcomeSuccess, time.Second)
	nilManager.RecordChannel(time.Second)
	assert.NoError(t, nilManager.WriteTextfile("ignored"))
}

func TestOptions(t *testing.T) {
	m := NewManager(WithNamespace("lab"), WithSubsystem("sem"), WithHistogramBuckets([]float64{1, 2}))
	assert.Equal(t, "lab", m.namespace)
	assert.Equal(t, "sem", m.subsystem)
	assert.Equal(t, []float64{1, 2}, m.histogramBuckets)
}

func TestWriteTextfile(t *testing.T) {
	m := NewManager()
	m.RecordRun("SEM", OutcomeSuccess, time.Millisecond)

	path := filepath.Join(t.TempDir(), "sparsescan.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sparsescan_sampling_runs_total")
}
