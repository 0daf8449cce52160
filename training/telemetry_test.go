package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder("run-1")

	m := &RunningMetrics{}
	m.Update(0.4, 3, 4)
	rec.ObservePass("train", m)
	rec.ObservePass("train", m)
	rec.ObserveEpoch(2, 0.001)

	assert.InDelta(t, 0.4, testutil.ToFloat64(rec.Loss.WithLabelValues("train")), 1e-12)
	assert.InDelta(t, 0.75, testutil.ToFloat64(rec.Accuracy.WithLabelValues("train")), 1e-12)
	assert.InDelta(t, 8, testutil.ToFloat64(rec.Samples.WithLabelValues("train")), 1e-12)
	assert.InDelta(t, 2, testutil.ToFloat64(rec.Epoch), 1e-12)
	assert.InDelta(t, 0.001, testutil.ToFloat64(rec.LearningRate), 1e-12)

	path := filepath.Join(t.TempDir(), "liveness.prom")
	require.NoError(t, rec.WriteToTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `liveness_accuracy{run_id="run-1",split="train"} 0.75`)

	assert.NoError(t, rec.WriteToTextfile(""))
}
