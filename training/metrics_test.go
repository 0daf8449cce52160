package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		logits  []float32
		labels  []int
		correct int
	}{
		{"predicts class 0 for both", []float32{2, 1, 3, -1}, []int{0, 1}, 1},
		{"all correct", []float32{2, 1, -1, 3}, []int{0, 1}, 2},
		{"tie resolves to lowest index", []float32{1, 1, 1, 1}, []int{0, 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, err := Accuracy(layers.New([]int{2, 2}, tt.logits), tt.labels)
			require.NoError(t, err)
			assert.Equal(t, tt.correct, correct)
		})
	}

	var m RunningMetrics
	correct, err := Accuracy(layers.New([]int{2, 2}, []float32{2, 1, 3, -1}), []int{0, 1})
	require.NoError(t, err)
	m.Update(0.8, correct, 2)
	assert.Equal(t, 0.5, m.Acc())

	_, err = Accuracy(layers.New([]int{2, 2}, make([]float32, 4)), []int{0})
	assert.ErrorIs(t, err, layers.ErrShapeMismatch)
}

func TestRunningMetrics(t *testing.T) {
	var m RunningMetrics
	assert.Zero(t, m.Loss())
	assert.Zero(t, m.Acc())

	m.Update(1.0, 3, 4)
	m.Update(0.5, 1, 2)
	assert.InDelta(t, 0.75, m.Loss(), 1e-12)
	assert.InDelta(t, 4.0/6.0, m.Acc(), 1e-12)
	assert.Equal(t, 2, m.Steps)

	m.Reset()
	assert.Zero(t, m.Total)
}

func TestConfusionMatrix(t *testing.T) {
	cm := NewConfusionMatrix(2)
	// true:      1 1 1 0 0 0
	// predicted: 1 1 0 1 0 0
	require.NoError(t, cm.Update([]int{1, 1, 0, 1, 0, 0}, []int{1, 1, 1, 0, 0, 0}))

	assert.Equal(t, 6, cm.TotalSamples)
	assert.InDelta(t, 4.0/6.0, cm.GetAccuracy(), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.GetMetric(Precision), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.GetMetric(Recall), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.GetMetric(F1Score), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.GetMetric(Specificity), 1e-12)
	assert.InDelta(t, 2.0/3.0, cm.GetMetric(MacroF1), 1e-12)

	assert.Error(t, cm.Update([]int{2}, []int{0}))
	assert.Error(t, cm.Update([]int{0, 1}, []int{0}))

	cm.Reset()
	assert.Zero(t, cm.TotalSamples)
	assert.Zero(t, cm.GetAccuracy())
	assert.Equal(t, "MacroF1", MacroF1.String())
}

func TestAUCAndEER(t *testing.T) {
	t.Run("perfect separation", func(t *testing.T) {
		scores := []float32{0.9, 0.8, 0.3, 0.1}
		labels := []int{1, 1, 0, 0}
		auc, err := CalculateAUCROC(scores, labels)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, auc, 1e-12)
		eer, err := CalculateEER(scores, labels)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, eer, 1e-12)
	})

	t.Run("inverted", func(t *testing.T) {
		auc, err := CalculateAUCROC([]float32{0.1, 0.2, 0.8, 0.9}, []int{1, 1, 0, 0})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, auc, 1e-12)
	})

	t.Run("all tied", func(t *testing.T) {
		scores := []float32{0.5, 0.5, 0.5, 0.5}
		labels := []int{1, 0, 1, 0}
		auc, err := CalculateAUCROC(scores, labels)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, auc, 1e-12)
		eer, err := CalculateEER(scores, labels)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, eer, 1e-12)
	})

	t.Run("one mistake", func(t *testing.T) {
		// ranking: P N P N
		auc, err := CalculateAUCROC([]float32{0.9, 0.7, 0.6, 0.1}, []int{1, 0, 1, 0})
		require.NoError(t, err)
		assert.InDelta(t, 0.75, auc, 1e-12)
	})

	t.Run("single class", func(t *testing.T) {
		_, err := CalculateAUCROC([]float32{0.1, 0.2}, []int{1, 1})
		assert.Error(t, err)
		_, err = CalculateEER([]float32{0.1}, []int{0, 1})
		assert.Error(t, err)
	})
}
