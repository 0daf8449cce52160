package training

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Binary classification metrics, class 1 is positive.
	Precision MetricType = iota
	Recall
	F1Score
	Specificity

	MacroPrecision
	MacroRecall
	MacroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case Specificity:
		return "Specificity"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// Argmax returns the index of the largest logit in every row of a [N, C]
// tensor. Ties resolve to the lowest index.
func Argmax(logits *tensor.Dense) ([]int, error) {
	x, err := layers.Float32s(logits)
	if err != nil {
		return nil, err
	}
	shape := []int(logits.Shape())
	if len(shape) != 2 {
		return nil, errors.Wrapf(layers.ErrShapeMismatch, "argmax expects [N, C], got %v", shape)
	}
	n, c := shape[0], shape[1]
	preds := make([]int, n)
	for i := 0; i < n; i++ {
		preds[i] = argmaxRow(x[i*c : (i+1)*c])
	}
	return preds, nil
}

// Accuracy returns how many rows of logits have their argmax equal to the
// label.
func Accuracy(logits *tensor.Dense, labels []int) (int, error) {
	preds, err := Argmax(logits)
	if err != nil {
		return 0, err
	}
	if len(preds) != len(labels) {
		return 0, errors.Wrapf(layers.ErrShapeMismatch, "%d predictions for %d labels", len(preds), len(labels))
	}
	correct := 0
	for i, p := range preds {
		if p == labels[i] {
			correct++
		}
	}
	return correct, nil
}

// RunningMetrics accumulates loss and accuracy across the steps of one pass.
type RunningMetrics struct {
	TotalLoss float64
	Correct   int
	Total     int
	Steps     int
}

// Update records one step.
func (m *RunningMetrics) Update(loss float64, correct, n int) {
	m.TotalLoss += loss
	m.Correct += correct
	m.Total += n
	m.Steps++
}

// Loss returns the mean per-step loss seen so far.
func (m *RunningMetrics) Loss() float64 {
	if m.Steps == 0 {
		return 0
	}
	return m.TotalLoss / float64(m.Steps)
}

// Acc returns correct / total seen so far.
func (m *RunningMetrics) Acc() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Correct) / float64(m.Total)
}

// Reset clears the accumulators.
func (m *RunningMetrics) Reset() {
	*m = RunningMetrics{}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds predicted/true pairs to the matrix.
func (cm *ConfusionMatrix) Update(preds, labels []int) error {
	if len(preds) != len(labels) {
		return errors.Errorf("labels length mismatch: expected %d, got %d", len(preds), len(labels))
	}
	for i, p := range preds {
		t := labels[i]
		if t < 0 || t >= cm.NumClasses || p < 0 || p >= cm.NumClasses {
			return errors.Errorf("class out of range: true=%d predicted=%d classes=%d", t, p, cm.NumClasses)
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates an evaluation metric from the current counts.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Precision:
		return cm.precision(1)
	case Recall:
		return cm.recall(1)
	case F1Score:
		return f1(cm.precision(1), cm.recall(1))
	case Specificity:
		return cm.recall(0)
	case MacroPrecision:
		return cm.macro(cm.precision)
	case MacroRecall:
		return cm.macro(cm.recall)
	case MacroF1:
		return f1(cm.macro(cm.precision), cm.macro(cm.recall))
	default:
		return 0
	}
}

func (cm *ConfusionMatrix) precision(class int) float64 {
	if class >= cm.NumClasses {
		return 0
	}
	tp := cm.Matrix[class][class]
	predicted := 0
	for t := 0; t < cm.NumClasses; t++ {
		predicted += cm.Matrix[t][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(tp) / float64(predicted)
}

func (cm *ConfusionMatrix) recall(class int) float64 {
	if class >= cm.NumClasses {
		return 0
	}
	tp := cm.Matrix[class][class]
	actual := 0
	for p := 0; p < cm.NumClasses; p++ {
		actual += cm.Matrix[class][p]
	}
	if actual == 0 {
		return 0
	}
	return float64(tp) / float64(actual)
}

func (cm *ConfusionMatrix) macro(per func(int) float64) float64 {
	if cm.NumClasses == 0 {
		return 0
	}
	sum := 0.0
	for c := 0; c < cm.NumClasses; c++ {
		sum += per(c)
	}
	return sum / float64(cm.NumClasses)
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// ROCPoint represents a point on the ROC curve
type ROCPoint struct {
	Threshold float32
	TPR       float64 // True Positive Rate (Recall)
	FPR       float64 // False Positive Rate (1 - Specificity)
}

// ROCCurve returns the ROC curve of scores for the positive class against
// binary labels, from the highest threshold down. Tied scores form a
// single point. The first point is (0, 0).
func ROCCurve(scores []float32, labels []int) ([]ROCPoint, error) {
	if len(scores) != len(labels) {
		return nil, errors.Errorf("%d scores for %d labels", len(scores), len(labels))
	}
	idx := make([]int, len(scores))
	pos, neg := 0, 0
	for i, l := range labels {
		idx[i] = i
		if l == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return nil, errors.New("roc curve needs both positive and negative samples")
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	curve := []ROCPoint{{Threshold: float32(1e30)}}
	tp, fp := 0, 0
	for k, i := range idx {
		if labels[i] == 1 {
			tp++
		} else {
			fp++
		}
		if k+1 < len(idx) && scores[idx[k+1]] == scores[i] {
			continue
		}
		curve = append(curve, ROCPoint{
			Threshold: scores[i],
			TPR:       float64(tp) / float64(pos),
			FPR:       float64(fp) / float64(neg),
		})
	}
	return curve, nil
}

// CalculateAUCROC calculates Area Under ROC Curve for binary classification
// using the trapezoidal rule.
func CalculateAUCROC(scores []float32, labels []int) (float64, error) {
	curve, err := ROCCurve(scores, labels)
	if err != nil {
		return 0, err
	}
	auc := 0.0
	for i := 1; i < len(curve); i++ {
		auc += (curve[i].FPR - curve[i-1].FPR) * (curve[i].TPR + curve[i-1].TPR) / 2
	}
	return auc, nil
}

// CalculateEER returns the equal error rate: the point on the ROC curve
// where the false positive rate meets the false negative rate. Between
// curve points the crossing is linearly interpolated.
func CalculateEER(scores []float32, labels []int) (float64, error) {
	curve, err := ROCCurve(scores, labels)
	if err != nil {
		return 0, err
	}
	prev := curve[0]
	for _, p := range curve[1:] {
		fnr := 1 - p.TPR
		if p.FPR >= fnr {
			// diff goes from negative at prev to non-negative at p.
			d0 := prev.FPR - (1 - prev.TPR)
			d1 := p.FPR - fnr
			if d1 == d0 {
				return p.FPR, nil
			}
			t := -d0 / (d1 - d0)
			return prev.FPR + t*(p.FPR-prev.FPR), nil
		}
		prev = p
	}
	return 1, nil
}
