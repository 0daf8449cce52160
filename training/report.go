package training

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataloader"
)

// ResultRow is one scored test sample.
type ResultRow struct {
	FileName string
	Scores   []float32
	Label    int
}

// TestReport is the outcome of a test pass.
type TestReport struct {
	Samples   int
	Loss      float64
	Accuracy  float64
	Rows      []ResultRow
	Confusion *ConfusionMatrix
	// AUC and EER are computed on the positive-class probability when the
	// test set holds both a positive and a negative sample.
	AUC    float64
	EER    float64
	HasROC bool
}

// Test scores the test split, writes one CSV row per sample to fileCSV and
// returns the aggregate figures.
func (r *RunModel) Test(fileCSV string) (*TestReport, error) {
	if r.test == nil {
		return nil, errors.New("test loader is required for testing")
	}

	report := &TestReport{Confusion: NewConfusionMatrix(r.cfg.NumClasses)}
	sink := func(batch *dataloader.Batch, probs []float32, classes int) error {
		if len(batch.Paths) != batch.Size() {
			return errors.Errorf("test batch carries %d paths for %d samples", len(batch.Paths), batch.Size())
		}
		preds := make([]int, batch.Size())
		for i, label := range batch.Labels {
			row := make([]float32, classes)
			copy(row, probs[i*classes:(i+1)*classes])
			preds[i] = argmaxRow(row)
			report.Rows = append(report.Rows, ResultRow{
				FileName: BaseName(batch.Paths[i]),
				Scores:   row,
				Label:    label,
			})
		}
		return report.Confusion.Update(preds, batch.Labels)
	}

	m, err := r.evaluate(r.test, "[Test]", sink)
	if err != nil {
		return nil, errors.Wrap(err, "test")
	}
	report.Samples = m.Total
	report.Loss = m.Loss()
	report.Accuracy = m.Acc()

	if r.cfg.NumClasses >= 2 {
		scores := make([]float32, len(report.Rows))
		binary := make([]int, len(report.Rows))
		for i, row := range report.Rows {
			scores[i] = row.Scores[r.cfg.PositiveClass]
			if row.Label == r.cfg.PositiveClass {
				binary[i] = 1
			}
		}
		if auc, err := CalculateAUCROC(scores, binary); err == nil {
			report.AUC = auc
			report.EER, _ = CalculateEER(scores, binary)
			report.HasROC = true
		}
	}

	if err := WriteResultsCSV(fileCSV, report.Rows); err != nil {
		return nil, err
	}

	r.recorder.ObservePass(string(SplitTest), m)
	if err := r.recorder.WriteToTextfile(r.cfg.MetricsFile); err != nil {
		r.logger.WithError(err).Warn("Metrics dump failed")
	}

	fields := log.Fields{
		"path":     fileCSV,
		"samples":  report.Samples,
		"accuracy": report.Accuracy,
		"loss":     report.Loss,
	}
	if report.HasROC {
		fields["auc"] = report.AUC
		fields["eer"] = report.EER
	}
	r.logger.WithFields(fields).Info("Saved results")
	return report, nil
}

// WriteResultsCSV writes file_name,liveness_score,label rows, replacing
// any existing file. The score column holds the class probabilities
// separated by spaces.
func WriteResultsCSV(path string, rows []ResultRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"file_name", "liveness_score", "label"})
	for _, row := range rows {
		records = append(records, []string{row.FileName, formatScores(row.Scores), strconv.Itoa(row.Label)})
	}
	return writeCSV(path, records)
}

func writeCSV(path string, records [][]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func formatScores(scores []float32) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = strconv.FormatFloat(float64(s), 'g', -1, 32)
	}
	return strings.Join(parts, " ")
}

// BaseName returns the last component of a path using either / or \ as
// the separator.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func softmaxData(logits *tensor.Dense) ([]float32, error) {
	probs, err := layers.Softmax(logits)
	if err != nil {
		return nil, err
	}
	return layers.Float32s(probs)
}

func argmaxRow(row []float32) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}
