package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpochDescription(t *testing.T) {
	assert.Equal(t, "Epoch [1/5][0.01][Train]", EpochDescription(1, 5, 0.01, "Train"))
	valid := ValidDescription(1, 5, 0.01)
	assert.Equal(t, len("Epoch [1/5][0.01]"), strings.Index(valid, "[Valid]"))
	assert.Equal(t, "", strings.TrimSpace(strings.TrimSuffix(valid, "[Valid]")))
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "Epoch [1/1][0.1][Train]", 4)

	bar.Update(1, map[string]float64{"loss": 0.5, "acc": 0.75})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\rEpoch [1/1][0.1][Train]:  25%|"))
	assert.Contains(t, out, "1/4")
	assert.Contains(t, out, "acc=75.00%")
	assert.Contains(t, out, "loss=0.5000")
	assert.Less(t, strings.Index(out, "acc="), strings.Index(out, "loss="))

	buf.Reset()
	bar.Update(2, nil)
	assert.Contains(t, buf.String(), "loss=0.5000", "metrics survive a nil update")

	buf.Reset()
	bar.Finish()
	assert.Contains(t, buf.String(), "100%")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestProgressBarNilWriter(t *testing.T) {
	bar := NewProgressBar(nil, "x", 0)
	bar.Update(0, nil)
	bar.Finish()
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00", formatDuration(0))
	assert.Equal(t, "01:05", formatDuration(65*time.Second))
	assert.Equal(t, "61:01", formatDuration(61*time.Minute+time.Second))
}
