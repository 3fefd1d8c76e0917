package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticState string

func (s staticState) String() string { return string(s) }

func TestProgressStop(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	p.Add(staticState("loading"))

	assert.True(t, p.Stop())
	assert.False(t, p.Stop(), "second stop")

	out := buf.String()
	assert.Contains(t, out, "loading")
	assert.True(t, strings.HasSuffix(out, "\033[?25h"), "cursor shown")
}

func TestProgressStopAndClear(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	p.Add(staticState("one"))
	p.Add(staticState("two"))

	require.True(t, p.StopAndClear())
	assert.Contains(t, buf.String(), "\033[A\033[2K\033[1G")
}

func TestProgressStopsSpinners(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	s := NewSpinner("loading model")
	p.Add(s)
	p.Stop()

	assert.Equal(t, "loading model ", s.String())
}

func TestSpinner(t *testing.T) {
	s := NewSpinner("  working  ")
	out := s.String()
	assert.True(t, strings.HasPrefix(out, "working "))
	assert.Contains(t, spinnerFrames, strings.TrimSpace(strings.TrimPrefix(out, "working ")))

	s.SetMessage("done")
	s.Stop()
	stopped := s.stopped
	s.Stop()
	assert.Equal(t, stopped, s.stopped)
	assert.Equal(t, "done ", s.String())
}

func TestBar(t *testing.T) {
	cases := []struct {
		name     string
		fraction float32
		percent  string
		want     float64
	}{
		{"empty", 0, "  0%", 0},
		{"half", 0.5, " 50%", 0.5},
		{"full", 1, "100%", 1},
		{"clamped", 2, "100%", 1},
		{"negative", -1, "  0%", 0},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBar("weights", 2000)
			b.Set(tt.fraction)

			out := b.render(80)
			assert.True(t, strings.HasPrefix(out, "weights "+tt.percent+" "), out)
			assert.Contains(t, out, "/2.0 KB)")

			start, end := strings.Index(out, "▕"), strings.Index(out, "▏")
			require.True(t, start >= 0 && end > start, out)
			inner := []rune(out[start+len("▕") : end])
			assert.Equal(t, int(float64(len(inner))*tt.want), strings.Count(string(inner), "█"))
		})
	}
}

func TestBarNarrow(t *testing.T) {
	b := NewBar("weights", 10)
	b.Set(0.5)

	out := b.render(10)
	assert.NotContains(t, out, "▕")
	assert.Contains(t, out, "(5 B/10 B)")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1s", formatDuration(1400*time.Millisecond))
	assert.Equal(t, "2h5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "99h+", formatDuration(120*time.Hour))
}
