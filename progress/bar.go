package progress

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/qwenrun/qwenrun/format"
)

const defaultTermWidth = 80

// Bar tracks the fraction of some work that is done. total is a size in
// bytes used only for display.
type Bar struct {
	mu      sync.Mutex
	message string

	total    int64
	fraction float32

	started time.Time
}

func NewBar(message string, total int64) *Bar {
	return &Bar{message: message, total: total, started: time.Now()}
}

// Set records progress as a fraction in [0, 1]. Out of range values are
// clamped.
func (b *Bar) Set(fraction float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fraction = min(max(fraction, 0), 1)
}

func (b *Bar) percent() float64 {
	return float64(b.fraction) * 100
}

// formatDuration limits the rendering of a time.Duration to 2 units
func formatDuration(d time.Duration) string {
	if d >= 100*time.Hour {
		return "99h+"
	}

	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}

	return d.Round(time.Second).String()
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = defaultTermWidth
	}

	return b.render(termWidth)
}

func (b *Bar) render(width int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pre, mid, suf strings.Builder
	if message := strings.TrimSpace(b.message); message != "" {
		pre.WriteString(message)
		pre.WriteString(" ")
	}

	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(b.percent()))

	done := int64(float64(b.total) * float64(b.fraction))
	fmt.Fprintf(&suf, "(%s/%s) [%s]", format.HumanBytes(done), format.HumanBytes(b.total), formatDuration(time.Since(b.started)))

	// 2 boundary characters and 1 space
	if f := width - pre.Len() - suf.Len() - 3; f > 0 {
		n := int(float64(f) * b.percent() / 100)
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		mid.WriteString(strings.Repeat(" ", f-n))
		mid.WriteString("▏ ")
	}

	return pre.String() + mid.String() + suf.String()
}
