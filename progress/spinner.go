package progress

import (
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type Spinner struct {
	mu      sync.Mutex
	message string

	started time.Time
	stopped time.Time
}

func NewSpinner(message string) *Spinner {
	return &Spinner{message: message, started: time.Now()}
}

// frame is derived from the time since the spinner started.
func (s *Spinner) frame() string {
	n := int(time.Since(s.started) / (100 * time.Millisecond))
	return spinnerFrames[n%len(spinnerFrames)]
}

func (s *Spinner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	if message := strings.TrimSpace(s.message); message != "" {
		sb.WriteString(message)
		sb.WriteString(" ")
	}

	if s.stopped.IsZero() {
		sb.WriteString(s.frame())
		sb.WriteString(" ")
	}

	return sb.String()
}

func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.IsZero() {
		s.stopped = time.Now()
	}
}
