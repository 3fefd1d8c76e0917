// Package progress renders spinners and bars on a terminal while a model
// loads.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const defaultTermHeight = 24

type State interface {
	String() string
}

// Progress redraws its states in place every tick until stopped.
type Progress struct {
	mu sync.Mutex
	// buffer output to minimize flickering on all terminals
	w *bufio.Writer

	pos    int
	states []State

	ticker *time.Ticker
	done   chan struct{}
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:      bufio.NewWriter(w),
		ticker: time.NewTicker(100 * time.Millisecond),
		done:   make(chan struct{}),
	}

	// hide cursor
	fmt.Fprint(p.w, "\033[?25l")
	go p.start(p.ticker)
	return p
}

func (p *Progress) Add(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

func (p *Progress) stop() bool {
	p.mu.Lock()
	ticker := p.ticker
	p.ticker = nil
	states := p.states
	p.mu.Unlock()

	if ticker == nil {
		return false
	}

	ticker.Stop()
	close(p.done)

	for _, state := range states {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
	}

	p.render()
	return true
}

// Stop draws the final state and leaves it on screen.
func (p *Progress) Stop() bool {
	stopped := p.stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if stopped {
		fmt.Fprintln(p.w)
	}

	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
	return stopped
}

// StopAndClear erases every line it drew.
func (p *Progress) StopAndClear() bool {
	stopped := p.stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if stopped {
		for range p.pos - 1 {
			fmt.Fprint(p.w, "\033[A")
		}

		fmt.Fprint(p.w, "\033[2K", "\033[1G")
	}

	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
	return stopped
}

func (p *Progress) render() {
	_, termHeight, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termHeight = defaultTermHeight
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}

	fmt.Fprint(p.w, "\033[1G")

	maxHeight := min(len(p.states), termHeight)
	for i := len(p.states) - maxHeight; i < len(p.states); i++ {
		fmt.Fprint(p.w, p.states[i].String(), "\033[K")
		if i < len(p.states)-1 {
			fmt.Fprint(p.w, "\n")
		}
	}

	p.pos = len(p.states)
	p.w.Flush()
}

func (p *Progress) start(ticker *time.Ticker) {
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.render()
		}
	}
}
