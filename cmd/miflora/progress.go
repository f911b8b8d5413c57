package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal. Progress lines
// are only drawn there.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ProgressPrinter draws a single self-overwriting status line with the
// current phase and a countdown (or elapsed time when no duration is known).
//
//	p := NewProgressPrinter(os.Stderr, "Scanning for sensors", d, "Processing results")
//	p.Start()
//	defer p.Stop()
//
// Stop must be called to release the drawing goroutine. A printer is
// single-use.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	duration   time.Duration
	stopPhases map[string]struct{}
	enabled    bool

	phase     atomic.Value
	startTime time.Time
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewProgressPrinter creates a printer writing to out. A zero duration
// counts elapsed seconds instead of remaining ones. Setting any of
// stopPhases through Callback stops the printer.
func NewProgressPrinter(out io.Writer, prefix string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		duration:   duration,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		enabled:    isTerminal(out),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, ph := range stopPhases {
		p.stopPhases[ph] = struct{}{}
	}
	p.phase.Store("Starting")
	return p
}

// Start begins drawing. It panics when called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		close(p.done)
		return
	}

	p.startTime = time.Now()
	p.draw()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.draw()
			}
		}
	}()
}

func (p *ProgressPrinter) draw() {
	phase := p.phase.Load().(string)

	var seconds int
	elapsed := time.Since(p.startTime)
	if p.duration > 0 {
		if remaining := p.duration - elapsed; remaining > 0 {
			seconds = int(remaining.Seconds() + 0.5)
		}
	} else {
		seconds = int(elapsed.Seconds())
	}

	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a scanner.ProgressCallback updating the phase. It is safe
// for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop stops drawing and clears the line. Extra calls are no-ops.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if !p.started.Load() {
			return
		}
		close(p.stopCh)
		<-p.done
		if p.enabled {
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
