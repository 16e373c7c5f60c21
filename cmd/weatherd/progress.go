package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/phrazzld/weatherdash/internal/loader"
)

// progressPrinter writes startup progress lines
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Print is a loader.ProgressFunc
func (p *progressPrinter) Print(name string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == loader.OverallProgress {
		_, _ = fmt.Fprintf(p.w, "[%3.0f%%] startup\n", fraction*100)
		return
	}
	_, _ = fmt.Fprintf(p.w, "       %s ready\n", name)
}
