package main

import (
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
)

// progressScale turns a 0..1 fraction into bar units
const progressScale = 1000

// progressBar renders transfer progress on stderr
type progressBar struct {
	bar *pb.ProgressBar
	mu  sync.Mutex
}

func newProgressBar(prefix string, quiet bool) *progressBar {
	p := &progressBar{}
	if quiet {
		return p
	}
	tmpl := `{{string . "prefix"}}{{bar . }} {{percent . }} {{etime . }}`
	bar := pb.ProgressBarTemplate(tmpl).New(progressScale)
	bar.SetWriter(os.Stderr)
	bar.Set("prefix", prefix+" ")
	p.bar = bar.Start()
	return p
}

// Update sets the bar to fraction
func (p *progressBar) Update(fraction float64) {
	if p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.SetCurrent(int64(fraction * progressScale))
}

// Finish stops rendering
func (p *progressBar) Finish() {
	if p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Finish()
}
